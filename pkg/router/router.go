package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentmesh/agentmesh-go/pkg/event"
)

// ErrNoRoute is returned by callers resolving a destination with no
// matching peer.
var ErrNoRoute = errors.New("router: no route to destination")

// Peer is one entry in the peer directory.
type Peer struct {
	ID         string    `json:"peerId"`
	Address    string    `json:"address"`
	URL        string    `json:"url,omitempty"`
	EVMAccount string    `json:"evmAccount,omitempty"`
	XRPAccount string    `json:"xrpAccount,omitempty"`
	Live       bool      `json:"live"`
	AddedAt    time.Time `json:"addedAt"`
}

// Follow is one follow-graph entry, keyed by the counterpart's public key.
type Follow struct {
	PubKey     string `json:"pubkey"`
	Address    string `json:"ilpAddress"`
	Petname    string `json:"petname,omitempty"`
	BTPURL     string `json:"btpUrl,omitempty"`
	EVMAddress string `json:"evmAddress,omitempty"`
	XRPAddress string `json:"xrpAddress,omitempty"`
}

// Router owns the peer directory and follow graph.
type Router struct {
	mu      sync.RWMutex
	peers   map[string]Peer
	follows map[string]Follow
}

// New returns an empty router.
func New() *Router {
	return &Router{
		peers:   make(map[string]Peer),
		follows: make(map[string]Follow),
	}
}

// ValidAddress reports whether s is a well-formed dotted-prefix address.
func ValidAddress(s string) bool {
	if s == "" {
		return false
	}
	for _, seg := range strings.Split(s, ".") {
		if seg == "" {
			return false
		}
	}
	return true
}

// UpsertPeer inserts or replaces the directory entry for p.ID.
func (r *Router) UpsertPeer(p Peer) error {
	if p.ID == "" {
		return fmt.Errorf("router: peer id required")
	}
	if !ValidAddress(p.Address) {
		return fmt.Errorf("router: invalid peer address %q", p.Address)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.peers[p.ID]; ok {
		p.AddedAt = existing.AddedAt
	} else if p.AddedAt.IsZero() {
		p.AddedAt = time.Now()
	}
	r.peers[p.ID] = p
	return nil
}

// RemovePeer drops the directory entry for id, if present.
func (r *Router) RemovePeer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
}

// Peer returns a snapshot of the entry for id.
func (r *Router) Peer(id string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Peers returns a snapshot of the directory, ordered by peer id.
func (r *Router) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetLive flips the live flag for id.
func (r *Router) SetLive(id string, live bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return fmt.Errorf("router: unknown peer %q", id)
	}
	p.Live = live
	r.peers[id] = p
	return nil
}

// NextHop returns the peer whose address is the longest segment-wise prefix
// of destination. Live peers win ties; remaining ties resolve to the
// lexicographically smallest peer id so routing is deterministic.
func (r *Router) NextHop(destination string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best    Peer
		bestLen int
		found   bool
	)
	for _, p := range r.peers {
		n := prefixSegments(p.Address, destination)
		if n == 0 {
			continue
		}
		switch {
		case !found, n > bestLen:
		case n == bestLen && p.Live && !best.Live:
		case n == bestLen && p.Live == best.Live && p.ID < best.ID:
		default:
			continue
		}
		best, bestLen, found = p, n, true
	}
	return best, found
}

// prefixSegments returns the number of address segments when address is a
// segment-wise prefix of destination, else 0.
func prefixSegments(address, destination string) int {
	if address == "" || destination == "" {
		return 0
	}
	if destination != address && !strings.HasPrefix(destination, address+".") {
		return 0
	}
	return strings.Count(address, ".") + 1
}

// SetFollow inserts or replaces the follow entry for f.PubKey.
func (r *Router) SetFollow(f Follow) error {
	if !event.ValidPubKey(f.PubKey) {
		return fmt.Errorf("router: invalid follow pubkey %q", f.PubKey)
	}
	if !ValidAddress(f.Address) {
		return fmt.Errorf("router: invalid follow address %q", f.Address)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.follows[f.PubKey] = f
	return nil
}

// RemoveFollow drops the entry for pubkey, if present.
func (r *Router) RemoveFollow(pubkey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.follows, pubkey)
}

// Follow returns a snapshot of the entry for pubkey.
func (r *Router) Follow(pubkey string) (Follow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.follows[pubkey]
	return f, ok
}

// Follows returns a snapshot of the follow graph, ordered by pubkey.
func (r *Router) Follows() []Follow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Follow, 0, len(r.follows))
	for _, f := range r.follows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PubKey < out[j].PubKey })
	return out
}

// ApplyFollowList replaces the follow graph with the "p" tags of a
// follow-list event. Tag layout: ["p", pubkey, address?, petname?]. Entries
// with a malformed pubkey are skipped. Transport and settlement hints of
// surviving keys are preserved. Returns the new follow count.
func (r *Router) ApplyFollowList(ev *event.Event) (int, error) {
	if ev == nil || ev.Kind != event.KindFollows {
		return 0, fmt.Errorf("router: not a follow-list event")
	}

	next := make(map[string]Follow)
	for _, t := range ev.TagsByName("p") {
		pubkey := t.Value()
		if !event.ValidPubKey(pubkey) {
			continue
		}
		f := Follow{PubKey: pubkey}
		if len(t) > 2 && ValidAddress(t[2]) {
			f.Address = t[2]
		}
		if len(t) > 3 {
			f.Petname = t[3]
		}
		next[pubkey] = f
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for pubkey, f := range next {
		if prev, ok := r.follows[pubkey]; ok {
			if f.Address == "" {
				f.Address = prev.Address
			}
			if f.Petname == "" {
				f.Petname = prev.Petname
			}
			f.BTPURL = prev.BTPURL
			f.EVMAddress = prev.EVMAddress
			f.XRPAddress = prev.XRPAddress
		}
		next[pubkey] = f
	}
	r.follows = next
	return len(next), nil
}
