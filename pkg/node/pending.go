package node

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// ErrPendingExists is returned when a second prepare is offered to a peer
// that already has one in flight. Peers are RPC-serial in this core; the
// pending record doubles as the idempotency token for channel mutation.
var ErrPendingExists = errors.New("node: a prepare is already in flight to this peer")

// pendingPacket is one outstanding outbound prepare.
type pendingPacket struct {
	PeerID      string
	EventID     string
	Destination string
	Amount      *big.Int
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// pendingTable tracks outstanding prepares keyed by peer id. Records are
// created before the frame is written and removed exactly once, by the
// response or by the sweeper — whichever comes first owns the follow-up
// channel mutation.
type pendingTable struct {
	mu     sync.Mutex
	byPeer map[string]pendingPacket
}

func newPendingTable() *pendingTable {
	return &pendingTable{byPeer: make(map[string]pendingPacket)}
}

// Create inserts a record for p.PeerID, refusing a second in-flight prepare.
func (t *pendingTable) Create(p pendingPacket) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.byPeer[p.PeerID]; busy {
		return fmt.Errorf("%w: %s", ErrPendingExists, p.PeerID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	t.byPeer[p.PeerID] = p
	return nil
}

// Complete removes and returns the record for peerID. The second caller for
// the same record gets ok=false, which is what makes duplicate responses
// harmless.
func (t *pendingTable) Complete(peerID string) (pendingPacket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byPeer[peerID]
	if ok {
		delete(t.byPeer, peerID)
	}
	return p, ok
}

// Drop removes the record for peerID without returning it.
func (t *pendingTable) Drop(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPeer, peerID)
}

// Expired removes and returns every record whose expiry is at or before now.
func (t *pendingTable) Expired(now time.Time) []pendingPacket {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []pendingPacket
	for peer, p := range t.byPeer {
		if !p.ExpiresAt.After(now) {
			out = append(out, p)
			delete(t.byPeer, peer)
		}
	}
	return out
}

// Len returns the number of outstanding prepares.
func (t *pendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byPeer)
}
