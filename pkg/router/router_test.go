package router

import (
	"strings"
	"testing"

	"github.com/agentmesh/agentmesh-go/pkg/event"
)

func TestValidAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"g.agent.alice", true},
		{"g", true},
		{"", false},
		{".g.agent", false},
		{"g.agent.", false},
		{"g..agent", false},
	}
	for _, tt := range tests {
		if got := ValidAddress(tt.addr); got != tt.want {
			t.Errorf("ValidAddress(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestUpsertAndListPeers(t *testing.T) {
	r := New()
	if err := r.UpsertPeer(Peer{ID: "b", Address: "g.agent.bob"}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	if err := r.UpsertPeer(Peer{ID: "a", Address: "g.agent.alice"}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	if err := r.UpsertPeer(Peer{ID: "", Address: "g.x"}); err == nil {
		t.Error("accepted empty peer id")
	}
	if err := r.UpsertPeer(Peer{ID: "c", Address: ""}); err == nil {
		t.Error("accepted empty address")
	}

	peers := r.Peers()
	if len(peers) != 2 || peers[0].ID != "a" || peers[1].ID != "b" {
		t.Errorf("Peers() = %v, want [a b] ordered", peers)
	}
}

func TestSetLive(t *testing.T) {
	r := New()
	if err := r.UpsertPeer(Peer{ID: "a", Address: "g.agent.alice"}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	if err := r.SetLive("a", true); err != nil {
		t.Fatalf("SetLive: %v", err)
	}
	p, _ := r.Peer("a")
	if !p.Live {
		t.Error("peer not marked live")
	}
	if err := r.SetLive("ghost", true); err == nil {
		t.Error("SetLive accepted unknown peer")
	}
}

func TestNextHopLongestPrefix(t *testing.T) {
	r := New()
	for _, p := range []Peer{
		{ID: "root", Address: "g"},
		{ID: "agents", Address: "g.agent"},
		{ID: "alice", Address: "g.agent.alice"},
	} {
		if err := r.UpsertPeer(p); err != nil {
			t.Fatalf("UpsertPeer: %v", err)
		}
	}

	tests := []struct {
		dest   string
		wantID string
		wantOK bool
	}{
		{"g.agent.alice", "alice", true},
		{"g.agent.alice.sub", "alice", true},
		{"g.agent.bob", "agents", true},
		{"g.other", "root", true},
		{"h.elsewhere", "", false},
		{"g.agent.alicey", "agents", true}, // segment-wise, not string-wise
	}
	for _, tt := range tests {
		got, ok := r.NextHop(tt.dest)
		if ok != tt.wantOK {
			t.Errorf("NextHop(%q) ok = %v, want %v", tt.dest, ok, tt.wantOK)
			continue
		}
		if ok && got.ID != tt.wantID {
			t.Errorf("NextHop(%q) = %s, want %s", tt.dest, got.ID, tt.wantID)
		}
	}
}

func TestNextHopPrefersLiveOnTie(t *testing.T) {
	r := New()
	if err := r.UpsertPeer(Peer{ID: "dead", Address: "g.agent.x"}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	if err := r.UpsertPeer(Peer{ID: "zlive", Address: "g.agent.y", Live: true}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	if err := r.UpsertPeer(Peer{ID: "p1", Address: "g.dest"}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	if err := r.UpsertPeer(Peer{ID: "p2", Address: "g.dest", Live: true}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}

	got, ok := r.NextHop("g.dest.service")
	if !ok || got.ID != "p2" {
		t.Errorf("NextHop = %v ok=%v, want live peer p2", got, ok)
	}
}

func TestFollowCRUD(t *testing.T) {
	r := New()
	key := strings.Repeat("ab", 32)
	if err := r.SetFollow(Follow{PubKey: key, Address: "g.agent.alice", Petname: "alice"}); err != nil {
		t.Fatalf("SetFollow: %v", err)
	}
	if err := r.SetFollow(Follow{PubKey: "bad", Address: "g.x"}); err == nil {
		t.Error("accepted malformed pubkey")
	}

	f, ok := r.Follow(key)
	if !ok || f.Petname != "alice" {
		t.Errorf("Follow = %v ok=%v", f, ok)
	}
	if got := len(r.Follows()); got != 1 {
		t.Errorf("Follows length = %d, want 1", got)
	}

	r.RemoveFollow(key)
	if _, ok := r.Follow(key); ok {
		t.Error("follow survived removal")
	}
}

func TestApplyFollowListReplacesAndPreservesHints(t *testing.T) {
	r := New()
	kept := strings.Repeat("aa", 32)
	dropped := strings.Repeat("bb", 32)
	added := strings.Repeat("cc", 32)

	if err := r.SetFollow(Follow{
		PubKey: kept, Address: "g.agent.kept", Petname: "old-name",
		BTPURL: "ws://kept:3000", EVMAddress: "0xabc",
	}); err != nil {
		t.Fatalf("SetFollow: %v", err)
	}
	if err := r.SetFollow(Follow{PubKey: dropped, Address: "g.agent.dropped"}); err != nil {
		t.Fatalf("SetFollow: %v", err)
	}

	ev := event.New(event.KindFollows, "", []event.Tag{
		{"p", kept, "g.agent.kept.new", "new-name"},
		{"p", added, "g.agent.added"},
		{"p", "not-a-key"},
	})

	n, err := r.ApplyFollowList(ev)
	if err != nil {
		t.Fatalf("ApplyFollowList: %v", err)
	}
	if n != 2 {
		t.Errorf("ApplyFollowList count = %d, want 2", n)
	}

	if _, ok := r.Follow(dropped); ok {
		t.Error("entry missing from the new list survived")
	}
	f, ok := r.Follow(kept)
	if !ok {
		t.Fatal("kept entry missing")
	}
	if f.Address != "g.agent.kept.new" || f.Petname != "new-name" {
		t.Errorf("kept entry not updated: %+v", f)
	}
	if f.BTPURL != "ws://kept:3000" || f.EVMAddress != "0xabc" {
		t.Errorf("transport hints not preserved: %+v", f)
	}
	if _, ok := r.Follow(added); !ok {
		t.Error("new entry missing")
	}
}

func TestApplyFollowListRejectsWrongKind(t *testing.T) {
	r := New()
	ev := event.New(event.KindNote, "not follows", nil)
	if _, err := r.ApplyFollowList(ev); err == nil {
		t.Error("accepted a non-follow-list event")
	}
}
