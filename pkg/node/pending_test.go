package node

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestPendingCreateRefusesSecondInFlight(t *testing.T) {
	tbl := newPendingTable()
	rec := pendingPacket{
		PeerID:    "peer-a",
		EventID:   "ev-1",
		Amount:    big.NewInt(10),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	if err := tbl.Create(rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := tbl.Create(pendingPacket{PeerID: "peer-a", EventID: "ev-2", Amount: big.NewInt(5)})
	if !errors.Is(err, ErrPendingExists) {
		t.Fatalf("err = %v, want ErrPendingExists", err)
	}
	if err := tbl.Create(pendingPacket{PeerID: "peer-b", EventID: "ev-3", Amount: big.NewInt(5), ExpiresAt: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("second peer refused: %v", err)
	}
	if tbl.Len() != 2 {
		t.Errorf("len = %d, want 2", tbl.Len())
	}
}

func TestPendingCompleteIsExactlyOnce(t *testing.T) {
	tbl := newPendingTable()
	rec := pendingPacket{
		PeerID:    "peer-a",
		EventID:   "ev-1",
		Amount:    big.NewInt(10),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	if err := tbl.Create(rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, ok := tbl.Complete("peer-a")
	if !ok || got.EventID != "ev-1" {
		t.Fatalf("complete = %+v, %v", got, ok)
	}
	if _, ok := tbl.Complete("peer-a"); ok {
		t.Fatal("duplicate completion returned a record")
	}
	if err := tbl.Create(rec); err != nil {
		t.Fatalf("peer not released after completion: %v", err)
	}
}

func TestPendingExpiredSweepsOnlyStale(t *testing.T) {
	tbl := newPendingTable()
	now := time.Now()
	tbl.Create(pendingPacket{PeerID: "stale", EventID: "a", Amount: big.NewInt(1), ExpiresAt: now.Add(-time.Second)})
	tbl.Create(pendingPacket{PeerID: "fresh", EventID: "b", Amount: big.NewInt(1), ExpiresAt: now.Add(time.Minute)})

	swept := tbl.Expired(now)
	if len(swept) != 1 || swept[0].PeerID != "stale" {
		t.Fatalf("swept = %+v", swept)
	}
	if _, ok := tbl.Complete("fresh"); !ok {
		t.Error("fresh record swept")
	}
	if _, ok := tbl.Complete("stale"); ok {
		t.Error("stale record still present")
	}
}
