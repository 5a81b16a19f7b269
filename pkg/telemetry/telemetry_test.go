package telemetry

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordMarshalFlattensFields(t *testing.T) {
	rec := Record{
		ID:        "rec-1",
		Type:      TypePacketReceived,
		Timestamp: 1234,
		NodeID:    "node-a",
		Fields:    map[string]interface{}{"peerId": "peer-b", "amount": "10"},
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var flat map[string]interface{}
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if flat["type"] != "PACKET_RECEIVED" {
		t.Errorf("type = %v", flat["type"])
	}
	if flat["peerId"] != "peer-b" {
		t.Errorf("peerId = %v, want peer-b (fields must flatten)", flat["peerId"])
	}
	if flat["nodeId"] != "node-a" {
		t.Errorf("nodeId = %v", flat["nodeId"])
	}
	if _, nested := flat["fields"]; nested {
		t.Error("fields must not appear as a nested object")
	}
}

func TestTerminalTypes(t *testing.T) {
	terminal := []Type{
		TypeAgentChannelClosed, TypePaymentChannelSettled,
		TypeSettlementCompleted, TypeXRPChannelClaimed, TypeXRPChannelClosed,
	}
	for _, typ := range terminal {
		if !typ.Terminal() {
			t.Errorf("%s should be terminal", typ)
		}
	}
	for _, typ := range []Type{TypePacketReceived, TypeAITokenUsage, TypeAgentChannelOpened} {
		if typ.Terminal() {
			t.Errorf("%s should not be terminal", typ)
		}
	}
}

func TestEmitterBuffersAndSubscribes(t *testing.T) {
	em := NewEmitter("node-a", nil, 10)
	defer em.Close()

	ch := make(chan Record, 8)
	sub := em.Subscribe(ch)
	defer sub.Unsubscribe()

	emitted := em.Emit(TypePacketReceived, map[string]interface{}{"peerId": "p1"})
	if emitted.ID == "" || emitted.NodeID != "node-a" {
		t.Fatalf("bad record: %+v", emitted)
	}

	select {
	case got := <-ch:
		if got.ID != emitted.ID {
			t.Errorf("subscriber got %s, want %s", got.ID, emitted.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the record")
	}

	recent := em.Recent(0)
	if len(recent) != 1 || recent[0].ID != emitted.ID {
		t.Errorf("Recent = %v, want the emitted record", recent)
	}
}

func TestEmitterShedsOldestNonTerminal(t *testing.T) {
	em := NewEmitter("node-a", nil, 3)
	defer em.Close()

	first := em.Emit(TypePacketReceived, nil)
	settled := em.Emit(TypePaymentChannelSettled, nil)
	em.Emit(TypePacketForwarded, nil)
	em.Emit(TypeAccountBalance, nil) // overflow: first must be shed

	recent := em.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("Recent returned %d records, want 3", len(recent))
	}
	for _, r := range recent {
		if r.ID == first.ID {
			t.Error("oldest non-terminal record survived overflow")
		}
	}
	found := false
	for _, r := range recent {
		if r.ID == settled.ID {
			found = true
		}
	}
	if !found {
		t.Error("terminal record was shed under pressure")
	}
}

func TestEmitterNeverShedsTerminal(t *testing.T) {
	em := NewEmitter("node-a", nil, 2)
	defer em.Close()

	em.Emit(TypePaymentChannelSettled, nil)
	em.Emit(TypeXRPChannelClosed, nil)
	dropped := em.Emit(TypePacketReceived, nil) // buffer all-terminal: incoming is dropped

	for _, r := range em.Recent(0) {
		if r.ID == dropped.ID {
			t.Error("non-terminal record displaced a terminal one")
		}
		if !r.Type.Terminal() {
			t.Errorf("unexpected non-terminal record %s in buffer", r.Type)
		}
	}
}

func TestStoreSaveAndQuery(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	em := NewEmitter("node-a", store, 10)
	defer em.Close()

	em.Emit(TypePacketReceived, map[string]interface{}{"peerId": "peer-1", "direction": "inbound"})
	em.Emit(TypePacketForwarded, map[string]interface{}{"peerId": "peer-2", "direction": "outbound"})
	em.Emit(TypeAITokenUsage, map[string]interface{}{"totalTokens": 42})

	all, err := store.Query(StoreFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Query returned %d records, want 3", len(all))
	}

	byType, err := store.Query(StoreFilter{Types: []string{string(TypePacketReceived)}})
	if err != nil {
		t.Fatalf("Query by type: %v", err)
	}
	if len(byType) != 1 || byType[0].Type != TypePacketReceived {
		t.Errorf("type filter returned %v", byType)
	}

	byPeer, err := store.Query(StoreFilter{PeerID: "peer-2"})
	if err != nil {
		t.Fatalf("Query by peer: %v", err)
	}
	if len(byPeer) != 1 || byPeer[0].Type != TypePacketForwarded {
		t.Errorf("peer filter returned %v", byPeer)
	}

	byDirection, err := store.Query(StoreFilter{Direction: "inbound"})
	if err != nil {
		t.Fatalf("Query by direction: %v", err)
	}
	if len(byDirection) != 1 {
		t.Errorf("direction filter returned %d records, want 1", len(byDirection))
	}
}

func TestStoreQueryPaging(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	for i := 0; i < 5; i++ {
		rec := newRecord("node-a", TypeAccountBalance, map[string]interface{}{"seq": i})
		rec.Timestamp = int64(1000 + i)
		if err := store.Save(rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	page, err := store.Query(StoreFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	if page[0].Timestamp != 1003 || page[1].Timestamp != 1002 {
		t.Errorf("paging order wrong: %d, %d", page[0].Timestamp, page[1].Timestamp)
	}

	windowed, err := store.Query(StoreFilter{Since: 1001, Until: 1002})
	if err != nil {
		t.Fatalf("Query window: %v", err)
	}
	if len(windowed) != 2 {
		t.Errorf("window returned %d records, want 2", len(windowed))
	}
}
