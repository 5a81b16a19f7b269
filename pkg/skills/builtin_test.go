package skills

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentmesh/agentmesh-go/pkg/btp"
	"github.com/agentmesh/agentmesh-go/pkg/event"
	"github.com/agentmesh/agentmesh-go/pkg/eventdb"
	"github.com/agentmesh/agentmesh-go/pkg/router"
)

func testDB(t *testing.T) *eventdb.DB {
	t.Helper()
	db, err := eventdb.Open(eventdb.Options{Path: filepath.Join(t.TempDir(), "events.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func signedEvent(t *testing.T, kind int, content string, tags []event.Tag) *event.Event {
	t.Helper()
	priv, err := event.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	ev := event.New(kind, content, tags)
	if err := ev.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return ev
}

func dctx(ev *event.Event, db *eventdb.DB) *Context {
	return &Context{
		Ctx:          context.Background(),
		Event:        ev,
		PeerID:       "peer-test",
		Amount:       big.NewInt(10),
		DB:           db,
		AgentID:      "agent-under-test",
		AgentPubKey:  strings.Repeat("ee", 32),
		AgentAddress: "g.agent.test",
	}
}

func TestStoreEventSkill(t *testing.T) {
	db := testDB(t)
	ev := signedEvent(t, event.KindNote, "note body", nil)

	res := StoreEvent(db).Execute(nil, dctx(ev, db))
	if !res.Success {
		t.Fatalf("store failed: %+v", res.Error)
	}
	got, err := db.GetByID(ev.ID)
	if err != nil || got.Content != "note body" {
		t.Errorf("event not stored: %v %v", got, err)
	}
}

func TestStoreEventSkillStorageLimit(t *testing.T) {
	db, err := eventdb.Open(eventdb.Options{Path: filepath.Join(t.TempDir(), "events.db"), MaxEvents: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	skill := StoreEvent(db)

	first := signedEvent(t, event.KindNote, "fits", nil)
	if res := skill.Execute(nil, dctx(first, db)); !res.Success {
		t.Fatalf("first store failed: %+v", res.Error)
	}
	second := signedEvent(t, event.KindNote, "overflow", nil)
	res := skill.Execute(nil, dctx(second, db))
	if res.Success || res.Error.Code != btp.CodeStorageLimit {
		t.Errorf("expected %s, got %+v", btp.CodeStorageLimit, res)
	}
}

func TestUpdateFollowsSkill(t *testing.T) {
	db := testDB(t)
	rt := router.New()
	followed := strings.Repeat("cd", 32)
	ev := signedEvent(t, event.KindFollows, "", []event.Tag{{"p", followed, "g.agent.friend", "friend"}})

	res := UpdateFollows(db, rt).Execute(nil, dctx(ev, db))
	if !res.Success {
		t.Fatalf("update failed: %+v", res.Error)
	}
	f, ok := rt.Follow(followed)
	if !ok || f.Address != "g.agent.friend" {
		t.Errorf("follow not applied: %+v ok=%v", f, ok)
	}
	if _, err := db.GetByID(ev.ID); err != nil {
		t.Errorf("follow-list event not stored: %v", err)
	}
}

func TestDeleteEventsSkill(t *testing.T) {
	db := testDB(t)
	priv, err := event.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	target := event.New(event.KindNote, "to be deleted", nil)
	if err := target.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := db.Insert(target); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	deletion := event.New(event.KindDeletion, "", []event.Tag{{"e", target.ID}})
	if err := deletion.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	res := DeleteEvents(db).Execute(nil, dctx(deletion, db))
	if !res.Success {
		t.Fatalf("delete failed: %+v", res.Error)
	}
	if _, err := db.GetByID(target.ID); !errors.Is(err, eventdb.ErrNotFound) {
		t.Error("target event survived deletion")
	}
}

func TestDeleteEventsSkillRejectsEmpty(t *testing.T) {
	db := testDB(t)
	deletion := signedEvent(t, event.KindDeletion, "", nil)
	res := DeleteEvents(db).Execute(nil, dctx(deletion, db))
	if res.Success || res.Error.Code != btp.CodeMalformed {
		t.Errorf("expected %s, got %+v", btp.CodeMalformed, res)
	}
}

func TestQueryEventsSkill(t *testing.T) {
	db := testDB(t)
	note := signedEvent(t, event.KindNote, "findable", nil)
	if err := db.Insert(note); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	query := signedEvent(t, event.KindQuery, `{"kinds":[1]}`, nil)
	res := QueryEvents(db).Execute(nil, dctx(query, db))
	if !res.Success {
		t.Fatalf("query failed: %+v", res.Error)
	}
	if res.ResponseEvent == nil || res.ResponseEvent.Kind != event.KindQuery {
		t.Fatalf("unexpected response event: %+v", res.ResponseEvent)
	}

	var matches []*event.Event
	if err := json.Unmarshal([]byte(res.ResponseEvent.Content), &matches); err != nil {
		t.Fatalf("response content not a JSON event array: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != note.ID {
		t.Errorf("matches = %v, want the stored note", matches)
	}
	if res.ResponseEvent.TagValue("e") != query.ID {
		t.Error("response does not reference the query event")
	}
}

func TestQueryEventsSkillMalformedFilter(t *testing.T) {
	db := testDB(t)
	query := signedEvent(t, event.KindQuery, "{not json", nil)
	res := QueryEvents(db).Execute(nil, dctx(query, db))
	if res.Success || res.Error.Code != btp.CodeMalformed {
		t.Errorf("expected %s, got %+v", btp.CodeMalformed, res)
	}
}

func TestAgentInfoSkill(t *testing.T) {
	db := testDB(t)
	reg := NewRegistry()
	if err := reg.Register(noopSkill("store_event", 0, 1)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	req := signedEvent(t, event.KindAgentInfo, "", nil)
	res := AgentInfo(reg).Execute(nil, dctx(req, db))
	if !res.Success || res.ResponseEvent == nil {
		t.Fatalf("info failed: %+v", res)
	}

	var card infoCard
	if err := json.Unmarshal([]byte(res.ResponseEvent.Content), &card); err != nil {
		t.Fatalf("card not JSON: %v", err)
	}
	if card.AgentID != "agent-under-test" || card.Address != "g.agent.test" {
		t.Errorf("card identity wrong: %+v", card)
	}
	if len(card.Skills) != 1 || card.Skills[0].Name != "store_event" {
		t.Errorf("card skills wrong: %+v", card.Skills)
	}
}

type fakeForwarder struct {
	dest   string
	amount *big.Int
	err    error
}

func (f *fakeForwarder) ForwardEvent(_ context.Context, destination string, _ *event.Event, amount *big.Int) error {
	f.dest = destination
	f.amount = amount
	return f.err
}

func TestForwardEventSkill(t *testing.T) {
	db := testDB(t)
	fw := &fakeForwarder{}
	ev := signedEvent(t, event.KindNote, "pass it on", nil)

	res := ForwardEvent(fw).Execute(map[string]interface{}{
		"destination": "g.agent.next",
		"amount":      float64(25),
	}, dctx(ev, db))
	if !res.Success {
		t.Fatalf("forward failed: %+v", res.Error)
	}
	if fw.dest != "g.agent.next" || fw.amount.Int64() != 25 {
		t.Errorf("forwarder got dest=%s amount=%v", fw.dest, fw.amount)
	}
}

func TestForwardEventSkillNoRoute(t *testing.T) {
	db := testDB(t)
	fw := &fakeForwarder{err: router.ErrNoRoute}
	ev := signedEvent(t, event.KindNote, "dead end", nil)

	res := ForwardEvent(fw).Execute(map[string]interface{}{"destination": "g.agent.ghost"}, dctx(ev, db))
	if res.Success || res.Error.Code != btp.CodeNoRoute {
		t.Errorf("expected %s, got %+v", btp.CodeNoRoute, res)
	}
}

func TestForwardEventSkillInvalidDestination(t *testing.T) {
	db := testDB(t)
	fw := &fakeForwarder{}
	ev := signedEvent(t, event.KindNote, "nowhere", nil)

	res := ForwardEvent(fw).Execute(map[string]interface{}{"destination": ".bad."}, dctx(ev, db))
	if res.Success || res.Error.Code != btp.CodeMalformed {
		t.Errorf("expected %s, got %+v", btp.CodeMalformed, res)
	}
}
