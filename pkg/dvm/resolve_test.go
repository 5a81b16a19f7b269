package dvm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/agentmesh/agentmesh-go/pkg/event"
	"github.com/agentmesh/agentmesh-go/pkg/eventdb"
)

func openTestDB(t *testing.T) *eventdb.DB {
	t.Helper()
	db, err := eventdb.Open(eventdb.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func storedEvent(t *testing.T, db *eventdb.DB, id string, kind int, createdAt int64, tags []event.Tag) *event.Event {
	t.Helper()
	ev := &event.Event{ID: id, PubKey: "author", CreatedAt: createdAt, Kind: kind, Tags: tags, Content: "content-" + id}
	if err := db.Insert(ev); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
	return ev
}

// jobChain stores a chain of length n where request i depends on result i-1
// and returns the final request. Timestamps increase along the chain.
func jobChain(t *testing.T, db *eventdb.DB, n int) *JobRequest {
	t.Helper()
	base := int64(1000)
	// result-0 anchors the chain so even request-1 carries a dependency; its
	// originating request is not stored, which ends the recursion.
	storedEvent(t, db, "result-0", 6050, base, []event.Tag{
		{"e", "request-0"},
		{"status", StatusSuccess},
	})
	var lastReq *event.Event
	for i := 1; i <= n; i++ {
		reqTags := []event.Tag{
			{"e", fmt.Sprintf("result-%d", i-1), "", "dependency"},
		}
		req := &event.Event{
			ID: fmt.Sprintf("request-%d", i), PubKey: "author",
			CreatedAt: base + int64(2*i), Kind: 5050, Tags: reqTags,
		}
		if err := db.Insert(req); err != nil {
			t.Fatalf("insert request-%d: %v", i, err)
		}
		storedEvent(t, db, fmt.Sprintf("result-%d", i), 6050, base+int64(2*i)+1, []event.Tag{
			{"e", req.ID},
			{"status", StatusSuccess},
		})
		lastReq = req
	}
	job, err := ParseJobRequest(lastReq)
	if err != nil {
		t.Fatalf("parse final request: %v", err)
	}
	return job
}

func TestResolveNoDependencies(t *testing.T) {
	db := openTestDB(t)
	job, err := ParseJobRequest(&event.Event{
		ID: "bare-request", PubKey: "author", CreatedAt: 2000, Kind: 5050,
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := Resolve(job, db)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("resolved = %d, want 0", len(out))
	}
}

func TestResolveChain(t *testing.T) {
	db := openTestDB(t)
	job := jobChain(t, db, 4)
	out, err := Resolve(job, db)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Every upstream result participates.
	for i := 1; i <= 3; i++ {
		rec, ok := out[fmt.Sprintf("result-%d", i)]
		if !ok {
			t.Fatalf("result-%d missing from resolution", i)
		}
		if rec.Kind != 6050 || rec.Status != StatusSuccess {
			t.Errorf("result-%d = %+v", i, rec)
		}
		if rec.CreatedAt >= job.Event.CreatedAt {
			t.Errorf("result-%d timestamp %d not before job %d", i, rec.CreatedAt, job.Event.CreatedAt)
		}
	}
}

func TestResolveDepthCap(t *testing.T) {
	db := openTestDB(t)

	// A 10-element chain resolves; a 12-element chain exceeds the cap.
	if _, err := Resolve(jobChain(t, db, 10), db); err != nil {
		t.Fatalf("depth 10: %v", err)
	}

	db2 := openTestDB(t)
	if _, err := Resolve(jobChain(t, db2, 12), db2); !errors.Is(err, ErrMaxDepthExceeded) {
		t.Fatalf("depth 12: err = %v, want ErrMaxDepthExceeded", err)
	}
}

func TestResolveMissingDependency(t *testing.T) {
	db := openTestDB(t)
	job, err := ParseJobRequest(&event.Event{
		ID: "req", PubKey: "author", CreatedAt: 2000, Kind: 5050,
		Tags: []event.Tag{{"e", "nowhere", "", "dependency"}},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Resolve(job, db); !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("err = %v, want ErrMissingDependency", err)
	}
}

func TestResolveRejectsNonResultKind(t *testing.T) {
	db := openTestDB(t)
	storedEvent(t, db, "not-a-result", 1, 1000, nil)
	job, err := ParseJobRequest(&event.Event{
		ID: "req", PubKey: "author", CreatedAt: 2000, Kind: 5050,
		Tags: []event.Tag{{"e", "not-a-result", "", "dependency"}},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Resolve(job, db); !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("err = %v, want ErrMissingDependency", err)
	}
}

func TestResolveRejectsFutureDependency(t *testing.T) {
	db := openTestDB(t)
	storedEvent(t, db, "late-result", 6050, 3000, []event.Tag{{"status", StatusSuccess}})
	job, err := ParseJobRequest(&event.Event{
		ID: "req", PubKey: "author", CreatedAt: 2000, Kind: 5050,
		Tags: []event.Tag{{"e", "late-result", "", "dependency"}},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Resolve(job, db); !errors.Is(err, ErrInvalidDependencyTimestamp) {
		t.Fatalf("err = %v, want ErrInvalidDependencyTimestamp", err)
	}
}

func TestResolveCircularDependency(t *testing.T) {
	db := openTestDB(t)

	// request-a depends on result-b, whose request depends on result-a,
	// whose originating request is request-a again.
	storedEvent(t, db, "request-a", 5050, 4000, []event.Tag{{"e", "result-b", "", "dependency"}})
	storedEvent(t, db, "result-b", 6050, 3000, []event.Tag{{"e", "request-b"}})
	storedEvent(t, db, "request-b", 5050, 2500, []event.Tag{{"e", "result-a", "", "dependency"}})
	storedEvent(t, db, "result-a", 6050, 2000, []event.Tag{{"e", "request-a"}})

	reqA, err := db.GetByID("request-a")
	if err != nil {
		t.Fatalf("get request-a: %v", err)
	}
	job, err := ParseJobRequest(reqA)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Resolve(job, db); !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("err = %v, want ErrCircularDependency", err)
	}
}

func TestResolveUnknownStatusDefaultsToSuccess(t *testing.T) {
	db := openTestDB(t)
	storedEvent(t, db, "odd-result", 6050, 1000, []event.Tag{{"status", "weird"}})
	job, err := ParseJobRequest(&event.Event{
		ID: "req", PubKey: "author", CreatedAt: 2000, Kind: 5050,
		Tags: []event.Tag{{"e", "odd-result", "", "dependency"}},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := Resolve(job, db)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out["odd-result"].Status != StatusSuccess {
		t.Errorf("status = %q, want success", out["odd-result"].Status)
	}
}
