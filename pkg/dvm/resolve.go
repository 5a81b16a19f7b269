package dvm

import (
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/agentmesh/agentmesh-go/pkg/event"
	"github.com/agentmesh/agentmesh-go/pkg/eventdb"
)

// MaxResolveDepth caps recursive dependency resolution.
const MaxResolveDepth = 10

// Resolution failures.
var (
	ErrMaxDepthExceeded           = errors.New("dvm: max dependency depth exceeded")
	ErrCircularDependency         = errors.New("dvm: circular dependency")
	ErrMissingDependency          = errors.New("dvm: missing dependency")
	ErrInvalidDependencyTimestamp = errors.New("dvm: dependency is not older than the job")
)

// Resolved is one resolved dependency record.
type Resolved struct {
	Kind      int    `json:"kind"`
	Content   string `json:"content"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// Resolve walks the job's dependency chain over the database snapshot and
// returns dependency id to resolved record. It fails with one of the
// resolution errors above; it never mutates the database.
func Resolve(job *JobRequest, db *eventdb.DB) (map[string]Resolved, error) {
	return resolve(job, db, 0, mapset.NewSet[string]())
}

func resolve(job *JobRequest, db *eventdb.DB, depth int, visited mapset.Set[string]) (map[string]Resolved, error) {
	if depth > MaxResolveDepth {
		return nil, fmt.Errorf("%w: depth %d", ErrMaxDepthExceeded, depth)
	}
	if len(job.Dependencies) == 0 {
		return map[string]Resolved{}, nil
	}
	if visited.Contains(job.Event.ID) {
		return nil, fmt.Errorf("%w: %s", ErrCircularDependency, job.Event.ID)
	}
	visited.Add(job.Event.ID)

	out := make(map[string]Resolved, len(job.Dependencies))
	for _, depID := range job.Dependencies {
		dep, err := db.GetByID(depID)
		if err != nil {
			if errors.Is(err, eventdb.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrMissingDependency, depID)
			}
			return nil, err
		}
		if !event.IsJobResultKind(dep.Kind) {
			return nil, fmt.Errorf("%w: %s has kind %d", ErrMissingDependency, depID, dep.Kind)
		}
		if dep.CreatedAt >= job.Event.CreatedAt {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDependencyTimestamp, depID)
		}

		out[depID] = Resolved{
			Kind:      dep.Kind,
			Content:   dep.Content,
			Status:    resultStatus(dep),
			CreatedAt: dep.CreatedAt,
		}

		// A result references its originating request; when that request
		// chains further, resolve its dependencies one level deeper.
		reqID := dep.TagValue("e")
		if reqID == "" {
			continue
		}
		reqEv, err := db.GetByID(reqID)
		if err != nil {
			continue // request not stored locally; the chain ends here
		}
		if !event.IsJobRequestKind(reqEv.Kind) {
			continue
		}
		subJob, err := ParseJobRequest(reqEv)
		if err != nil || len(subJob.Dependencies) == 0 {
			continue
		}
		sub, err := resolve(subJob, db, depth+1, visited)
		if err != nil {
			return nil, err
		}
		for id, rec := range sub {
			out[id] = rec
		}
	}
	return out, nil
}

// resultStatus reads a result's status tag, defaulting unknown or absent
// values to success.
func resultStatus(ev *event.Event) string {
	switch s := ev.TagValue("status"); s {
	case StatusSuccess, StatusError, StatusPartial:
		return s
	default:
		return StatusSuccess
	}
}
