package dvm

import (
	"fmt"
	"sync"
	"time"
)

// TaskState is the lifecycle state of one tracked task.
type TaskState string

const (
	TaskQueued     TaskState = "queued"
	TaskProcessing TaskState = "processing"
	TaskWaiting    TaskState = "waiting"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
	TaskCancelled  TaskState = "cancelled"
)

// Terminal reports whether the state ends the task's life. Terminal tasks
// are dropped from the tracker after their final feedback.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// feedbackStatus maps a task state onto the wire feedback status.
func (s TaskState) feedbackStatus() string {
	switch s {
	case TaskCompleted:
		return StatusSuccess
	case TaskFailed, TaskCancelled:
		return StatusError
	default:
		return StatusProcessing
	}
}

// TaskMeta is the tracked metadata of one task.
type TaskMeta struct {
	ID         string     `json:"taskId"`
	Requester  string     `json:"requester"`
	JobEventID string     `json:"jobEventId"`
	State      TaskState  `json:"state"`
	Progress   *float64   `json:"progress,omitempty"`
	ETASeconds *float64   `json:"eta,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	LastUpdate time.Time  `json:"lastUpdate"`
}

// TrackerConfig controls tracking and feedback emission.
type TrackerConfig struct {
	Enabled bool
	// MinUpdateInterval throttles progress feedback; updates arriving sooner
	// are buffered in-memory only.
	MinUpdateInterval time.Duration
	// EmitProgressUpdates gates progress feedback entirely. State
	// transitions always emit.
	EmitProgressUpdates bool
}

// FeedbackFunc receives the feedback the tracker decides to emit.
type FeedbackFunc func(TaskFeedback)

// Tracker follows task lifecycles and emits throttled feedback.
type Tracker struct {
	mu    sync.Mutex
	tasks map[string]TaskMeta
	emit  FeedbackFunc
	cfg   TrackerConfig
	now   func() time.Time
}

// NewTracker returns a tracker; emit may be nil.
func NewTracker(cfg TrackerConfig, emit FeedbackFunc) *Tracker {
	return &Tracker{
		tasks: make(map[string]TaskMeta),
		emit:  emit,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Track begins following a task. A no-op when tracking is disabled.
func (t *Tracker) Track(meta TaskMeta) {
	if !t.cfg.Enabled || meta.ID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if meta.StartedAt.IsZero() {
		meta.StartedAt = now
	}
	if meta.State == "" {
		meta.State = TaskQueued
	}
	meta.LastUpdate = now
	t.tasks[meta.ID] = meta
}

// Task returns a snapshot of the metadata for id.
func (t *Tracker) Task(id string) (TaskMeta, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	meta, ok := t.tasks[id]
	return meta, ok
}

// Tasks returns a snapshot of every tracked task.
func (t *Tracker) Tasks() []TaskMeta {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TaskMeta, 0, len(t.tasks))
	for _, meta := range t.tasks {
		out = append(out, meta)
	}
	return out
}

// UpdateProgress records progress (and optionally an ETA) for a task. The
// in-memory metadata always updates; a processing feedback event is emitted
// only when tracking is enabled, progress emission is on, and the throttle
// interval has elapsed since the last emission.
func (t *Tracker) UpdateProgress(id string, progress float64, etaSeconds *float64) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidProgress, progress)
	}

	t.mu.Lock()
	meta, ok := t.tasks[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("dvm: unknown task %q", id)
	}
	meta.Progress = &progress
	if etaSeconds != nil {
		meta.ETASeconds = etaSeconds
	}

	now := t.now()
	throttled := now.Sub(meta.LastUpdate) < t.cfg.MinUpdateInterval
	shouldEmit := t.cfg.Enabled && t.cfg.EmitProgressUpdates && !throttled
	if shouldEmit {
		meta.LastUpdate = now
	}
	t.tasks[id] = meta
	emit := t.emit
	t.mu.Unlock()

	if shouldEmit && emit != nil {
		emit(TaskFeedback{
			Feedback: Feedback{
				JobEventID:      meta.JobEventID,
				RequesterPubKey: meta.Requester,
				Status:          StatusProcessing,
			},
			Progress:   meta.Progress,
			ETASeconds: meta.ETASeconds,
		})
	}
	return nil
}

// Transition moves a task into newState and emits the mapped feedback,
// bypassing the progress throttle. Terminal states drop the task.
func (t *Tracker) Transition(id string, newState TaskState) error {
	switch newState {
	case TaskQueued, TaskProcessing, TaskWaiting, TaskCompleted, TaskFailed, TaskCancelled:
	default:
		return fmt.Errorf("dvm: invalid task state %q", newState)
	}

	t.mu.Lock()
	meta, ok := t.tasks[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("dvm: unknown task %q", id)
	}
	meta.State = newState
	meta.LastUpdate = t.now()
	if newState.Terminal() {
		delete(t.tasks, id)
	} else {
		t.tasks[id] = meta
	}
	emit := t.emit
	t.mu.Unlock()

	if emit != nil {
		emit(TaskFeedback{
			Feedback: Feedback{
				JobEventID:      meta.JobEventID,
				RequesterPubKey: meta.Requester,
				Status:          newState.feedbackStatus(),
			},
			Progress:   meta.Progress,
			ETASeconds: meta.ETASeconds,
		})
	}
	return nil
}
