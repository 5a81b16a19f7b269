package agent

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh-go/pkg/telemetry"
)

// Budget thresholds, in percent of the window cap.
const (
	warnThreshold     = 80
	criticalThreshold = 95
)

// DefaultBudgetWindow is the rolling accounting window.
const DefaultBudgetWindow = time.Hour

// EmitFunc receives budget telemetry. Implementations are called
// synchronously; a panicking emitter is recovered and ignored.
type EmitFunc func(t telemetry.Type, fields map[string]interface{})

type usageRecord struct {
	at         time.Time
	prompt     int64
	completion int64
	total      int64
}

// Budget accounts token usage over a rolling window.
type Budget struct {
	mu       sync.Mutex
	window   time.Duration
	cap      int64
	records  []usageRecord
	warned80 bool
	warned95 bool
	emit     EmitFunc
	now      func() time.Time
}

// BudgetSnapshot is a consistent read of the budget for status endpoints.
type BudgetSnapshot struct {
	CapTokens    int64   `json:"capTokens"`
	UsedTokens   int64   `json:"usedTokens"`
	Remaining    int64   `json:"remainingTokens"`
	PercentUsed  float64 `json:"percentUsed"`
	WindowMillis int64   `json:"windowMs"`
}

// NewBudget returns a budget of cap tokens per window. A non-positive window
// uses DefaultBudgetWindow; emit may be nil.
func NewBudget(capTokens int64, window time.Duration, emit EmitFunc) *Budget {
	if window <= 0 {
		window = DefaultBudgetWindow
	}
	return &Budget{
		window: window,
		cap:    capTokens,
		emit:   emit,
		now:    time.Now,
	}
}

// CanSpend reports whether est more tokens fit in the window. The comparison
// is strict, so a fully spent budget cannot even spend zero.
func (b *Budget) CanSpend(est int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.now())
	return (b.cap - b.used()) > est
}

// RecordUsage appends one usage record and emits the resulting telemetry.
func (b *Budget) RecordUsage(prompt, completion, total int64) {
	b.mu.Lock()
	now := b.now()
	b.records = append(b.records, usageRecord{at: now, prompt: prompt, completion: completion, total: total})
	b.prune(now)

	used := b.used()
	percent := b.percentOf(used)
	warn80 := !b.warned80 && percent >= warnThreshold
	if warn80 {
		b.warned80 = true
	}
	warn95 := !b.warned95 && percent >= criticalThreshold
	if warn95 {
		b.warned95 = true
	}
	exhausted := b.cap-used <= 0
	capTokens := b.cap
	b.mu.Unlock()

	b.safeEmit(telemetry.TypeAITokenUsage, map[string]interface{}{
		"promptTokens":     prompt,
		"completionTokens": completion,
		"totalTokens":      total,
		"usedInWindow":     used,
		"capTokens":        capTokens,
		"remaining":        max64(capTokens-used, 0),
	})
	if warn80 {
		b.safeEmit(telemetry.TypeAIBudgetWarning, map[string]interface{}{
			"threshold": warnThreshold, "usedInWindow": used, "capTokens": capTokens, "percentUsed": percent,
		})
	}
	if warn95 {
		b.safeEmit(telemetry.TypeAIBudgetWarning, map[string]interface{}{
			"threshold": criticalThreshold, "usedInWindow": used, "capTokens": capTokens, "percentUsed": percent,
		})
	}
	if exhausted {
		b.safeEmit(telemetry.TypeAIBudgetExhausted, map[string]interface{}{
			"usedInWindow": used, "capTokens": capTokens,
		})
	}
}

// Reset clears all records and warning latches.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = nil
	b.warned80 = false
	b.warned95 = false
}

// Snapshot returns the current window accounting.
func (b *Budget) Snapshot() BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.now())
	used := b.used()
	return BudgetSnapshot{
		CapTokens:    b.cap,
		UsedTokens:   used,
		Remaining:    max64(b.cap-used, 0),
		PercentUsed:  b.percentOf(used),
		WindowMillis: b.window.Milliseconds(),
	}
}

// prune drops records older than the window and releases the warning
// latches once usage falls back under the warn threshold. Callers hold b.mu.
func (b *Budget) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.records) && b.records[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.records = append([]usageRecord(nil), b.records[i:]...)
	}
	if b.percentOf(b.used()) < warnThreshold {
		b.warned80 = false
		b.warned95 = false
	}
}

// used sums surviving record totals. Callers hold b.mu.
func (b *Budget) used() int64 {
	var sum int64
	for _, r := range b.records {
		sum += r.total
	}
	return sum
}

func (b *Budget) percentOf(used int64) float64 {
	if b.cap <= 0 {
		return 100
	}
	return float64(used) / float64(b.cap) * 100
}

// safeEmit invokes the telemetry callback, swallowing panics so that
// telemetry failures never perturb budget state.
func (b *Budget) safeEmit(t telemetry.Type, fields map[string]interface{}) {
	if b.emit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("budget telemetry callback panicked", zap.Any("panic", r))
		}
	}()
	b.emit(t, fields)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
