package cost

import (
	"math"
	"sync"
	"time"

	"github.com/strata-dev/strata/pkg/provider"
)

// Scope labels where spend was incurred so /usage can attribute it.
const (
	ScopeSession = "session"
)

// LayerScope returns the attribution scope for a processing layer.
func LayerScope(layer string) string { return "layer:" + layer }

// CommandScope returns the attribution scope for a custom command.
func CommandScope(command string) string { return "command:" + command }

// Record is one billed model call.
type Record struct {
	Time     time.Time
	Provider string
	Model    string
	Scope    string
	Usage    provider.Usage
	CostUSD  float64
}

// Tracker accumulates per-session spend. Records are append-only; all
// methods are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	records []Record

	// lastCheckpoint is the spend level at the last threshold check.
	lastCheckpoint float64
}

// NewTracker creates an empty spend tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Add records one model call and returns its cost.
func (t *Tracker) Add(providerName, model, scope string, usage provider.Usage) float64 {
	costUSD := PriceFor(model).Cost(usage)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = append(t.records, Record{
		Time:     time.Now(),
		Provider: providerName,
		Model:    model,
		Scope:    scope,
		Usage:    usage,
		CostUSD:  costUSD,
	})
	return costUSD
}

// TotalUSD returns the accumulated spend.
func (t *Tracker) TotalUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0.0
	for _, r := range t.records {
		total += r.CostUSD
	}
	return total
}

// TotalUsage returns the accumulated token usage.
func (t *Tracker) TotalUsage() provider.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	var u provider.Usage
	for _, r := range t.records {
		u.InputTokens += r.Usage.InputTokens
		u.OutputTokens += r.Usage.OutputTokens
		u.CacheReadTokens += r.Usage.CacheReadTokens
		u.CacheWriteTokens += r.Usage.CacheWriteTokens
	}
	return u
}

// ByScope returns spend grouped by attribution scope.
func (t *Tracker) ByScope() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]float64)
	for _, r := range t.records {
		out[r.Scope] += r.CostUSD
	}
	return out
}

// ByModel returns spend grouped by model.
func (t *Tracker) ByModel() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]float64)
	for _, r := range t.records {
		out[r.Model] += r.CostUSD
	}
	return out
}

// Records returns a copy of all records in order.
func (t *Tracker) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// CrossedThreshold reports whether total spend has passed another
// multiple of threshold since the last call. A threshold of 0 disables
// the check. Each multiple fires exactly once.
func (t *Tracker) CrossedThreshold(threshold float64) bool {
	if threshold <= 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0.0
	for _, r := range t.records {
		total += r.CostUSD
	}

	prev := math.Floor(t.lastCheckpoint / threshold)
	cur := math.Floor(total / threshold)
	t.lastCheckpoint = total
	return cur > prev
}
