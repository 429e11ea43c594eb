package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	transitions  map[string]int64
	routing      map[string]int64
	sweep        SweepTotals
}

// SweepTotals accumulates sweep outcomes since process start.
type SweepTotals struct {
	Runs           int64  `json:"runs"`
	ReEvaluated    int64  `json:"re_evaluated"`
	NewlyEscalated int64  `json:"newly_escalated"`
	AutoClosed     int64  `json:"auto_closed"`
	Routed         int64  `json:"routed"`
	Skipped        int64  `json:"skipped"`
	LastRunAt      string `json:"last_run_at,omitempty"`
}

// Snapshot is a point in time copy of every counter.
type Snapshot struct {
	Requests    map[string]int64 `json:"requests"`
	Errors      map[string]int64 `json:"errors"`
	Transitions map[string]int64 `json:"transitions"`
	Routing     map[string]int64 `json:"routing"`
	Sweep       SweepTotals      `json:"sweep"`
}

// Routing outcomes.
const (
	RoutingAssigned = "assigned"
	RoutingQueued   = "queued"
	RoutingFailed   = "failed"
)

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		transitions:  make(map[string]int64),
		routing:      make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordTransition counts committed transitions by from and to status.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[from+"->"+to]++
}

// RecordRouting counts router outcomes.
func (m *Metrics) RecordRouting(outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routing[outcome]++
}

// RecordSweep adds one sweep pass to the totals.
func (m *Metrics) RecordSweep(reEvaluated, escalated, autoClosed, routed, skipped int, at time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep.Runs++
	m.sweep.ReEvaluated += int64(reEvaluated)
	m.sweep.NewlyEscalated += int64(escalated)
	m.sweep.AutoClosed += int64(autoClosed)
	m.sweep.Routed += int64(routed)
	m.sweep.Skipped += int64(skipped)
	m.sweep.LastRunAt = at.UTC().Format(time.RFC3339)
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Requests:    copyCounts(m.requestCount),
		Errors:      copyCounts(m.errorCount),
		Transitions: copyCounts(m.transitions),
		Routing:     copyCounts(m.routing),
		Sweep:       m.sweep,
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
