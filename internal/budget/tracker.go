// Package budget tracks agent invocations per run and enforces a call
// ceiling so a misbehaving loop cannot burn unbounded model time.
package budget

import (
	"log"
	"sync"
	"time"
)

// Tracker counts agent calls and accumulated subprocess wall time.
type Tracker struct {
	mu           sync.RWMutex
	maxCalls     int
	alertPercent float64
	alerted      bool

	calls       int
	byAgent     map[string]int
	totalActive time.Duration
}

// Stats is a snapshot of the tracker.
type Stats struct {
	Calls       int            `json:"calls"`
	MaxCalls    int            `json:"max_calls"`
	ByAgent     map[string]int `json:"by_agent"`
	TotalActive time.Duration  `json:"total_active"`
}

// NewTracker creates a tracker. alertPercent is the fill level (0-100) at
// which a warning is logged once.
func NewTracker(maxCalls int, alertPercent float64) *Tracker {
	return &Tracker{
		maxCalls:     maxCalls,
		alertPercent: alertPercent,
		byAgent:      make(map[string]int),
	}
}

// CanMakeCall reports whether another agent call fits the budget.
func (t *Tracker) CanMakeCall() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.calls < t.maxCalls
}

// RecordCall registers one finished agent invocation.
func (t *Tracker) RecordCall(agentName string, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++
	t.byAgent[agentName]++
	t.totalActive += duration

	if !t.alerted && t.alertPercent > 0 &&
		float64(t.calls) >= float64(t.maxCalls)*t.alertPercent/100 {
		t.alerted = true
		log.Printf("[Budget] %d/%d agent calls used (%.0f%% threshold reached)",
			t.calls, t.maxCalls, t.alertPercent)
	}
}

// CheckLimit returns a LimitError when the budget is exhausted.
func (t *Tracker) CheckLimit() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.calls >= t.maxCalls {
		return &LimitError{Limit: t.maxCalls, Current: t.calls}
	}
	return nil
}

// Snapshot returns current statistics.
func (t *Tracker) Snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byAgent := make(map[string]int, len(t.byAgent))
	for k, v := range t.byAgent {
		byAgent[k] = v
	}
	return Stats{
		Calls:       t.calls,
		MaxCalls:    t.maxCalls,
		ByAgent:     byAgent,
		TotalActive: t.totalActive,
	}
}

// LimitError reports an exhausted call budget.
type LimitError struct {
	Limit   int
	Current int
}

func (e *LimitError) Error() string {
	return "agent call budget exhausted"
}
