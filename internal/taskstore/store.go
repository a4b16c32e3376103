// Package taskstore is the in-memory registry of runs the serve mode
// exposes: one entry per orchestration started while the server is up,
// with a live log tail.
package taskstore

import (
	"sort"
	"sync"
	"time"
)

type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// RunKind distinguishes the three orchestration shapes.
type RunKind string

const (
	KindOneShot  RunKind = "oneshot"
	KindPlan     RunKind = "plan"
	KindResearch RunKind = "research"
)

// Run is one orchestration tracked by the server.
type Run struct {
	ID        string     `json:"id"`
	Kind      RunKind    `json:"kind"`
	Goal      string     `json:"goal"`
	Agent     string     `json:"agent,omitempty"`      // oneshot runs only
	SessionID string     `json:"session_id,omitempty"` // plan and research runs persist a session
	Status    RunStatus  `json:"status"`
	ErrorMsg  string     `json:"error,omitempty"`
	Logs      []LogEntry `json:"logs,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // info, error, success
	Message   string    `json:"message"`
}

// Store holds runs for the lifetime of the server process.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

func NewStore() *Store {
	return &Store{runs: make(map[string]*Run)}
}

// Create registers a run. Zero timestamps are stamped with the current
// time; a missing status defaults to pending. Seeded historical runs keep
// their own timestamps and status.
func (s *Store) Create(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}
	if run.Status == "" {
		run.Status = StatusPending
	}
	s.runs[run.ID] = run
}

func (s *Store) Get(id string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok
}

// List returns all runs, newest first.
func (s *Store) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs
}

func (s *Store) UpdateStatus(id string, status RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Status = status
		run.UpdatedAt = time.Now()
	}
}

// SetError marks the run failed and records the message.
func (s *Store) SetError(id string, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Status = StatusFailed
		run.ErrorMsg = errMsg
		run.UpdatedAt = time.Now()
	}
}

func (s *Store) AddLog(id string, level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Logs = append(run.Logs, LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   message,
		})
		run.UpdatedAt = time.Now()
	}
}

// ActiveCount reports how many runs are pending or running.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, run := range s.runs {
		if run.Status == StatusPending || run.Status == StatusRunning {
			n++
		}
	}
	return n
}
