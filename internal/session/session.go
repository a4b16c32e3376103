// Package session persists planning and research sessions as JSON
// documents under the sessions root (~/.collab/sessions by default).
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cexll/collab/internal/planner"
)

const (
	TypePlanning = "planning"
	TypeResearch = "research"

	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

const timeLayout = "2006-01-02 15:04:05"

// Session is one resumable run, planning or research.
type Session struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Goal      string `json:"goal"`
	Cwd       string `json:"cwd"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Status    string `json:"status"`

	// planning-specific
	Plan             *planner.Plan     `json:"plan,omitempty"`
	CompletedTaskIDs []int             `json:"completed_task_ids"`
	TaskOutputs      map[string]string `json:"task_outputs"`

	// research-specific
	ResearchStatePath string `json:"research_state_path,omitempty"`
	CurrentRound      int    `json:"current_round"`
	TotalRounds       int    `json:"total_rounds"`

	store *Store
}

// Dir returns the session's directory.
func (s *Session) Dir() string {
	return filepath.Join(s.store.root, s.ID)
}

// Save writes the session document, bumping updated_at.
func (s *Session) Save() error {
	s.UpdatedAt = time.Now().Format(timeLayout)
	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	path := filepath.Join(s.Dir(), "session.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// MarkTaskDone records a completed plan task and checkpoints the session.
func (s *Session) MarkTaskDone(taskID int, output string) error {
	done := false
	for _, id := range s.CompletedTaskIDs {
		if id == taskID {
			done = true
			break
		}
	}
	if !done {
		s.CompletedTaskIDs = append(s.CompletedTaskIDs, taskID)
	}
	if s.TaskOutputs == nil {
		s.TaskOutputs = make(map[string]string)
	}
	s.TaskOutputs[fmt.Sprint(taskID)] = output
	return s.Save()
}

// TaskDone reports whether the given task already completed.
func (s *Session) TaskDone(taskID int) bool {
	for _, id := range s.CompletedTaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// MarkCompleted finalizes the session.
func (s *Session) MarkCompleted() error {
	s.Status = StatusCompleted
	return s.Save()
}

// MarkCancelled abandons the session.
func (s *Session) MarkCancelled() error {
	s.Status = StatusCancelled
	return s.Save()
}

// ProgressLabel renders a short human-readable progress string.
func (s *Session) ProgressLabel() string {
	if s.Type == TypePlanning && s.Plan != nil {
		return fmt.Sprintf("%d/%d tasks", len(s.CompletedTaskIDs), len(s.Plan.Tasks))
	}
	if s.Type == TypeResearch {
		return fmt.Sprintf("Round %d/%d", s.CurrentRound, s.TotalRounds)
	}
	return s.Status
}

// CreatedTime parses the created_at timestamp. Zero when unparsable.
func (s *Session) CreatedTime() time.Time {
	t, _ := time.ParseInLocation(timeLayout, s.CreatedAt, time.Local)
	return t
}

// UpdatedTime parses the updated_at timestamp. Zero when unparsable.
func (s *Session) UpdatedTime() time.Time {
	t, _ := time.ParseInLocation(timeLayout, s.UpdatedAt, time.Local)
	return t
}

// Store manages the sessions directory.
type Store struct {
	root string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the sessions root directory.
func (st *Store) Root() string { return st.root }

var slugCleanRe = regexp.MustCompile(`[^\w\s-]`)
var slugSepRe = regexp.MustCompile(`[\s_-]+`)

// slug converts goal text into a filesystem-safe id fragment.
func slug(text string, maxLen int) string {
	s := strings.ToLower(text)
	s = slugCleanRe.ReplaceAllString(s, "")
	s = slugSepRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// newID builds a session id from the timestamp, the goal slug, and a short
// random suffix so that two sessions started in the same second collide
// neither on disk nor in pickers.
func newID(goal string) string {
	ts := time.Now().Format("20060102_150405")
	suffix := uuid.NewString()[:8]
	if sl := slug(goal, 40); sl != "" {
		return fmt.Sprintf("%s_%s_%s", ts, sl, suffix)
	}
	return fmt.Sprintf("%s_%s", ts, suffix)
}

// NewPlanningSession creates and saves a planning session.
func (st *Store) NewPlanningSession(goal, cwd string, plan *planner.Plan) (*Session, error) {
	now := time.Now().Format(timeLayout)
	s := &Session{
		ID:          newID(goal),
		Type:        TypePlanning,
		Goal:        goal,
		Cwd:         cwd,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      StatusInProgress,
		Plan:        plan,
		TaskOutputs: make(map[string]string),
		store:       st,
	}
	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewResearchSession creates and saves a research session.
func (st *Store) NewResearchSession(goal, cwd string, totalRounds int) (*Session, error) {
	now := time.Now().Format(timeLayout)
	s := &Session{
		ID:          newID(goal),
		Type:        TypeResearch,
		Goal:        goal,
		Cwd:         cwd,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      StatusInProgress,
		TotalRounds: totalRounds,
		TaskOutputs: make(map[string]string),
		store:       st,
	}
	s.ResearchStatePath = filepath.Join(st.root, s.ID, "research_state.json")
	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the session with the given id.
func (st *Store) Load(id string) (*Session, error) {
	path := filepath.Join(st.root, id, "session.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	s.store = st
	return &s, nil
}

// List returns up to limit sessions sorted by updated_at descending.
// Unreadable session files are skipped.
func (st *Store) List(limit int) []*Session {
	entries, err := os.ReadDir(st.root)
	if err != nil {
		return nil
	}

	var sessions []*Session
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := st.Load(e.Name())
		if err != nil {
			continue
		}
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt > sessions[j].UpdatedAt
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions
}

// Delete removes a session directory.
func (st *Store) Delete(id string) error {
	if strings.TrimSpace(id) == "" || strings.Contains(id, string(filepath.Separator)) {
		return fmt.Errorf("invalid session id: %q", id)
	}
	return os.RemoveAll(filepath.Join(st.root, id))
}
