// Package web serves the read-only dashboard for serve mode: live runs
// from the in-memory registry plus persisted sessions from disk.
package web

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cexll/collab/internal/session"
	"github.com/cexll/collab/internal/taskstore"
)

//go:embed templates/*
var templatesFS embed.FS

// Handler renders the dashboard pages.
type Handler struct {
	runs      *taskstore.Store
	sessions  *session.Store
	templates *template.Template
}

// NewHandler parses the embedded templates and wires the stores.
func NewHandler(runs *taskstore.Store, sessions *session.Store) (*Handler, error) {
	tmpl := template.New("").Funcs(template.FuncMap{
		"statusColor":   statusColor,
		"statusIcon":    statusIcon,
		"logLevelColor": logLevelColor,
	})
	tmpl, err := tmpl.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &Handler{
		runs:      runs,
		sessions:  sessions,
		templates: tmpl,
	}, nil
}

// RegisterRoutes registers the dashboard routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.handleRunList).Methods("GET")
	r.HandleFunc("/run/{id}", h.handleRunDetail).Methods("GET")
	r.HandleFunc("/sessions", h.handleSessionList).Methods("GET")
	r.HandleFunc("/session/{id}", h.handleSessionDetail).Methods("GET")
	r.HandleFunc("/runs", h.handleRunsJSON).Methods("GET")
	r.HandleFunc("/sessions/{id}", h.handleSessionJSON).Methods("GET")
}

// handleRunsJSON exposes the live run registry as JSON.
func (h *Handler) handleRunsJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.runs.List()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleSessionJSON exposes one persisted session document as JSON.
func (h *Handler) handleSessionJSON(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Load(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleRunList(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Runs   []*taskstore.Run
		Active int
	}{
		Runs:   h.runs.List(),
		Active: h.runs.ActiveCount(),
	}
	if err := h.templates.ExecuteTemplate(w, "run_list.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	run, ok := h.runs.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	data := struct {
		Run *taskstore.Run
	}{Run: run}
	if err := h.templates.ExecuteTemplate(w, "run_detail.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleSessionList(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Sessions []*session.Session
	}{Sessions: h.sessions.List(50)}
	if err := h.templates.ExecuteTemplate(w, "session_list.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Load(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	data := struct {
		Session  *session.Session
		Progress string
	}{Session: s, Progress: s.ProgressLabel()}
	if err := h.templates.ExecuteTemplate(w, "session_detail.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func statusColor(status taskstore.RunStatus) string {
	switch status {
	case taskstore.StatusPending:
		return "#6c757d"
	case taskstore.StatusRunning:
		return "#0d6efd"
	case taskstore.StatusCompleted:
		return "#198754"
	case taskstore.StatusFailed:
		return "#dc3545"
	default:
		return "#6c757d"
	}
}

func statusIcon(status taskstore.RunStatus) string {
	switch status {
	case taskstore.StatusPending:
		return "○"
	case taskstore.StatusRunning:
		return "⟳"
	case taskstore.StatusCompleted:
		return "✓"
	case taskstore.StatusFailed:
		return "✗"
	default:
		return "○"
	}
}

func logLevelColor(level string) string {
	switch strings.ToLower(level) {
	case "error":
		return "#dc3545"
	case "success":
		return "#198754"
	case "info":
		return "#0d6efd"
	default:
		return "#6c757d"
	}
}
