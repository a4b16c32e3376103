package main

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/cexll/collab/internal/session"
	"github.com/cexll/collab/internal/taskstore"
	"github.com/cexll/collab/internal/web"
)

var flagServeAddr string

// listenAndServe is swapped by tests.
var listenAndServe = http.ListenAndServe

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only session dashboard",
	Long: `serve starts a local HTTP dashboard over the session store: saved
planning and research sessions, their plans and progress, plus a JSON
view of the run registry. The registry is seeded from saved sessions;
runs started with --web publish into it live.`,
	Example:       `  collab serve\n  collab serve --addr 0.0.0.0:9000`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServeCmd,
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "Listen address (default from COLLAB_WEB_ADDR)")
}

func runServeCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	addr := flagServeAddr
	if addr == "" {
		addr = a.cfg.WebAddr
	}

	r, err := a.buildDashboard()
	if err != nil {
		return err
	}

	log.Printf("[Serve] Dashboard listening on http://%s", addr)
	log.Printf("[Serve] Sessions root: %s", a.sessions.Root())
	return listenAndServe(addr, r)
}

// buildDashboard creates the run registry, seeds it from saved sessions,
// and returns a router serving the dashboard over it.
func (a *app) buildDashboard() (*mux.Router, error) {
	a.runs = taskstore.NewStore()
	seedRuns(a.runs, a.sessions.List(0))

	handler, err := web.NewHandler(a.runs, a.sessions)
	if err != nil {
		return nil, err
	}
	r := mux.NewRouter()
	handler.RegisterRoutes(r)
	return r, nil
}

// startDashboard serves the dashboard in the background for the lifetime
// of the process. Runs started afterwards publish their progress into the
// shared registry.
func (a *app) startDashboard(addr string) error {
	r, err := a.buildDashboard()
	if err != nil {
		return err
	}
	log.Printf("[Serve] Dashboard listening on http://%s", addr)
	go func() {
		if err := listenAndServe(addr, r); err != nil {
			log.Printf("[Serve] Dashboard stopped: %v", err)
		}
	}()
	return nil
}

// seedRuns backfills the registry from the session store so the dashboard
// shows past orchestrations alongside live ones.
func seedRuns(runs *taskstore.Store, sessions []*session.Session) {
	for _, s := range sessions {
		kind := taskstore.KindPlan
		if s.Type == session.TypeResearch {
			kind = taskstore.KindResearch
		}

		run := &taskstore.Run{
			ID:        s.ID,
			Kind:      kind,
			Goal:      s.Goal,
			SessionID: s.ID,
			CreatedAt: s.CreatedTime(),
			UpdatedAt: s.UpdatedTime(),
		}
		switch s.Status {
		case session.StatusCompleted:
			run.Status = taskstore.StatusCompleted
		case session.StatusCancelled:
			run.Status = taskstore.StatusFailed
			run.ErrorMsg = "cancelled"
		default:
			run.Status = taskstore.StatusPending
		}
		runs.Create(run)
	}
}

// trackRun registers a run in the registry when the dashboard is active.
// Returns the run id, or "" when nothing is tracked.
func (a *app) trackRun(kind taskstore.RunKind, goal, agentName, sessionID string) string {
	if a.runs == nil {
		return ""
	}
	id := sessionID
	if id == "" {
		id = uuid.NewString()
	}
	a.runs.Create(&taskstore.Run{
		ID:        id,
		Kind:      kind,
		Goal:      goal,
		Agent:     agentName,
		SessionID: sessionID,
		Status:    taskstore.StatusRunning,
	})
	return id
}

// finishRun records the outcome of a tracked run.
func (a *app) finishRun(id string, err error) {
	if a.runs == nil || id == "" {
		return
	}
	if err != nil {
		a.runs.SetError(id, err.Error())
		return
	}
	a.runs.UpdateStatus(id, taskstore.StatusCompleted)
}
