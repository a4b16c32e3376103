package main

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cexll/collab/internal/session"
	"github.com/cexll/collab/internal/ui"
)

const sessionListLimit = 20

var sessionsCmd = &cobra.Command{
	Use:           "sessions",
	Aliases:       []string{"ls"},
	Short:         "List saved sessions",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		sessions := a.sessions.List(sessionListLimit)
		if len(sessions) == 0 {
			fmt.Fprintln(a.out, ui.Dim.Render("No saved sessions."))
			return nil
		}
		fmt.Fprintln(a.out, ui.Bold.Render(fmt.Sprintf("\n  %d session(s):", len(sessions))))
		for i, s := range sessions {
			fmt.Fprintln(a.out, formatSessionRow(i+1, s))
		}
		fmt.Fprintln(a.out, ui.Dim.Render("\n  Resume with: collab resume <id>  (or collab resume for a picker)"))
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:           "resume [session-id]",
	Short:         "Resume a saved session",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		return a.resume(cmd.Context(), id)
	},
}

// resume continues a session by id, or via the interactive picker when id
// is empty.
func (a *app) resume(ctx context.Context, id string) error {
	var sess *session.Session
	if id == "" {
		picked, ok := a.pickSession("")
		if !ok {
			return nil
		}
		sess = picked
	} else {
		loaded, err := a.sessions.Load(id)
		if err != nil {
			return err
		}
		sess = loaded
	}

	switch sess.Type {
	case session.TypePlanning:
		return a.resumePlanning(ctx, sess)
	case session.TypeResearch:
		return a.resumeResearch(ctx, sess, researchParams{
			rounds:       sess.TotalRounds,
			analysts:     2,
			implementers: 2,
			experiments:  2,
		})
	default:
		return fmt.Errorf("session %s has unknown type %q", sess.ID, sess.Type)
	}
}

// resumePlanning re-runs the remaining tasks of a planning session.
func (a *app) resumePlanning(ctx context.Context, sess *session.Session) error {
	if sess.Plan == nil {
		return fmt.Errorf("session %s has no plan", sess.ID)
	}
	if sess.Status == session.StatusCompleted {
		fmt.Fprintln(a.out, ui.Dim.Render("Session already completed."))
		return nil
	}
	fmt.Fprintln(a.out, ui.Bold.Render("Resuming: "+sess.Goal))
	fmt.Fprintln(a.out, ui.Dim.Render(fmt.Sprintf("  %s, %s", sess.ProgressLabel(), sess.UpdatedAt)))
	return a.executePlan(ctx, sess.Plan, sess)
}

// pickSession shows the numbered session picker. typeFilter limits the
// list to one session type; empty shows everything.
func (a *app) pickSession(typeFilter string) (*session.Session, bool) {
	all := a.sessions.List(sessionListLimit)
	var sessions []*session.Session
	for _, s := range all {
		if typeFilter == "" || s.Type == typeFilter {
			sessions = append(sessions, s)
		}
	}
	if len(sessions) == 0 {
		fmt.Fprintln(a.out, ui.Dim.Render("No saved sessions."))
		return nil, false
	}

	reader := bufio.NewReader(a.in)
	for {
		fmt.Fprintln(a.out, ui.Bold.Render(fmt.Sprintf("\n  %d session(s):", len(sessions))))
		for i, s := range sessions {
			fmt.Fprintln(a.out, formatSessionRow(i+1, s))
		}
		fmt.Fprint(a.out, ui.Dim.Render("\n  <number> resume · d <number> delete · q quit\n  > "))

		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, false
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "" || line == "q":
			return nil, false

		case strings.HasPrefix(line, "d "):
			n, err := strconv.Atoi(strings.TrimSpace(line[2:]))
			if err != nil || n < 1 || n > len(sessions) {
				fmt.Fprintln(a.out, ui.Bad.Render("  Invalid session number."))
				continue
			}
			victim := sessions[n-1]
			fmt.Fprint(a.out, ui.Warn.Render(fmt.Sprintf("  Delete %s? [y/N] ", victim.ID)))
			answer, err := reader.ReadString('\n')
			if err != nil || strings.ToLower(strings.TrimSpace(answer)) != "y" {
				fmt.Fprintln(a.out, ui.Dim.Render("  Kept."))
				continue
			}
			if err := a.sessions.Delete(victim.ID); err != nil {
				fmt.Fprintln(a.out, ui.Bad.Render("  Delete failed: "+err.Error()))
				continue
			}
			fmt.Fprintln(a.out, ui.Good.Render("  ✓ Deleted "+victim.ID))
			sessions = append(sessions[:n-1], sessions[n:]...)
			if len(sessions) == 0 {
				fmt.Fprintln(a.out, ui.Dim.Render("  No sessions left."))
				return nil, false
			}

		default:
			n, err := strconv.Atoi(line)
			if err != nil || n < 1 || n > len(sessions) {
				fmt.Fprintln(a.out, ui.Bad.Render("  Invalid session number."))
				continue
			}
			return sessions[n-1], true
		}
	}
}

// formatSessionRow renders one picker/list line.
func formatSessionRow(n int, s *session.Session) string {
	icon := "📋"
	if s.Type == session.TypeResearch {
		icon = "🔬"
	}
	status := ui.Dim.Render(s.Status)
	switch s.Status {
	case session.StatusInProgress:
		status = ui.Warn.Render(s.Status)
	case session.StatusCompleted:
		status = ui.Good.Render(s.Status)
	}
	goal := s.Goal
	if len(goal) > 60 {
		goal = goal[:60] + "…"
	}
	return fmt.Sprintf("  %s %s %s  %-12s %s\n      %s",
		ui.Accent.Render(fmt.Sprintf("[%d]", n)), icon, ui.Bold.Render(goal),
		s.ProgressLabel(), status,
		ui.Dim.Render(s.ID+"  ·  "+s.UpdatedAt))
}
