package research

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cexll/collab/internal/session"
	"github.com/cexll/collab/internal/taskstore"
)

// Loop drives the iterative research workflow: up to TotalRounds rounds of
// six steps each, with state checkpointed after every step so a cancelled
// run resumes where it stopped.
type Loop struct {
	Steps       *Steps
	State       *State
	TotalRounds int
	WorkDir     string

	// Session, when set, tracks round progress in the session store.
	Session *session.Session

	// Runs and RunID, when both set, receive live progress for the serve
	// dashboard's run registry.
	Runs  *taskstore.Store
	RunID string

	// Display hooks; nil hooks are skipped.
	OnRoundStart func(roundNum, totalRounds int)
	OnStepStart  func(stepID int, stepName string, agents int)
	OnStepDone   func(*StepResult)
	OnRoundDone  func(*RoundResult)

	// ConfirmRound gates the next round in interactive mode. Returning
	// false pauses the research after the current round.
	ConfirmRound func(roundNum, totalRounds int) bool
}

// Run executes rounds until TotalRounds is reached, the conclusion declares
// the research done, or the interactive gate declines. The final report is
// written to the working directory.
func (l *Loop) Run(ctx context.Context) error {
	start := len(l.State.Rounds) + 1
	if start > l.TotalRounds {
		log.Printf("[Research] All %d rounds already completed", l.TotalRounds)
		return l.finish()
	}
	l.publishStatus(taskstore.StatusRunning)

	for roundNum := start; roundNum <= l.TotalRounds; roundNum++ {
		if l.OnRoundStart != nil {
			l.OnRoundStart(roundNum, l.TotalRounds)
		}

		round, err := l.runRound(ctx, roundNum)
		if err != nil {
			// Progress up to the failed step is already saved.
			err = fmt.Errorf("round %d: %w", roundNum, err)
			l.publishError(err)
			return err
		}
		if l.OnRoundDone != nil {
			l.OnRoundDone(round)
		}
		l.publishLog("info", "Round %d/%d complete", roundNum, l.TotalRounds)

		if l.Session != nil {
			l.Session.CurrentRound = roundNum
			if err := l.Session.Save(); err != nil {
				log.Printf("[Research] Failed to update session: %v", err)
			}
		}

		insights, mistakes := l.State.Memory.counts()
		if insights > 0 || mistakes > 0 {
			log.Printf("[Research] Memory: %d insights, %d mistakes recorded", insights, mistakes)
		}

		switch round.Direction {
		case "done":
			log.Printf("[Research] Research completed early at round %d", roundNum)
			return l.complete()
		case "pivot":
			log.Printf("[Research] Pivoting research direction at round %d", roundNum)
			l.State.Memory.AddPattern("direction_pivot",
				fmt.Sprintf("Round %d pivoted: %s", roundNum, truncate(round.Conclusion, 150)))
		}

		if l.ConfirmRound != nil && roundNum < l.TotalRounds {
			if !l.ConfirmRound(roundNum, l.TotalRounds) {
				log.Printf("[Research] Paused after round %d", roundNum)
				l.publishStatus(taskstore.StatusPending)
				return l.finish()
			}
		}
	}
	return l.complete()
}

// runRound executes the six steps of one round, saving state after each.
func (l *Loop) runRound(ctx context.Context, roundNum int) (*RoundResult, error) {
	round := &RoundResult{
		RoundNum:  roundNum,
		StartedAt: time.Now().Format("2006-01-02 15:04:05"),
		Steps:     make(map[string]*StepResult),
	}

	type stepFn func(context.Context) (*StepResult, error)
	steps := []struct {
		id     int
		key    string
		name   string
		agents int
		run    stepFn
	}{
		{1, "understand", "Goal Understanding", 1, func(ctx context.Context) (*StepResult, error) {
			return l.Steps.Understand(ctx, l.State, round)
		}},
		{2, "analyze", "Problem Analysis", l.Steps.analysts(), func(ctx context.Context) (*StepResult, error) {
			return l.Steps.Analyze(ctx, l.State, round)
		}},
		{3, "methodology", "Methodology & Implementation", l.Steps.implementers() + 1, func(ctx context.Context) (*StepResult, error) {
			return l.Steps.Methodology(ctx, l.State, round)
		}},
		{4, "experiment", "Experiment Execution", l.Steps.experiments(), func(ctx context.Context) (*StepResult, error) {
			return l.Steps.Experiment(ctx, l.State, round)
		}},
		{5, "results", "Result Analysis", 1, func(ctx context.Context) (*StepResult, error) {
			return l.Steps.Results(ctx, l.State, round)
		}},
		{6, "conclusion", "Conclusion", 1, func(ctx context.Context) (*StepResult, error) {
			return l.Steps.Conclude(ctx, l.State, round, l.TotalRounds)
		}},
	}

	for _, step := range steps {
		if l.OnStepStart != nil {
			l.OnStepStart(step.id, step.name, step.agents)
		}
		res, err := step.run(ctx)
		if err != nil {
			return nil, err
		}
		round.Steps[step.key] = res
		if l.OnStepDone != nil {
			l.OnStepDone(res)
		}
		l.publishLog("info", "Round %d step %d/6: %s", roundNum, step.id, step.name)
		if _, err := l.State.Save(); err != nil {
			log.Printf("[Research] Checkpoint failed: %v", err)
		}
	}

	round.FinishedAt = time.Now().Format("2006-01-02 15:04:05")
	l.State.Rounds = append(l.State.Rounds, round)
	if _, err := l.State.Save(); err != nil {
		log.Printf("[Research] Failed to save round: %v", err)
	}
	return round, nil
}

// complete marks the session done and writes the final report.
func (l *Loop) complete() error {
	if l.Session != nil {
		if err := l.Session.MarkCompleted(); err != nil {
			log.Printf("[Research] Failed to finalize session: %v", err)
		}
	}
	l.publishStatus(taskstore.StatusCompleted)
	return l.finish()
}

func (l *Loop) publishStatus(status taskstore.RunStatus) {
	if l.Runs != nil && l.RunID != "" {
		l.Runs.UpdateStatus(l.RunID, status)
	}
}

func (l *Loop) publishError(err error) {
	if l.Runs != nil && l.RunID != "" {
		l.Runs.SetError(l.RunID, err.Error())
	}
}

func (l *Loop) publishLog(level, format string, args ...any) {
	if l.Runs != nil && l.RunID != "" {
		l.Runs.AddLog(l.RunID, level, fmt.Sprintf(format, args...))
	}
}

// finish writes the markdown report and leaves the session status alone.
func (l *Loop) finish() error {
	dir := l.WorkDir
	if dir == "" {
		dir = l.State.SessionDir
	}
	path := filepath.Join(dir, fmt.Sprintf("research_report_%s.md", time.Now().Format("20060102_150405")))
	if err := os.WriteFile(path, []byte(l.State.MarkdownReport()), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	log.Printf("[Research] Report saved to %s", path)

	if _, err := l.State.Save(); err != nil {
		return err
	}
	return nil
}

// counts tallies (insights+successes, mistakes+failures).
func (m *Memory) counts() (insights, mistakes int) {
	for _, e := range m.Entries {
		switch e.Type {
		case "insight", "success":
			insights++
		case "mistake", "failure":
			mistakes++
		}
	}
	return insights, mistakes
}
