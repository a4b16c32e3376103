package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cexll/collab/internal/research"
	"github.com/cexll/collab/internal/ui"
)

var (
	flagLogTail     int
	flagLogFull     bool
	flagLogNoFilter bool
)

var logCmd = &cobra.Command{
	Use:   "log <logfile>",
	Short: "Summarize an experiment log",
	Long: `log digests a training/experiment log: epoch progress, the latest
metric values, recent errors and warnings. By default the tail is
filtered to lines carrying progress or problem signals.`,
	Example: `  collab log experiment_exp1.log
  collab log -t 50 experiment_exp1.log
  collab log --full experiment_exp1.log`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runLogCmd,
}

func init() {
	logCmd.Flags().IntVarP(&flagLogTail, "tail", "t", 20, "Lines of log tail to show")
	logCmd.Flags().BoolVarP(&flagLogFull, "full", "f", false, "Print the whole file and exit")
	logCmd.Flags().BoolVar(&flagLogNoFilter, "no-filter", false, "Show the raw tail without keyword filtering")
}

func runLogCmd(cmd *cobra.Command, args []string) error {
	path := args[0]
	out := cmd.OutOrStdout()

	if flagLogFull {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		fmt.Fprint(out, string(data))
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("log file: %w", err)
	}

	summary := research.SummarizeLog(path)
	printLogSummary(out, path, summary)

	tail := research.TailLines(path, flagLogTail)
	lines := strings.Split(strings.TrimRight(tail, "\n"), "\n")
	if !flagLogNoFilter {
		lines = research.FilterImportantLines(lines)
	}
	fmt.Fprintln(out, ui.Bold.Render(fmt.Sprintf("\n  Last %d line(s):", len(lines))))
	for _, line := range lines {
		fmt.Fprintln(out, "    "+line)
	}
	return nil
}

// printLogSummary renders the digest: status, epoch progress bar, metrics,
// and any captured errors or warnings.
func printLogSummary(out io.Writer, path string, s *research.LogSummary) {
	fmt.Fprintln(out, ui.Bold.Render("\n  "+path))

	status := ui.Warn.Render(s.Status)
	switch s.Status {
	case "completed":
		status = ui.Good.Render(s.Status)
	case "failed":
		status = ui.Bad.Render(s.Status)
	}
	fmt.Fprintf(out, "    status:  %s\n", status)

	if s.TotalEpochs > 0 {
		fmt.Fprintf(out, "    epoch:   %d/%d  %s\n", s.CurrentEpoch, s.TotalEpochs, progressBar(s.CurrentEpoch, s.TotalEpochs, 30))
	} else if s.CurrentEpoch > 0 {
		fmt.Fprintf(out, "    epoch:   %d\n", s.CurrentEpoch)
	}

	if len(s.Metrics) > 0 {
		names := make([]string, 0, len(s.Metrics))
		for name := range s.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		var parts []string
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%.4f", name, s.Metrics[name]))
		}
		fmt.Fprintf(out, "    metrics: %s\n", strings.Join(parts, "  "))
	}

	for _, e := range s.Errors {
		fmt.Fprintf(out, "    %s %s\n", ui.Bad.Render("error:"), e)
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(out, "    %s %s\n", ui.Warn.Render("warning:"), w)
	}
	if !s.HasInfo() {
		fmt.Fprintln(out, ui.Dim.Render("    no progress signals found yet"))
	}
}

// progressBar renders a fixed-width bar like [======>......].
func progressBar(current, total, width int) string {
	if total <= 0 {
		return ""
	}
	filled := current * width / total
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("=", filled) + strings.Repeat(".", width-filled)
	return ui.Dim.Render("[" + bar + "]")
}
