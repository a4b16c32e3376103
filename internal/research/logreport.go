package research

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

// LogSummary is the digest of a training log for `collab log`.
type LogSummary struct {
	CurrentEpoch int
	TotalEpochs  int
	Metrics      map[string]float64
	Errors       []string
	Warnings     []string
	Status       string // running | completed | failed
}

// HasInfo reports whether the log yielded anything worth printing.
func (s *LogSummary) HasInfo() bool {
	return s.CurrentEpoch > 0 || len(s.Metrics) > 0 || len(s.Errors) > 0 || len(s.Warnings) > 0
}

var (
	logErrorRe    = regexp.MustCompile(`(?i)error:|exception:`)
	logCompleteRe = regexp.MustCompile(`(?i)training\s+completed|experiment\s+(?:finished|completed)`)
	logFailedRe   = regexp.MustCompile(`(?i)failed|error:`)
)

// SummarizeLog digests the last 100 lines of a log file: epoch progress,
// latest metric values, recent errors and warnings, and a coarse status.
func SummarizeLog(path string) *LogSummary {
	summary := &LogSummary{Metrics: make(map[string]float64), Status: "running"}

	lines := lastLines(path, 100)
	var p Progress
	for _, line := range lines {
		line = strings.TrimSpace(line)
		p.parseLine(line)

		if logErrorRe.MatchString(line) && len(summary.Errors) < 3 {
			summary.Errors = append(summary.Errors, truncate(line, 150))
		}
		if strings.Contains(strings.ToLower(line), "warning") && len(summary.Warnings) < 3 {
			summary.Warnings = append(summary.Warnings, truncate(line, 150))
		}

		if logCompleteRe.MatchString(line) {
			summary.Status = "completed"
		} else if logFailedRe.MatchString(line) {
			summary.Status = "failed"
		}
	}

	summary.CurrentEpoch = p.CurrentEpoch
	summary.TotalEpochs = p.TotalEpochs
	for k, v := range p.Metrics {
		summary.Metrics[k] = v
	}
	return summary
}

// importantLogKeywords mark lines worth keeping in a filtered tail.
var importantLogKeywords = []string{
	"epoch", "loss", "auc", "auroc", "accuracy", "error", "warning",
	"completed", "failed", "metric", "pixel ap", "image auc",
	"i-auroc", "p-auroc", "i-ap", "p-ap", "i-f1", "p-f1", "aupro",
	"mean", "[baseline]", "[train]",
}

// FilterImportantLines keeps lines carrying progress or problem signals.
// When nothing matches, the last 10 input lines come back so the caller
// always has something to show.
func FilterImportantLines(lines []string) []string {
	var kept []string
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, kw := range importantLogKeywords {
			if strings.Contains(lower, kw) {
				kept = append(kept, line)
				break
			}
		}
	}
	if len(kept) > 0 {
		return kept
	}
	if len(lines) > 10 {
		return lines[len(lines)-10:]
	}
	return lines
}

// lastLines reads the final n lines of a file, tolerating missing files.
func lastLines(path string, n int) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines
}
