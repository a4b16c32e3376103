package research

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// monitorCommandContext allows tests to stub process launch.
var monitorCommandContext = exec.CommandContext

// ExperimentSpec is a long-running experiment declared by an agent in its
// output via the BACKGROUND_TASK block.
type ExperimentSpec struct {
	Command           string
	LogFile           string
	CompletionPattern string
	EstimatedTime     string
}

var (
	bgTaskRe     = regexp.MustCompile(`(?i)BACKGROUND_TASK:`)
	bgCommandRe  = regexp.MustCompile(`(?i)COMMAND:\s*(.+)`)
	bgLogFileRe  = regexp.MustCompile(`(?i)LOG_FILE:\s*(.+)`)
	bgPatternRe  = regexp.MustCompile(`(?i)COMPLETION_PATTERN:\s*(.+)`)
	bgEstimateRe = regexp.MustCompile(`(?i)ESTIMATED_TIME:\s*(.+)`)
)

// ParseExperimentSpec extracts a background task declaration from agent
// output. Returns nil when the output does not declare one or the required
// COMMAND line is missing.
func ParseExperimentSpec(output string) *ExperimentSpec {
	if !bgTaskRe.MatchString(output) {
		return nil
	}
	cmd := bgCommandRe.FindStringSubmatch(output)
	if cmd == nil {
		return nil
	}

	spec := &ExperimentSpec{Command: strings.TrimSpace(cmd[1])}
	if m := bgLogFileRe.FindStringSubmatch(output); m != nil {
		spec.LogFile = strings.TrimSpace(m[1])
	}
	if m := bgPatternRe.FindStringSubmatch(output); m != nil {
		spec.CompletionPattern = strings.TrimSpace(m[1])
	}
	if m := bgEstimateRe.FindStringSubmatch(output); m != nil {
		spec.EstimatedTime = strings.TrimSpace(m[1])
	}
	return spec
}

// CompletionPatterns detect experiment success and failure in log output.
type CompletionPatterns struct {
	Success []*regexp.Regexp
	Failure []*regexp.Regexp
	Timeout time.Duration
}

// DefaultPatterns covers the common training-run signals: completion
// banners, Python tracebacks, CUDA OOM, import and IO failures.
func DefaultPatterns() *CompletionPatterns {
	return &CompletionPatterns{
		Success: compileAll(
			`(?i)training\s+completed`,
			`(?i)experiment\s+(?:finished|completed|done)`,
			`(?i)all\s+tasks?\s+complete`,
			`(?i)final\s+results?:`,
			`✓.*complete`,
		),
		Failure: compileAll(
			`(?i)error:`,
			`(?i)exception:`,
			`(?i)traceback\s*\(most recent call last\)`,
			`(?i)(?:runtime|value|type|attribute|key|index|name)error`,
			`(?i)assertion\s*error`,
			`CUDA\s+out\s+of\s+memory`,
			`(?i)cuda\s+error`,
			`(?i)gpu\s+out\s+of\s+memory`,
			`(?i)file\s+not\s+found`,
			`(?i)no\s+such\s+file\s+or\s+directory`,
			`(?i)permission\s+denied`,
			`(?i)modulenotfounderror`,
			`(?i)importerror`,
			`(?i)no\s+module\s+named`,
			`(?i)failed`,
			`(?i)fatal`,
			`(?i)aborted`,
			`(?i)killed`,
			`(?i)process\s+(?:exited|terminated|killed)`,
			`(?i)exit\s+code\s*:\s*[1-9]`,
		),
		Timeout: 24 * time.Hour,
	}
}

// WithSuccess prepends a custom success pattern, keeping the defaults as
// fallbacks. Invalid patterns are matched as literals.
func (p *CompletionPatterns) WithSuccess(pattern string) *CompletionPatterns {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(pattern))
	}
	out := *p
	out.Success = append([]*regexp.Regexp{re}, p.Success...)
	return &out
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// Progress tracks a monitored experiment.
type Progress struct {
	TaskID       string
	StartedAt    time.Time
	LastUpdate   time.Time
	CurrentEpoch int
	TotalEpochs  int
	Metrics      map[string]float64
	Status       string // running | completed | failed
	ExitCode     int
	ErrorMessage string
}

var epochRe = regexp.MustCompile(`(?i)epoch[:\s]*(\d+)\s*/\s*(\d+)`)

// metricPatterns map common training log lines to metric names. Values
// above 1.0 are treated as percentages except for loss.
var metricPatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)loss[:\s]+([\d.]+)`), "loss"},
	{regexp.MustCompile(`(?i)I-AUROC[:\s=]+([\d.]+)`), "I-AUROC"},
	{regexp.MustCompile(`(?i)P-AUROC[:\s=]+([\d.]+)`), "P-AUROC"},
	{regexp.MustCompile(`(?i)I-AP[:\s=]+([\d.]+)`), "I-AP"},
	{regexp.MustCompile(`(?i)P-AP[:\s=]+([\d.]+)`), "P-AP"},
	{regexp.MustCompile(`(?i)I-F1[:\s=]+([\d.]+)`), "I-F1"},
	{regexp.MustCompile(`(?i)P-F1[:\s=]+([\d.]+)`), "P-F1"},
	{regexp.MustCompile(`(?i)AUPRO[:\s=]+([\d.]+)`), "AUPRO"},
	{regexp.MustCompile(`(?i)pixel\s*ap[:\s]+([\d.]+)`), "pixel_ap"},
	{regexp.MustCompile(`(?i)image\s*auc[:\s]+([\d.]+)`), "image_auc"},
	{regexp.MustCompile(`(?i)accuracy[:\s]+([\d.]+)`), "accuracy"},
	{regexp.MustCompile(`(?i)auc[:\s=]+([\d.]+)`), "auc"},
}

func (p *Progress) parseLine(line string) {
	if m := epochRe.FindStringSubmatch(line); m != nil {
		p.CurrentEpoch, _ = strconv.Atoi(m[1])
		p.TotalEpochs, _ = strconv.Atoi(m[2])
	}

	for _, mp := range metricPatterns {
		m := mp.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if v > 1.0 && mp.name != "loss" {
			v /= 100.0
		}
		if p.Metrics == nil {
			p.Metrics = make(map[string]float64)
		}
		p.Metrics[mp.name] = v
	}
}

// MetricsText renders the tracked metrics as "- name: value" lines.
func (p *Progress) MetricsText() string {
	if len(p.Metrics) == 0 {
		return ""
	}
	var lines []string
	for name, v := range p.Metrics {
		if name == "loss" {
			lines = append(lines, fmt.Sprintf("  - %s: %.4f", name, v))
		} else {
			lines = append(lines, fmt.Sprintf("  - %s: %.2f%%", name, v*100))
		}
	}
	return strings.Join(lines, "\n")
}

// Monitor runs a shell command with its output redirected to a log file and
// watches that log for progress and completion signals. fsnotify delivers
// prompt updates; a ticker covers filesystems without inotify support.
type Monitor struct {
	TaskID       string
	Command      string
	WorkDir      string
	LogFile      string
	Patterns     *CompletionPatterns
	PollInterval time.Duration
	StallAfter   time.Duration

	// OnUpdate is invoked with a snapshot after each log scan (for
	// display). The snapshot stays valid after the run moves on.
	OnUpdate func(*Progress)

	progress Progress
	logPos   int64
}

// Run starts the command and blocks until it completes, fails, stalls, or
// times out. The returned Progress is always non-nil.
func (m *Monitor) Run(ctx context.Context) (*Progress, error) {
	if m.Patterns == nil {
		m.Patterns = DefaultPatterns()
	}
	if m.PollInterval <= 0 {
		m.PollInterval = 5 * time.Second
	}
	if m.StallAfter <= 0 {
		m.StallAfter = 10 * time.Minute
	}
	if m.LogFile == "" {
		m.LogFile = fmt.Sprintf("collab_%s.log", sanitizeTaskID(m.TaskID))
	}

	m.progress = Progress{
		TaskID:     m.TaskID,
		StartedAt:  time.Now(),
		LastUpdate: time.Now(),
		Status:     "running",
	}

	logPath := filepath.Join(m.WorkDir, m.LogFile)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return m.fail(fmt.Sprintf("create log dir: %v", err), -1)
	}
	logHandle, err := os.Create(logPath)
	if err != nil {
		return m.fail(fmt.Sprintf("create log file: %v", err), -1)
	}
	defer logHandle.Close()

	cmd := monitorCommandContext(ctx, "sh", "-c", m.Command)
	cmd.Dir = m.WorkDir
	cmd.Stdout = logHandle
	cmd.Stderr = logHandle
	if err := cmd.Start(); err != nil {
		return m.fail(fmt.Sprintf("start command: %v", err), -1)
	}

	log.Printf("[Monitor] %s: started (pid %d), logging to %s", m.TaskID, cmd.Process.Pid, logPath)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	// fsnotify gives immediate updates on log writes; the ticker below is
	// the fallback when the watch cannot be established.
	var watchCh chan fsnotify.Event
	if watcher, werr := fsnotify.NewWatcher(); werr == nil {
		defer watcher.Close()
		if werr = watcher.Add(filepath.Dir(logPath)); werr == nil {
			watchCh = make(chan fsnotify.Event, 16)
			go func() {
				for {
					select {
					case ev, ok := <-watcher.Events:
						if !ok {
							return
						}
						if ev.Name == logPath && ev.Has(fsnotify.Write) {
							select {
							case watchCh <- ev:
							default:
							}
						}
					case <-watcher.Errors:
					}
				}
			}()
		}
	}

	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(m.Patterns.Timeout)
	defer timeout.Stop()

	for {
		select {
		case err := <-waitCh:
			m.scanLog(logPath)
			m.checkCompletion(logPath)
			if m.progress.Status == "running" {
				if err != nil {
					code := exitCodeOf(err)
					return m.fail(fmt.Sprintf("process exited with code %d", code), code)
				}
				m.progress.Status = "completed"
			}
			if m.progress.Status == "failed" {
				m.progress.ExitCode = exitCodeOf(err)
			}
			return &m.progress, nil

		case <-watchCh:
			if m.step(logPath, cmd) {
				<-waitCh
				return &m.progress, nil
			}

		case <-ticker.C:
			if m.step(logPath, cmd) {
				<-waitCh
				return &m.progress, nil
			}
			// Stall detection only after the startup window.
			elapsed := time.Since(m.progress.StartedAt)
			idle := time.Since(m.progress.LastUpdate)
			if elapsed > 2*time.Minute && idle > m.StallAfter {
				_ = cmd.Process.Kill()
				<-waitCh
				return m.fail(fmt.Sprintf("process stalled (no log updates for %s)", idle.Round(time.Second)), -1)
			}

		case <-timeout.C:
			_ = cmd.Process.Kill()
			<-waitCh
			return m.fail(fmt.Sprintf("timed out after %s", m.Patterns.Timeout), -1)

		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-waitCh
			return m.fail("cancelled", -1)
		}
	}
}

// step scans new log lines and checks completion; true means the run is
// decided and the process has been told to stop.
func (m *Monitor) step(logPath string, cmd *exec.Cmd) bool {
	m.scanLog(logPath)
	if m.OnUpdate != nil {
		snapshot := m.progress
		m.OnUpdate(&snapshot)
	}
	if m.checkCompletion(logPath) {
		_ = cmd.Process.Kill()
		return true
	}
	return false
}

func (m *Monitor) fail(msg string, code int) (*Progress, error) {
	m.progress.Status = "failed"
	m.progress.ErrorMessage = msg
	m.progress.ExitCode = code
	return &m.progress, nil
}

// scanLog reads log lines appended since the last scan.
func (m *Monitor) scanLog(logPath string) {
	f, err := os.Open(logPath)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(m.logPos, 0); err != nil {
		return
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanned := false
	for scanner.Scan() {
		m.progress.parseLine(scanner.Text())
		scanned = true
	}
	if pos, err := f.Seek(0, 1); err == nil {
		m.logPos = pos
	}
	if scanned {
		m.progress.LastUpdate = time.Now()
	}
}

// checkCompletion matches the completion patterns against the log tail.
// Failure patterns win over success patterns.
func (m *Monitor) checkCompletion(logPath string) bool {
	content := TailLines(logPath, 1000)
	if content == "" {
		return false
	}

	for _, re := range m.Patterns.Failure {
		if re.MatchString(content) {
			m.progress.Status = "failed"
			m.progress.ErrorMessage = errorContext(content, re)
			return true
		}
	}
	for _, re := range m.Patterns.Success {
		if re.MatchString(content) {
			m.progress.Status = "completed"
			return true
		}
	}
	return false
}

// errorContext captures lines around the first failure match: a few lines
// before and enough after to include a traceback.
func errorContext(content string, re *regexp.Regexp) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		start := i - 5
		if start < 0 {
			start = 0
		}
		end := i + 21
		if end > len(lines) {
			end = len(lines)
		}
		return strings.Join(lines[start:end], "\n")
	}

	loc := re.FindStringIndex(content)
	if loc == nil {
		return ""
	}
	start := loc[0] - 200
	if start < 0 {
		start = 0
	}
	end := loc[1] + 200
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}

// TailLines returns the last n lines of a file, or "" when unreadable.
func TailLines(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

var taskIDCleanRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func sanitizeTaskID(id string) string {
	s := taskIDCleanRe.ReplaceAllString(id, "_")
	if s == "" {
		return "task"
	}
	return s
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}
