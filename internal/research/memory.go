package research

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MemoryEntry is a single learning: a mistake, insight, success, or failure.
type MemoryEntry struct {
	Type      string `json:"type"`
	RoundNum  int    `json:"round_num"`
	StepName  string `json:"step_name"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Context   string `json:"context,omitempty"`
}

// Memory accumulates learnings across research rounds. It is persisted to
// research_memory.json plus a human-readable research_learnings.md.
type Memory struct {
	Goal      string              `json:"goal"`
	CreatedAt string              `json:"created_at"`
	Entries   []MemoryEntry       `json:"entries"`
	Patterns  map[string][]string `json:"patterns"`
}

// Keyword tables for automatic learning extraction from agent output.
var (
	mistakeKeywords = []string{
		"mistake", "error", "failed", "didn't work", "wrong approach",
		"incorrect", "bug", "issue", "problem",
	}
	insightKeywords = []string{
		"insight:", "discovered", "found that", "key finding",
		"important:", "learned", "realized",
	}
	successKeywords = []string{
		"success", "worked well", "improvement", "better than",
		"achieved", "solved", "optimal",
	}
)

// NewMemory creates an empty memory for the goal.
func NewMemory(goal string) *Memory {
	return &Memory{
		Goal:      goal,
		CreatedAt: time.Now().Format("2006-01-02 15:04:05"),
		Patterns:  make(map[string][]string),
	}
}

// LoadMemory reads research_memory.json from sessionDir, returning an empty
// memory when none exists yet.
func LoadMemory(sessionDir, goal string) *Memory {
	data, err := os.ReadFile(filepath.Join(sessionDir, "research_memory.json"))
	if err != nil {
		return NewMemory(goal)
	}

	var m Memory
	if err := json.Unmarshal(data, &m); err != nil {
		return NewMemory(goal)
	}
	if m.Goal == "" {
		m.Goal = goal
	}
	if m.Patterns == nil {
		m.Patterns = make(map[string][]string)
	}
	return &m
}

func (m *Memory) add(entryType string, roundNum int, stepName, content, context string) {
	m.Entries = append(m.Entries, MemoryEntry{
		Type:      entryType,
		RoundNum:  roundNum,
		StepName:  stepName,
		Content:   content,
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		Context:   context,
	})
}

// AddMistake records a mistake or failed approach.
func (m *Memory) AddMistake(roundNum int, stepName, content, context string) {
	m.add("mistake", roundNum, stepName, content, context)
}

// AddInsight records a valuable insight or discovery.
func (m *Memory) AddInsight(roundNum int, stepName, content, context string) {
	m.add("insight", roundNum, stepName, content, context)
}

// AddSuccess records a successful approach or technique.
func (m *Memory) AddSuccess(roundNum int, stepName, content, context string) {
	m.add("success", roundNum, stepName, content, context)
}

// AddFailure records a failed experiment.
func (m *Memory) AddFailure(roundNum int, stepName, content, context string) {
	m.add("failure", roundNum, stepName, content, context)
}

// AddPattern records an emerging cross-round pattern observation.
func (m *Memory) AddPattern(name, observation string) {
	m.Patterns[name] = append(m.Patterns[name], observation)
}

// ExtractLearnings scans agent output for learning signals by keyword and
// records at most one entry per category with surrounding context.
func (m *Memory) ExtractLearnings(output string, roundNum int, stepName string) {
	lower := strings.ToLower(output)

	if snippet := findSnippet(output, lower, mistakeKeywords, 50, 150); snippet != "" {
		m.AddMistake(roundNum, stepName, snippet, "")
	}
	if snippet := findSnippet(output, lower, insightKeywords, 20, 200); snippet != "" {
		m.AddInsight(roundNum, stepName, snippet, "")
	}
	if snippet := findSnippet(output, lower, successKeywords, 50, 150); snippet != "" {
		m.AddSuccess(roundNum, stepName, snippet, "")
	}
}

// findSnippet returns the text around the first matching keyword, or ""
// when no keyword hits or the captured snippet is too short to be useful.
func findSnippet(output, lower string, keywords []string, before, after int) string {
	for _, kw := range keywords {
		idx := strings.Index(lower, kw)
		if idx < 0 {
			continue
		}
		start := idx - before
		if start < 0 {
			start = 0
		}
		end := idx + after
		if end > len(output) {
			end = len(output)
		}
		snippet := strings.TrimSpace(output[start:end])
		if len(snippet) > 20 {
			return snippet
		}
	}
	return ""
}

// MistakesContext renders recent mistakes for prompt injection.
func (m *Memory) MistakesContext(maxRecent int) string {
	mistakes := m.filter("mistake", "failure")
	if len(mistakes) == 0 {
		return "No previous mistakes recorded."
	}
	lines := []string{"=== MISTAKES TO AVOID ==="}
	for _, e := range tail(mistakes, maxRecent) {
		lines = append(lines, fmt.Sprintf("- [R%d/%s] %s", e.RoundNum, e.StepName, e.Content))
	}
	return strings.Join(lines, "\n")
}

// InsightsContext renders recent insights for prompt injection.
func (m *Memory) InsightsContext(maxRecent int) string {
	insights := m.filter("insight", "success")
	if len(insights) == 0 {
		return "No insights recorded yet."
	}
	lines := []string{"=== KEY INSIGHTS ==="}
	for _, e := range tail(insights, maxRecent) {
		lines = append(lines, fmt.Sprintf("- [R%d/%s] %s", e.RoundNum, e.StepName, e.Content))
	}
	return strings.Join(lines, "\n")
}

// FullContext renders the memory digest injected into step prompts.
func (m *Memory) FullContext(maxPerType int) string {
	var parts []string

	if mistakes := m.filter("mistake", "failure"); len(mistakes) > 0 {
		parts = append(parts, "AVOID THESE (recent mistakes/failures):")
		for _, e := range tail(mistakes, maxPerType) {
			parts = append(parts, fmt.Sprintf("  - [R%d] %s", e.RoundNum, truncate(e.Content, 200)))
		}
		parts = append(parts, "")
	}

	if insights := m.filter("insight", "success"); len(insights) > 0 {
		parts = append(parts, "BUILD ON THESE (key insights/successes):")
		for _, e := range tail(insights, maxPerType) {
			parts = append(parts, fmt.Sprintf("  - [R%d] %s", e.RoundNum, truncate(e.Content, 200)))
		}
		parts = append(parts, "")
	}

	if len(m.Patterns) > 0 {
		parts = append(parts, "EMERGING PATTERNS:")
		for name, obs := range m.Patterns {
			parts = append(parts, fmt.Sprintf("  - %s: %d observations", name, len(obs)))
			if len(obs) > 0 {
				parts = append(parts, "    Latest: "+truncate(obs[len(obs)-1], 150))
			}
		}
		parts = append(parts, "")
	}

	if len(parts) == 0 {
		return "No learnings recorded yet. This is the first round."
	}
	return strings.Join(parts, "\n")
}

func (m *Memory) filter(types ...string) []MemoryEntry {
	var out []MemoryEntry
	for _, e := range m.Entries {
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func tail(entries []MemoryEntry, n int) []MemoryEntry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

// ToMarkdown renders the full learning log.
func (m *Memory) ToMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Learning Log\n\n")
	fmt.Fprintf(&b, "**Research Goal:** %s\n", m.Goal)
	fmt.Fprintf(&b, "**Created:** %s\n", m.CreatedAt)
	fmt.Fprintf(&b, "**Total Entries:** %d\n\n---\n\n", len(m.Entries))

	byType := make(map[string]int)
	for _, e := range m.Entries {
		byType[e.Type]++
	}
	b.WriteString("## Summary\n")
	for _, t := range []string{"mistake", "failure", "insight", "success"} {
		if byType[t] > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", titleCase(t), byType[t])
		}
	}
	b.WriteString("\n")

	if len(m.Patterns) > 0 {
		b.WriteString("## Emerging Patterns\n")
		for name, obs := range m.Patterns {
			fmt.Fprintf(&b, "\n### %s\n*%d observation(s)*\n\n", name, len(obs))
			for i, o := range obs {
				fmt.Fprintf(&b, "%d. %s\n", i+1, o)
			}
		}
		b.WriteString("\n---\n\n")
	}

	b.WriteString("## Chronological Log\n")
	for _, e := range m.Entries {
		fmt.Fprintf(&b, "\n### %s: Round %d - %s\n*%s*\n\n%s\n", titleCase(e.Type), e.RoundNum, e.StepName, e.Timestamp, e.Content)
		if e.Context != "" {
			fmt.Fprintf(&b, "\n**Context:** %s\n", e.Context)
		}
	}
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Save writes both the JSON store and the markdown log.
func (m *Memory) Save(sessionDir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(sessionDir, "research_memory.json"), data, 0o644); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(sessionDir, "research_learnings.md"), []byte(m.ToMarkdown()), 0o644); err != nil {
		return fmt.Errorf("write learnings: %w", err)
	}
	return nil
}
