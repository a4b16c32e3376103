package router

import (
	"fmt"
	"regexp"
	"strings"
)

// Default keyword lists. Claude leans toward reasoning-heavy work, codex
// toward hands-on code changes. Overridable from the config file.
var (
	DefaultClaudeKeywords = []string{
		"analyze", "analysis", "review", "explain", "understand", "design",
		"architecture", "research", "compare", "evaluate", "plan",
		"document", "summarize", "investigate", "why", "trade-off",
		"hypothesis", "brainstorm",
	}
	DefaultCodexKeywords = []string{
		"implement", "fix", "refactor", "write", "code", "test", "debug",
		"build", "optimize", "migrate", "script", "patch", "bug",
		"function", "class", "api", "endpoint", "benchmark",
	}
)

// Router scores task text against the two keyword lists.
type Router struct {
	claudeKeywords []string
	codexKeywords  []string
	defaultAgent   string
}

// Decision is the outcome of classifying one task.
type Decision struct {
	Agent         string
	ClaudeScore   int
	CodexScore    int
	MatchedClaude []string
	MatchedCodex  []string
}

// New builds a router. Empty keyword slices fall back to the defaults;
// empty defaultAgent falls back to claude.
func New(claudeKeywords, codexKeywords []string, defaultAgent string) *Router {
	if len(claudeKeywords) == 0 {
		claudeKeywords = DefaultClaudeKeywords
	}
	if len(codexKeywords) == 0 {
		codexKeywords = DefaultCodexKeywords
	}
	if defaultAgent == "" {
		defaultAgent = "claude"
	}
	return &Router{
		claudeKeywords: claudeKeywords,
		codexKeywords:  codexKeywords,
		defaultAgent:   defaultAgent,
	}
}

// Classify picks the agent for a task by keyword score. Ties go to the
// default agent.
func (r *Router) Classify(task string) Decision {
	lower := strings.ToLower(task)

	d := Decision{}
	for _, kw := range r.claudeKeywords {
		if wordInText(kw, lower) {
			d.MatchedClaude = append(d.MatchedClaude, kw)
		}
	}
	for _, kw := range r.codexKeywords {
		if wordInText(kw, lower) {
			d.MatchedCodex = append(d.MatchedCodex, kw)
		}
	}
	d.ClaudeScore = len(d.MatchedClaude)
	d.CodexScore = len(d.MatchedCodex)

	switch {
	case d.ClaudeScore > d.CodexScore:
		d.Agent = "claude"
	case d.CodexScore > d.ClaudeScore:
		d.Agent = "codex"
	default:
		d.Agent = r.defaultAgent
	}
	return d
}

// Explain renders the routing rationale for display.
func (r *Router) Explain(task string) string {
	d := r.Classify(task)

	var b strings.Builder
	fmt.Fprintf(&b, "Routing decision: → %s\n", strings.ToUpper(d.Agent))
	if len(d.MatchedClaude) > 0 {
		fmt.Fprintf(&b, "  Claude signals (%d): %s\n", len(d.MatchedClaude), strings.Join(head(d.MatchedClaude, 5), ", "))
	}
	if len(d.MatchedCodex) > 0 {
		fmt.Fprintf(&b, "  Codex signals  (%d): %s\n", len(d.MatchedCodex), strings.Join(head(d.MatchedCodex, 5), ", "))
	}
	if len(d.MatchedClaude) == 0 && len(d.MatchedCodex) == 0 {
		fmt.Fprintf(&b, "  No keywords matched → default: %s\n", r.defaultAgent)
	}
	return strings.TrimRight(b.String(), "\n")
}

// wordInText reports whether the keyword appears in the text on a word
// boundary. Multi-word keywords match as plain substrings.
func wordInText(keyword, text string) bool {
	if strings.Contains(keyword, " ") {
		return strings.Contains(text, keyword)
	}
	pattern := `(^|[\s.,;:!?\-])` + regexp.QuoteMeta(keyword) + `($|[\s.,;:!?\-])`
	matched, _ := regexp.MatchString(pattern, text)
	return matched || strings.Contains(text, keyword)
}

func head(list []string, n int) []string {
	if len(list) <= n {
		return list
	}
	return list[:n]
}
