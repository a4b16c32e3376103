// Package fileref expands file references embedded in prompt text.
//
// Supported syntaxes:
//
//	/abs/path/to/file.go    absolute path
//	/rel/path/file.go       path relative to the working directory
//	@filename.go            recursive search under the working directory
//	@subdir/file.go         relative path searched from the working directory
package fileref

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// MaxFileBytes caps each attached file (roughly 8k tokens).
const MaxFileBytes = 32000

// Go regexps have no lookbehind; a leading capture group stands in for the
// "not preceded by quote/colon" guard of the reference syntax.
var (
	absRefRe = regexp.MustCompile(`(^|[^"':])(/[\w./_\-]+\.[A-Za-z0-9]+)`)
	atRefRe  = regexp.MustCompile(`(^|[^"'\w])@([\w./\-_]+\.[A-Za-z0-9]+)`)
)

var extLang = map[string]string{
	".py": "python", ".js": "javascript", ".ts": "typescript",
	".sh": "bash", ".md": "markdown", ".yaml": "yaml",
	".yml": "yaml", ".json": "json", ".toml": "toml",
	".txt": "", ".csv": "", ".cpp": "cpp",
	".c": "c", ".h": "c", ".java": "java",
	".rs": "rust", ".go": "go", ".sql": "sql",
	".html": "html", ".css": "css", ".ini": "ini",
	".cfg": "ini", ".log": "", ".xml": "xml",
}

type attachment struct {
	display string
	absPath string
	content string
}

// Expand scans text for file references, appends the content of every
// reference that resolves to a readable file, and returns the expanded text
// plus the absolute paths that were attached.
func Expand(text, cwd string) (string, []string) {
	if cwd == "" {
		cwd = "."
	}

	var resolved []attachment
	seen := make(map[string]bool)

	tryAdd := func(display, absPath string) {
		absPath = filepath.Clean(absPath)
		if seen[absPath] {
			return
		}
		info, err := os.Stat(absPath)
		if err != nil || info.IsDir() {
			return
		}
		content, err := readCapped(absPath)
		if err != nil {
			return
		}
		seen[absPath] = true
		resolved = append(resolved, attachment{display, absPath, content})
	}

	for _, m := range absRefRe.FindAllStringSubmatch(text, -1) {
		raw := m[2]
		abs := raw
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(cwd, abs)
		}
		tryAdd(raw, abs)
	}

	for _, m := range atRefRe.FindAllStringSubmatch(text, -1) {
		raw := m[2]
		if found := findByName(raw, cwd); found != "" {
			tryAdd("@"+raw, found)
		}
	}

	if len(resolved) == 0 {
		return text, nil
	}

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n\n---\n**Attached files:**")
	paths := make([]string, 0, len(resolved))
	for _, a := range resolved {
		lang := extLang[strings.ToLower(filepath.Ext(a.absPath))]
		lines := strings.Count(a.content, "\n") + 1
		fmt.Fprintf(&b, "\n\n### %s  (%d lines)\n```%s\n%s\n```", a.display, lines, lang, a.content)
		paths = append(paths, a.absPath)
	}
	return b.String(), paths
}

// findByName resolves an @-reference: exact relative path first, then a
// recursive search for the basename. When several files share the basename,
// matches that end with the referenced subpath win.
func findByName(name, cwd string) string {
	full := filepath.Clean(filepath.Join(cwd, name))
	if info, err := os.Stat(full); err == nil && !info.IsDir() {
		return full
	}

	base := filepath.Base(name)
	var matches []string
	_ = filepath.WalkDir(cwd, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == base {
			matches = append(matches, path)
		}
		return nil
	})

	if len(matches) > 1 && strings.Contains(name, "/") {
		suffix := filepath.FromSlash(name)
		var preferred []string
		for _, m := range matches {
			if strings.HasSuffix(m, suffix) {
				preferred = append(preferred, m)
			}
		}
		if len(preferred) > 0 {
			matches = preferred
		}
	}
	if len(matches) == 0 {
		return ""
	}
	return matches[0]
}

// skipDirs are directories never searched for candidates or @-references.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true,
	".venv": true, "venv": true, "vendor": true,
}

// Candidates lists files under cwd whose name matches pattern, as paths
// relative to cwd. A pattern with glob metacharacters matches the basename
// with filepath.Match; otherwise a case-insensitive substring match is
// used. At most 40 results are returned, sorted.
func Candidates(pattern, cwd string) []string {
	if cwd == "" {
		cwd = "."
	}
	isGlob := strings.ContainsAny(pattern, "*?[")
	lower := strings.ToLower(pattern)

	var out []string
	_ = filepath.WalkDir(cwd, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if skipDirs[name] || (name != "." && strings.HasPrefix(name, ".") && path != cwd) {
				return fs.SkipDir
			}
			return nil
		}
		name := d.Name()
		match := false
		if isGlob {
			match, _ = filepath.Match(pattern, name)
		} else {
			match = strings.Contains(strings.ToLower(name), lower)
		}
		if match {
			if rel, err := filepath.Rel(cwd, path); err == nil {
				out = append(out, rel)
			}
		}
		return nil
	})

	sort.Strings(out)
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}

func readCapped(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, MaxFileBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", err
	}
	content := string(buf[:n])
	if n >= MaxFileBytes {
		content += "\n... [file truncated]"
	}
	return content, nil
}
