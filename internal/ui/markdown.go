package ui

import (
	"github.com/charmbracelet/glamour"
)

// noMarginStyle strips glamour's document margins so agent output lines up
// with the rest of the display.
const noMarginStyle = `{
	"document": {
		"margin": 0,
		"block_prefix": "",
		"block_suffix": ""
	}
}`

// RenderMarkdown renders agent markdown for the terminal. Non-terminal
// output and rendering failures fall back to the raw text.
func RenderMarkdown(text string, width int) string {
	if !IsTerminal() {
		return text
	}
	if width <= 0 {
		width = 100
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithStylesFromJSONBytes([]byte(noMarginStyle)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return out
}
