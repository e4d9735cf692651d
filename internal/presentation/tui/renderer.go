package tui

import (
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const defaultWidth = 100

// NewRenderer returns a function that renders markdown for w. On a terminal
// the output is styled and wrapped to its width; elsewhere the markdown is
// returned unchanged so it can be piped.
func NewRenderer(w io.Writer) func(string) (string, error) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return func(markdown string) (string, error) { return markdown, nil }
	}

	width := defaultWidth
	if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 && cols < width {
		width = cols
	}
	style := "dark"
	if !termenv.NewOutput(f).HasDarkBackground() {
		style = "light"
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}
	return r.Render
}
