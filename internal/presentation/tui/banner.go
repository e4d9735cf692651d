package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the espalier banner, coloured when w supports it.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	lines := []struct{ text, color string }{
		{"   ___  ___ _ __   __ _| (_) ___ _ __ ", "#34d399"},
		{"  / _ \\/ __| '_ \\ / _` | | |/ _ \\ '__|", "#10b981"},
		{" |  __/\\__ \\ |_) | (_| | | |  __/ |   ", "#059669"},
		{"  \\___||___/ .__/ \\__,_|_|_|\\___|_|   ", "#047857"},
		{"           |_|                        ", "#065f46"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintf(w, "  %s\n\n", out.String("v"+version).Faint())
}
