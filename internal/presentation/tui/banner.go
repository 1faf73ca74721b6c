package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the recall ASCII art banner to w.
func PrintBanner(w io.Writer) {
	p := termenv.NewOutput(w).ColorProfile()
	lines := []struct{ text, color string }{
		{"                         _ _ ", "#818cf8"},
		{"  _ __ ___  ___ __ _| | |", "#a78bfa"},
		{" | '__/ _ \\/ __/ _` | | |", "#c084fc"},
		{" | | |  __/ (_| (_| | | |", "#e879f9"},
		{" |_|  \\___|\\___\\__,_|_|_|", "#f472b6"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
