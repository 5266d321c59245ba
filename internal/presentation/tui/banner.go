package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text, color string
}{
	{"                  _  __ _               ", "#818cf8"},
	{"  _ __  _ __ __| |/ _| | _____      __", "#a78bfa"},
	{" | '_ \\| '__/ _` | |_| |/ _ \\ \\ /\\ / /", "#c084fc"},
	{" | |_) | | | (_| |  _| | (_) \\ V  V / ", "#e879f9"},
	{" | .__/|_|  \\__,_|_| |_|\\___/ \\_/\\_/  ", "#f472b6"},
	{" |_|                                  ", "#fb7185"},
}

// PrintBanner writes the prdflow banner to w.
func PrintBanner(w io.Writer) {
	out := termenv.NewOutput(w)
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w)
}
