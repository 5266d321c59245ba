package tui

import (
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewRenderer returns a markdown renderer for the terminal, or nil when
// glamour cannot be initialised. wrap is the word-wrap width; 0 keeps
// glamour's default.
func NewRenderer(wrap int) func(string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if wrap > 0 {
		opts = append(opts, glamour.WithWordWrap(wrap))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil
	}
	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// RendererFor returns a renderer when out is a terminal and nil otherwise,
// so piped output stays plain markdown.
func RendererFor(out *os.File) func(string) (string, error) {
	if !IsTerminal(out) {
		return nil
	}
	width := 0
	if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 20 {
		width = w - 4
	}
	return NewRenderer(width)
}
