package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

const minMarkdownWidth = 24

// markdownRenderer renders funnel descriptions. Undo and redo redraw the
// same description many times, so the last result is memoized.
type markdownRenderer struct {
	term  *glamour.TermRenderer
	wrap  int
	cache struct {
		src, out string
		wrap     int
	}
}

// termFor returns a glamour renderer wrapping at wrap columns, rebuilding it on width changes.
func (r *markdownRenderer) termFor(wrap int) (*glamour.TermRenderer, error) {
	if r.term != nil && r.wrap == wrap {
		return r.term, nil
	}
	term, err := glamour.NewTermRenderer(glamour.WithStandardStyle("dark"), glamour.WithWordWrap(wrap))
	if err != nil {
		return nil, err
	}
	r.term, r.wrap = term, wrap
	return term, nil
}

// render returns src as styled terminal text, or src unchanged when glamour fails.
func (r *markdownRenderer) render(src string, width int) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	wrap := max(width, minMarkdownWidth)
	if r.cache.src == src && r.cache.wrap == wrap {
		return r.cache.out
	}

	term, err := r.termFor(wrap)
	if err != nil {
		return src
	}
	out, err := term.Render(src)
	if err != nil {
		return src
	}
	r.cache.src, r.cache.wrap, r.cache.out = src, wrap, strings.Trim(out, "\n")
	return r.cache.out
}
