package tui

import (
	"strings"

	"github.com/atotto/clipboard"
	"github.com/evanschultz/funnel/internal/commands"
)

// ClipboardWriter copies text to the system clipboard.
type ClipboardWriter func(string) error

// Option configures a Model.
type Option func(*Model)

// WithHistoryKeys sets the undo, redo, history panel and save chords.
func WithHistoryKeys(keys commands.Keys) Option {
	return func(m *Model) {
		m.historyKeys = keys
	}
}

// WithClipboard replaces the system clipboard writer.
func WithClipboard(write ClipboardWriter) Option {
	return func(m *Model) {
		if write != nil {
			m.copyText = write
		}
	}
}

// WithOpenFunnel opens funnelID as soon as funnels load.
func WithOpenFunnel(funnelID string) Option {
	return func(m *Model) {
		m.pendingOpenID = strings.TrimSpace(funnelID)
	}
}

// defaultClipboard writes through the platform clipboard.
func defaultClipboard(text string) error {
	return clipboard.WriteAll(text)
}
