package commands

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"charm.land/bubbles/v2/key"
)

// Default chords.
const (
	DefaultUndoKey         = "ctrl+z"
	DefaultRedoKey         = "ctrl+shift+z"
	DefaultRedoAltKey      = "ctrl+y"
	DefaultHistoryPanelKey = "ctrl+h"
	DefaultSaveKey         = "ctrl+s"
)

// KeyConfig holds user-configured chords. Blank values use the defaults.
type KeyConfig struct {
	Undo         string
	Redo         string
	RedoAlt      string
	HistoryPanel string
	Save         string
}

// Keys holds the resolved history bindings.
type Keys struct {
	Undo         key.Binding
	Redo         key.Binding
	RedoAlt      key.Binding
	HistoryPanel key.Binding
	Save         key.Binding
}

// DefaultKeys returns the default history bindings.
func DefaultKeys() Keys {
	return NewKeys(KeyConfig{})
}

// NewKeys builds bindings from cfg.
func NewKeys(cfg KeyConfig) Keys {
	var k Keys
	ConfigureBinding(&k.Undo, cfg.Undo, DefaultUndoKey, "undo")
	ConfigureBinding(&k.Redo, cfg.Redo, DefaultRedoKey, "redo")
	ConfigureBinding(&k.RedoAlt, cfg.RedoAlt, DefaultRedoAltKey, "redo")
	ConfigureBinding(&k.HistoryPanel, cfg.HistoryPanel, DefaultHistoryPanelKey, "history")
	ConfigureBinding(&k.Save, cfg.Save, DefaultSaveKey, "save")
	return k
}

// BindHistory registers the undo, redo and history panel chords. The
// returned teardown unregisters all of them and must run when the editing
// session ends.
func BindHistory(reg *Registry, keys Keys) (teardown func()) {
	unregs := []func(){
		reg.Register(keys.Undo, ActionUndo),
		reg.Register(keys.Redo, ActionRedo),
		reg.Register(keys.RedoAlt, ActionRedo),
		reg.Register(keys.HistoryPanel, ActionToggleHistory),
	}
	return func() {
		for _, unreg := range unregs {
			unreg()
		}
	}
}

// ConfigureBinding rebinds b to raw, falling back to fallback when raw is blank.
func ConfigureBinding(b *key.Binding, raw, fallback, desc string) {
	keys, help := ParseBindingKeys(raw, fallback)
	b.SetKeys(keys...)
	b.SetHelp(help, desc)
	b.SetEnabled(true)
}

// ParseBindingKeys turns a configured chord into matcher keys and help text.
// "space" also matches a literal space, an uppercase rune also matches its
// shift+ form, and multi-rune chords match case-insensitively.
func ParseBindingKeys(raw, fallback string) ([]string, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = strings.TrimSpace(fallback)
	}
	if strings.EqualFold(raw, "space") {
		return []string{" ", "space"}, "space"
	}
	if utf8.RuneCountInString(raw) == 1 {
		r, _ := utf8.DecodeRuneInString(raw)
		if unicode.IsUpper(r) {
			return []string{raw, "shift+" + string(unicode.ToLower(r))}, raw
		}
		return []string{raw}, raw
	}
	return []string{strings.ToLower(raw)}, raw
}
