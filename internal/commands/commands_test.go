package commands

import (
	"testing"

	tea "charm.land/bubbletea/v2"

	"charm.land/bubbles/v2/key"
)

// TestParseBindingKeys verifies key parsing behavior for configured overrides.
func TestParseBindingKeys(t *testing.T) {
	t.Run("space aliases", func(t *testing.T) {
		keys, help := ParseBindingKeys("space", ".")
		if len(keys) != 2 || keys[0] != " " || keys[1] != "space" {
			t.Fatalf("unexpected parsed space keys %#v", keys)
		}
		if help != "space" {
			t.Fatalf("unexpected space help text %q", help)
		}
	})

	t.Run("uppercase rune includes shift alias", func(t *testing.T) {
		keys, help := ParseBindingKeys("Z", "z")
		if len(keys) != 2 || keys[0] != "Z" || keys[1] != "shift+z" {
			t.Fatalf("unexpected uppercase parsed keys %#v", keys)
		}
		if help != "Z" {
			t.Fatalf("unexpected uppercase help text %q", help)
		}
	})

	t.Run("multi rune lowercases key matcher", func(t *testing.T) {
		keys, help := ParseBindingKeys("Ctrl+Shift+Z", "ctrl+z")
		if len(keys) != 1 || keys[0] != "ctrl+shift+z" {
			t.Fatalf("unexpected multi-rune parsed keys %#v", keys)
		}
		if help != "Ctrl+Shift+Z" {
			t.Fatalf("unexpected multi-rune help text %q", help)
		}
	})

	t.Run("blank uses fallback", func(t *testing.T) {
		keys, help := ParseBindingKeys("  ", "ctrl+y")
		if len(keys) != 1 || keys[0] != "ctrl+y" {
			t.Fatalf("unexpected fallback parsed keys %#v", keys)
		}
		if help != "ctrl+y" {
			t.Fatalf("unexpected fallback help text %q", help)
		}
	})
}

// TestConfigureBinding verifies binding override application behavior.
func TestConfigureBinding(t *testing.T) {
	b := key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "old"))
	ConfigureBinding(&b, "u", "ctrl+z", "undo")
	keys := b.Keys()
	if len(keys) != 1 || keys[0] != "u" {
		t.Fatalf("unexpected configured keys %#v", keys)
	}
	if b.Help().Key != "u" || b.Help().Desc != "undo" {
		t.Fatalf("unexpected configured help %#v", b.Help())
	}
}

func TestDefaultKeys(t *testing.T) {
	k := DefaultKeys()
	cases := map[string]key.Binding{
		DefaultUndoKey:         k.Undo,
		DefaultRedoKey:         k.Redo,
		DefaultRedoAltKey:      k.RedoAlt,
		DefaultHistoryPanelKey: k.HistoryPanel,
		DefaultSaveKey:         k.Save,
	}
	for want, binding := range cases {
		if got := binding.Keys(); len(got) != 1 || got[0] != want {
			t.Fatalf("unexpected keys %#v, want %q", got, want)
		}
	}
}

func TestBindHistoryResolvesAndTearsDown(t *testing.T) {
	reg := NewRegistry()
	teardown := BindHistory(reg, DefaultKeys())
	if reg.Len() != 4 {
		t.Fatalf("expected 4 bindings, got %d", reg.Len())
	}

	cases := []struct {
		msg  tea.KeyPressMsg
		want Action
	}{
		{tea.KeyPressMsg{Code: 'z', Mod: tea.ModCtrl}, ActionUndo},
		{tea.KeyPressMsg{Code: 'z', Mod: tea.ModCtrl | tea.ModShift}, ActionRedo},
		{tea.KeyPressMsg{Code: 'y', Mod: tea.ModCtrl}, ActionRedo},
		{tea.KeyPressMsg{Code: 'h', Mod: tea.ModCtrl}, ActionToggleHistory},
	}
	for _, tc := range cases {
		got, ok := reg.Resolve(tc.msg)
		if !ok || got != tc.want {
			t.Fatalf("Resolve(%q) = %q, %v; want %q", tc.msg.String(), got, ok, tc.want)
		}
	}
	if _, ok := reg.Resolve(tea.KeyPressMsg{Code: 'z', Text: "z"}); ok {
		t.Fatal("expected plain z to be unbound")
	}

	teardown()
	teardown()
	if reg.Len() != 0 {
		t.Fatalf("expected teardown to remove all bindings, got %d", reg.Len())
	}
	if _, ok := reg.Resolve(tea.KeyPressMsg{Code: 'z', Mod: tea.ModCtrl}); ok {
		t.Fatal("expected undo to be unbound after teardown")
	}
}

func TestRegistryLatestRegistrationWins(t *testing.T) {
	reg := NewRegistry()
	b := key.NewBinding(key.WithKeys("ctrl+s"))
	reg.Register(b, ActionSave)
	unreg := reg.Register(b, ActionUndo)

	if got, _ := reg.Resolve(tea.KeyPressMsg{Code: 's', Mod: tea.ModCtrl}); got != ActionUndo {
		t.Fatalf("expected latest registration to win, got %q", got)
	}
	unreg()
	if got, _ := reg.Resolve(tea.KeyPressMsg{Code: 's', Mod: tea.ModCtrl}); got != ActionSave {
		t.Fatalf("expected earlier registration after unregister, got %q", got)
	}
	if len(reg.Bindings()) != 1 {
		t.Fatalf("unexpected bindings %#v", reg.Bindings())
	}
}
