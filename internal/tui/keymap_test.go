package tui

import (
	"slices"
	"testing"

	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
	"github.com/evanschultz/funnel/internal/commands"
)

// helpKeys flattens the help text of bindings for assertions.
func helpKeys(bindings []key.Binding) []string {
	out := make([]string, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, b.Help().Key)
	}
	return out
}

// TestNewKeyMapUppercaseAliases verifies shifted letters match both forms.
func TestNewKeyMapUppercaseAliases(t *testing.T) {
	km := newKeyMap()
	cases := []struct {
		name    string
		binding key.Binding
		msg     tea.KeyPressMsg
	}{
		{"new funnel text", km.newFunnel, tea.KeyPressMsg{Code: 'N', Text: "N"}},
		{"new funnel shift", km.newFunnel, tea.KeyPressMsg{Code: 'n', Mod: tea.ModShift}},
		{"reload text", km.reload, tea.KeyPressMsg{Code: 'R', Text: "R"}},
		{"edit description text", km.editDesc, tea.KeyPressMsg{Code: 'E', Text: "E"}},
		{"quit ctrl+c", km.quit, tea.KeyPressMsg{Code: 'c', Mod: tea.ModCtrl}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !key.Matches(tc.msg, tc.binding) {
				t.Fatalf("expected %q to match %v", tc.msg.String(), tc.binding.Keys())
			}
		})
	}
	if key.Matches(tea.KeyPressMsg{Code: 'n', Text: "n"}, km.newFunnel) {
		t.Fatal("lowercase n must stay bound to add step only")
	}
}

// TestPickerHelpListsOpenAndNew verifies the picker help content.
func TestPickerHelpListsOpenAndNew(t *testing.T) {
	h := pickerHelp{k: newKeyMap()}
	short := helpKeys(h.ShortHelp())
	for _, want := range []string{"enter", "N", "q"} {
		if !slices.Contains(short, want) {
			t.Fatalf("expected %q in picker short help %v", want, short)
		}
	}
	if slices.Contains(short, "n") {
		t.Fatalf("picker help must not list step keys, got %v", short)
	}
	full := h.FullHelp()
	if len(full) != 2 || !slices.Contains(helpKeys(full[1]), "?") {
		t.Fatalf("unexpected picker full help %#v", full)
	}
}

// TestEditorHelpIncludesRegistryBindings verifies history chords from the
// registry appear in both help views.
func TestEditorHelpIncludesRegistryBindings(t *testing.T) {
	reg := commands.NewRegistry()
	teardown := commands.BindHistory(reg, commands.DefaultKeys())
	defer teardown()

	h := editorHelp{k: newKeyMap(), history: reg.Bindings()}
	short := helpKeys(h.ShortHelp())
	for _, b := range reg.Bindings() {
		if !slices.Contains(short, b.Help().Key) {
			t.Fatalf("expected history key %q in editor short help %v", b.Help().Key, short)
		}
	}
	if short[len(short)-1] != "esc" {
		t.Fatalf("expected back to close the short help, got %v", short)
	}

	full := h.FullHelp()
	if len(full) != 4 {
		t.Fatalf("expected 4 help columns, got %d", len(full))
	}
	if len(full[2]) != reg.Len() {
		t.Fatalf("expected history column with %d bindings, got %d", reg.Len(), len(full[2]))
	}
	for _, want := range []string{"[", "]", "d", "r"} {
		if !slices.Contains(helpKeys(full[1]), want) {
			t.Fatalf("expected %q in step column %v", want, helpKeys(full[1]))
		}
	}
}

// TestEditorHelpWithoutHistory verifies help still renders with an empty registry.
func TestEditorHelpWithoutHistory(t *testing.T) {
	h := editorHelp{k: newKeyMap()}
	if got := len(h.ShortHelp()); got != 5 {
		t.Fatalf("expected 5 short bindings, got %d", got)
	}
	if got := len(h.FullHelp()[2]); got != 0 {
		t.Fatalf("expected empty history column, got %d", got)
	}
}
