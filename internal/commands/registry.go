// Package commands binds editor actions to configurable keyboard chords.
package commands

import (
	tea "charm.land/bubbletea/v2"

	"charm.land/bubbles/v2/key"
)

// Action identifies an editor command.
type Action string

// Action values.
const (
	ActionUndo          Action = "undo"
	ActionRedo          Action = "redo"
	ActionToggleHistory Action = "toggle_history"
	ActionSave          Action = "save"
)

// registration holds one binding-to-action mapping.
type registration struct {
	id      int
	binding key.Binding
	action  Action
}

// Registry resolves key presses to actions.
type Registry struct {
	entries []registration
	nextID  int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register maps binding to action. The returned func removes the mapping and
// is safe to call more than once.
func (r *Registry) Register(binding key.Binding, action Action) (unregister func()) {
	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, registration{id: id, binding: binding, action: action})
	return func() {
		for i, entry := range r.entries {
			if entry.id == id {
				r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
				return
			}
		}
	}
}

// Resolve returns the action bound to msg. When several bindings match, the
// most recently registered one wins.
func (r *Registry) Resolve(msg tea.KeyPressMsg) (Action, bool) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		entry := r.entries[i]
		if key.Matches(msg, entry.binding) {
			return entry.action, true
		}
	}
	return "", false
}

// Bindings lists registered bindings in registration order for help views.
func (r *Registry) Bindings() []key.Binding {
	out := make([]key.Binding, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.binding)
	}
	return out
}

// Len returns the number of registered bindings.
func (r *Registry) Len() int {
	return len(r.entries)
}
