package tui

import "charm.land/bubbles/v2/key"

// keyMap holds the editor's fixed bindings. History chords live in the
// commands registry and are listed alongside these in help.
type keyMap struct {
	quit         key.Binding
	back         key.Binding
	toggleHelp   key.Binding
	moveUp       key.Binding
	moveDown     key.Binding
	open         key.Binding
	newFunnel    key.Binding
	reload       key.Binding
	deleteFunnel key.Binding
	restore      key.Binding
	showArchived key.Binding
	renameFunnel key.Binding
	editDesc     key.Binding
	addStep      key.Binding
	renameStep   key.Binding
	removeStep   key.Binding
	moveStepUp   key.Binding
	moveStepDown key.Binding
	togglePub    key.Binding
	save         key.Binding
	copyJSON     key.Binding
}

// newKeyMap constructs the default editor bindings.
func newKeyMap() keyMap {
	return keyMap{
		quit:         key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		back:         key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		toggleHelp:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		moveUp:       key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
		moveDown:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
		open:         key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		newFunnel:    key.NewBinding(key.WithKeys("N", "shift+n"), key.WithHelp("N", "new funnel")),
		reload:       key.NewBinding(key.WithKeys("R", "shift+r"), key.WithHelp("R", "reload")),
		deleteFunnel: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "delete funnel")),
		restore:      key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "restore funnel")),
		showArchived: key.NewBinding(key.WithKeys("A", "shift+a"), key.WithHelp("A", "show archived")),
		renameFunnel: key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "rename funnel")),
		editDesc:     key.NewBinding(key.WithKeys("E", "shift+e"), key.WithHelp("E", "edit description")),
		addStep:      key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "add step")),
		renameStep:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "rename step")),
		removeStep:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "remove step")),
		moveStepUp:   key.NewBinding(key.WithKeys("["), key.WithHelp("[", "move step up")),
		moveStepDown: key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "move step down")),
		togglePub:    key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "publish/unpublish")),
		save:         key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "save")),
		copyJSON:     key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy json")),
	}
}

// pickerHelp lists bindings active in the funnel picker.
type pickerHelp struct {
	k keyMap
}

// ShortHelp returns the picker's one-line help.
func (h pickerHelp) ShortHelp() []key.Binding {
	return []key.Binding{h.k.open, h.k.newFunnel, h.k.moveDown, h.k.moveUp, h.k.reload, h.k.quit}
}

// FullHelp returns the picker's expanded help.
func (h pickerHelp) FullHelp() [][]key.Binding {
	return [][]key.Binding{h.ShortHelp(), {h.k.deleteFunnel, h.k.restore, h.k.showArchived, h.k.toggleHelp}}
}

// editorHelp lists bindings active while a funnel is open, including the
// history chords currently in the registry.
type editorHelp struct {
	k       keyMap
	history []key.Binding
}

// ShortHelp returns the editor's one-line help.
func (h editorHelp) ShortHelp() []key.Binding {
	out := []key.Binding{h.k.renameFunnel, h.k.addStep, h.k.save}
	out = append(out, h.history...)
	return append(out, h.k.toggleHelp, h.k.back)
}

// FullHelp returns the editor's expanded help.
func (h editorHelp) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{h.k.renameFunnel, h.k.editDesc, h.k.togglePub, h.k.save, h.k.copyJSON},
		{h.k.addStep, h.k.renameStep, h.k.removeStep, h.k.moveStepUp, h.k.moveStepDown, h.k.moveDown, h.k.moveUp},
		h.history,
		{h.k.toggleHelp, h.k.back, h.k.quit},
	}
}
