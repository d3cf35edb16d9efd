package tui

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/evanschultz/funnel/internal/app"
	"github.com/evanschultz/funnel/internal/commands"
	"github.com/evanschultz/funnel/internal/domain"
	"github.com/evanschultz/funnel/internal/history"
)

// Service is the funnel surface the editor needs.
type Service interface {
	ListFunnels(context.Context, bool) ([]domain.Funnel, error)
	CreateFunnel(context.Context, string, string) (domain.Funnel, error)
	OpenSession(context.Context, string) (*app.Session, error)
	DeleteFunnel(context.Context, string, app.DeleteMode) error
	RestoreFunnel(context.Context, string) (domain.Funnel, error)
	ResolveDeleteMode(app.DeleteMode) app.DeleteMode
}

// inputMode identifies the text prompt that currently owns the keyboard.
type inputMode int

// modeNone and related constants define the editor prompts.
const (
	modeNone inputMode = iota
	modeNewFunnel
	modeRenameFunnel
	modeEditDescription
	modeAddStep
	modeRenameStep
)

// Model is the bubbletea model for the funnel picker and editor.
type Model struct {
	svc Service

	ready  bool
	width  int
	height int
	err    error
	status string

	help help.Model
	keys keyMap

	registry      *commands.Registry
	historyKeys   commands.Keys
	unbindHistory func()

	copyText ClipboardWriter
	markdown *markdownRenderer

	funnels        []domain.Funnel
	selectedFunnel int
	pendingOpenID  string
	showArchived   bool
	confirmDelete  string

	session        *app.Session
	selectedStep   int
	showHistory    bool
	historyIndex   int
	confirmDiscard bool

	mode  inputMode
	input textinput.Model
}

// loadedMsg carries the funnel list.
type loadedMsg struct {
	funnels []domain.Funnel
	err     error
}

// createdMsg reports a newly created funnel.
type createdMsg struct {
	funnel domain.Funnel
	err    error
}

// sessionOpenedMsg carries a freshly opened editing session.
type sessionOpenedMsg struct {
	session *app.Session
	err     error
}

// savedMsg reports the outcome of a save.
type savedMsg struct {
	funnel domain.Funnel
	err    error
}

// lifecycleMsg reports a picker delete or restore.
type lifecycleMsg struct {
	status string
	err    error
}

// NewModel constructs the editor model over svc.
func NewModel(svc Service, opts ...Option) Model {
	h := help.New()
	h.ShowAll = false
	m := Model{
		svc:         svc,
		status:      "loading...",
		help:        h,
		keys:        newKeyMap(),
		registry:    commands.NewRegistry(),
		historyKeys: commands.DefaultKeys(),
		copyText:    defaultClipboard,
		markdown:    &markdownRenderer{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}

// Init loads the funnel list.
func (m Model) Init() tea.Cmd {
	return m.loadData
}

// Update applies one message to the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.funnels = msg.funnels
		m.selectedFunnel = clamp(m.selectedFunnel, 0, len(m.funnels)-1)
		if m.pendingOpenID != "" {
			id := m.pendingOpenID
			m.pendingOpenID = ""
			for idx, f := range m.funnels {
				if f.ID == id {
					m.selectedFunnel = idx
					return m, m.openSession(id)
				}
			}
			m.status = fmt.Sprintf("funnel %q not found", id)
			return m, nil
		}
		if len(m.funnels) == 0 {
			m.status = "no funnels yet"
		} else if m.status == "" || m.status == "loading..." {
			m.status = "ready"
		}
		return m, nil

	case createdMsg:
		if msg.err != nil {
			m.status = "create failed: " + msg.err.Error()
			return m, nil
		}
		m.pendingOpenID = msg.funnel.ID
		m.status = "created " + msg.funnel.Name
		return m, m.loadData

	case sessionOpenedMsg:
		if msg.err != nil {
			m.status = "open failed: " + msg.err.Error()
			return m, nil
		}
		m.attachSession(msg.session)
		return m, nil

	case savedMsg:
		if msg.err != nil {
			m.status = "save failed: " + msg.err.Error()
			return m, nil
		}
		for idx, f := range m.funnels {
			if f.ID == msg.funnel.ID {
				m.funnels[idx] = msg.funnel
			}
		}
		m.status = "saved"
		return m, nil

	case lifecycleMsg:
		if msg.err != nil {
			m.status = msg.status + " failed: " + msg.err.Error()
			return m, nil
		}
		m.status = msg.status
		return m, m.loadData

	case tea.KeyPressMsg:
		if m.err != nil {
			return m.handleErrorKey(msg)
		}
		if m.mode != modeNone {
			return m.handleInputKey(msg)
		}
		if m.session != nil {
			return m.handleEditorKey(msg)
		}
		return m.handlePickerKey(msg)

	default:
		return m, nil
	}
}

// loadData loads the funnel list.
func (m Model) loadData() tea.Msg {
	funnels, err := m.svc.ListFunnels(context.Background(), m.showArchived)
	return loadedMsg{funnels: funnels, err: err}
}

// openSession opens an editing session for funnelID.
func (m Model) openSession(funnelID string) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		sess, err := svc.OpenSession(context.Background(), funnelID)
		return sessionOpenedMsg{session: sess, err: err}
	}
}

// createFunnel creates a funnel named name.
func (m Model) createFunnel(name string) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		f, err := svc.CreateFunnel(context.Background(), name, "")
		return createdMsg{funnel: f, err: err}
	}
}

// saveSession persists the open session.
func (m Model) saveSession() tea.Cmd {
	sess := m.session
	if sess == nil {
		return nil
	}
	return func() tea.Msg {
		f, err := sess.Save(context.Background())
		return savedMsg{funnel: f, err: err}
	}
}

// deleteFunnel removes f using the configured default delete mode.
func (m Model) deleteFunnel(f domain.Funnel) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		mode := svc.ResolveDeleteMode("")
		if err := svc.DeleteFunnel(context.Background(), f.ID, mode); err != nil {
			return lifecycleMsg{status: "delete", err: err}
		}
		return lifecycleMsg{status: fmt.Sprintf("deleted %s (%s)", f.Name, mode)}
	}
}

// restoreFunnel brings an archived funnel back into the active list.
func (m Model) restoreFunnel(f domain.Funnel) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		restored, err := svc.RestoreFunnel(context.Background(), f.ID)
		if err != nil {
			return lifecycleMsg{status: "restore", err: err}
		}
		return lifecycleMsg{status: "restored " + restored.Name}
	}
}

// attachSession makes sess the open session and installs its history chords.
func (m *Model) attachSession(sess *app.Session) {
	m.detachSession()
	m.session = sess
	m.selectedStep = 0
	m.showHistory = false
	m.historyIndex = 0
	m.confirmDiscard = false

	teardown := commands.BindHistory(m.registry, m.historyKeys)
	unregisterSave := m.registry.Register(m.historyKeys.Save, commands.ActionSave)
	m.unbindHistory = func() {
		teardown()
		unregisterSave()
	}
	m.status = "editing " + sess.Current().Name
}

// detachSession removes the history chords and closes the open session.
func (m *Model) detachSession() {
	if m.unbindHistory != nil {
		m.unbindHistory()
		m.unbindHistory = nil
	}
	if m.session != nil {
		m.session.Close()
		m.session = nil
	}
	m.showHistory = false
	m.confirmDiscard = false
}

// handleErrorKey handles keys while a load error is shown.
func (m Model) handleErrorKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.reload):
		m.err = nil
		m.status = "loading..."
		return m, m.loadData
	}
	return m, nil
}

// handlePickerKey handles keys in the funnel picker. Delete needs a second
// press on the same funnel.
func (m Model) handlePickerKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	pendingDelete := m.confirmDelete
	m.confirmDelete = ""
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggleHelp):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.moveDown):
		m.selectedFunnel = clamp(m.selectedFunnel+1, 0, len(m.funnels)-1)
	case key.Matches(msg, m.keys.moveUp):
		m.selectedFunnel = clamp(m.selectedFunnel-1, 0, len(m.funnels)-1)
	case key.Matches(msg, m.keys.reload):
		m.status = "loading..."
		return m, m.loadData
	case key.Matches(msg, m.keys.newFunnel):
		return m, m.startInput(modeNewFunnel, "new funnel: ", "funnel name", "")
	case key.Matches(msg, m.keys.open):
		if len(m.funnels) == 0 {
			m.status = "no funnels yet"
			return m, nil
		}
		return m, m.openSession(m.funnels[m.selectedFunnel].ID)
	case key.Matches(msg, m.keys.showArchived):
		m.showArchived = !m.showArchived
		m.status = "loading..."
		return m, m.loadData
	case key.Matches(msg, m.keys.deleteFunnel):
		if len(m.funnels) == 0 {
			return m, nil
		}
		f := m.funnels[m.selectedFunnel]
		if pendingDelete != f.ID {
			m.confirmDelete = f.ID
			m.status = fmt.Sprintf("delete %s (%s)? press x again", f.Name, m.svc.ResolveDeleteMode(""))
			return m, nil
		}
		return m, m.deleteFunnel(f)
	case key.Matches(msg, m.keys.restore):
		if len(m.funnels) == 0 {
			return m, nil
		}
		f := m.funnels[m.selectedFunnel]
		if f.ArchivedAt == nil {
			m.status = f.Name + " is not archived"
			return m, nil
		}
		return m, m.restoreFunnel(f)
	}
	return m, nil
}

// handleEditorKey handles keys while a funnel is open. Registry chords win
// over the fixed editor keys.
func (m Model) handleEditorKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	if action, ok := m.registry.Resolve(msg); ok {
		m.confirmDiscard = false
		return m.runAction(action)
	}
	if m.showHistory {
		if next, cmd, handled := m.handleHistoryKey(msg); handled {
			return next, cmd
		}
	}

	leaving := key.Matches(msg, m.keys.quit) || key.Matches(msg, m.keys.back)
	if leaving {
		if m.session.Dirty() && !m.confirmDiscard {
			m.confirmDiscard = true
			m.status = "unsaved changes • press again to discard, s to save"
			return m, nil
		}
		quit := key.Matches(msg, m.keys.quit)
		m.detachSession()
		if quit {
			return m, tea.Quit
		}
		m.status = "ready"
		return m, m.loadData
	}
	m.confirmDiscard = false

	current := m.session.Current()
	ctx := context.Background()
	switch {
	case key.Matches(msg, m.keys.toggleHelp):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.moveDown):
		m.selectedStep = clamp(m.selectedStep+1, 0, len(current.Steps)-1)
	case key.Matches(msg, m.keys.moveUp):
		m.selectedStep = clamp(m.selectedStep-1, 0, len(current.Steps)-1)
	case key.Matches(msg, m.keys.renameFunnel):
		return m, m.startInput(modeRenameFunnel, "name: ", "funnel name", current.Name)
	case key.Matches(msg, m.keys.editDesc):
		return m, m.startInput(modeEditDescription, "description: ", "markdown", current.Description)
	case key.Matches(msg, m.keys.addStep):
		return m, m.startInput(modeAddStep, "step: ", "name or name:kind", "")
	case key.Matches(msg, m.keys.renameStep):
		step, ok := m.currentStep()
		if !ok {
			m.status = "no step selected"
			return m, nil
		}
		return m, m.startInput(modeRenameStep, "step name: ", "step name", step.Name)
	case key.Matches(msg, m.keys.removeStep):
		step, ok := m.currentStep()
		if !ok {
			m.status = "no step selected"
			return m, nil
		}
		m.applyEdit("removed step "+step.Name, func() (domain.Funnel, error) {
			return m.session.RemoveStep(ctx, step.ID)
		})
	case key.Matches(msg, m.keys.moveStepUp):
		m.moveSelectedStep(-1)
	case key.Matches(msg, m.keys.moveStepDown):
		m.moveSelectedStep(1)
	case key.Matches(msg, m.keys.togglePub):
		next := domain.FunnelStatusPublished
		if current.Status == domain.FunnelStatusPublished {
			next = domain.FunnelStatusDraft
		}
		m.applyEdit("status "+string(next), func() (domain.Funnel, error) {
			return m.session.SetStatus(ctx, next)
		})
	case key.Matches(msg, m.keys.save):
		return m.runAction(commands.ActionSave)
	case key.Matches(msg, m.keys.copyJSON):
		m.copyCurrent()
	}
	return m, nil
}

// runAction executes one registry action against the open session.
func (m Model) runAction(action commands.Action) (tea.Model, tea.Cmd) {
	switch action {
	case commands.ActionUndo:
		label := lastApplied(m.session.Timeline())
		if res := m.session.Undo(); !res.OK {
			m.status = "nothing to undo"
			return m, nil
		}
		m.status = "undo: " + label
	case commands.ActionRedo:
		label := nextRedo(m.session.Timeline())
		if res := m.session.Redo(); !res.OK {
			m.status = "nothing to redo"
			return m, nil
		}
		m.status = "redo: " + label
	case commands.ActionToggleHistory:
		m.showHistory = !m.showHistory
		if m.showHistory {
			m.historyIndex = appliedCount(m.session.Timeline())
		}
		return m, nil
	case commands.ActionSave:
		m.status = "saving..."
		return m, m.saveSession()
	}
	m.clampStep()
	return m, nil
}

// initialStateLabel names the panel row above the oldest entry.
const initialStateLabel = "initial state"

// handleHistoryKey handles navigation inside the history panel. Row 0 is the
// initial state and row i is timeline entry i-1.
func (m Model) handleHistoryKey(msg tea.KeyPressMsg) (Model, tea.Cmd, bool) {
	timeline := m.session.Timeline()
	switch {
	case key.Matches(msg, m.keys.moveDown):
		m.historyIndex = clamp(m.historyIndex+1, 0, len(timeline))
	case key.Matches(msg, m.keys.moveUp):
		m.historyIndex = clamp(m.historyIndex-1, 0, len(timeline))
	case key.Matches(msg, m.keys.back):
		m.showHistory = false
	case key.Matches(msg, m.keys.open):
		if len(timeline) == 0 {
			m.status = "history is empty"
			return m, nil, true
		}
		row := clamp(m.historyIndex, 0, len(timeline))
		entryID, label := "", initialStateLabel
		if row > 0 {
			entryID, label = timeline[row-1].ID, timeline[row-1].Label
		}
		res, err := m.session.JumpTo(entryID)
		if err != nil {
			m.status = "jump failed: " + err.Error()
			return m, nil, true
		}
		if res.Steps == 0 {
			m.status = "already at " + label
		} else {
			m.status = "jumped to " + label
		}
		m.clampStep()
	default:
		return m, nil, false
	}
	return m, nil, true
}

// handleInputKey routes keys to the active prompt.
func (m Model) handleInputKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeNone
		m.input.Blur()
		m.status = "cancelled"
		return m, nil
	case "enter":
		return m.submitInput()
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submitInput applies the active prompt's value.
func (m Model) submitInput() (tea.Model, tea.Cmd) {
	mode := m.mode
	value := strings.TrimSpace(m.input.Value())
	m.mode = modeNone
	m.input.Blur()
	ctx := context.Background()

	switch mode {
	case modeNewFunnel:
		if value == "" {
			m.status = "funnel name is required"
			return m, nil
		}
		return m, m.createFunnel(value)
	case modeRenameFunnel:
		m.applyEdit("renamed funnel", func() (domain.Funnel, error) {
			return m.session.Rename(ctx, value)
		})
	case modeEditDescription:
		m.applyEdit("description updated", func() (domain.Funnel, error) {
			return m.session.SetDescription(ctx, value)
		})
	case modeAddStep:
		name, kind := parseStepInput(value)
		if m.applyEdit("added step "+name, func() (domain.Funnel, error) {
			return m.session.AddStep(ctx, name, kind)
		}) {
			m.selectedStep = len(m.session.Current().Steps) - 1
		}
	case modeRenameStep:
		step, ok := m.currentStep()
		if !ok {
			m.status = "no step selected"
			return m, nil
		}
		m.applyEdit("renamed step", func() (domain.Funnel, error) {
			return m.session.RenameStep(ctx, step.ID, value)
		})
	}
	return m, nil
}

// startInput opens a prompt seeded with value.
func (m *Model) startInput(mode inputMode, prompt, placeholder, value string) tea.Cmd {
	in := textinput.New()
	in.Prompt = prompt
	in.Placeholder = placeholder
	in.CharLimit = 240
	if value != "" {
		in.SetValue(value)
		in.CursorEnd()
	}
	m.input = in
	m.mode = mode
	return m.input.Focus()
}

// applyEdit runs one session edit and reports the outcome in the status line.
func (m *Model) applyEdit(label string, edit func() (domain.Funnel, error)) bool {
	if _, err := edit(); err != nil {
		m.status = "edit failed: " + err.Error()
		return false
	}
	m.status = label
	m.clampStep()
	return true
}

// moveSelectedStep moves the selected step by delta and keeps it selected.
func (m *Model) moveSelectedStep(delta int) {
	step, ok := m.currentStep()
	if !ok {
		m.status = "no step selected"
		return
	}
	target := m.selectedStep + delta
	if target < 0 || target >= len(m.session.Current().Steps) {
		return
	}
	if m.applyEdit("moved step "+step.Name, func() (domain.Funnel, error) {
		return m.session.MoveStep(context.Background(), step.ID, target)
	}) {
		m.selectedStep = target
	}
}

// copyCurrent copies the live funnel as JSON.
func (m *Model) copyCurrent() {
	data, err := app.EncodeFunnel(m.session.Current())
	if err != nil {
		m.status = "copy failed: " + err.Error()
		return
	}
	if err := m.copyText(string(data)); err != nil {
		m.status = "copy failed: " + err.Error()
		return
	}
	m.status = "copied funnel json"
}

// currentStep returns the selected step of the open funnel.
func (m Model) currentStep() (domain.Step, bool) {
	if m.session == nil {
		return domain.Step{}, false
	}
	steps := m.session.Current().Steps
	if m.selectedStep < 0 || m.selectedStep >= len(steps) {
		return domain.Step{}, false
	}
	return steps[m.selectedStep], true
}

// clampStep keeps the step cursor inside the live step list.
func (m *Model) clampStep() {
	if m.session == nil {
		m.selectedStep = 0
		return
	}
	m.selectedStep = clamp(m.selectedStep, 0, len(m.session.Current().Steps)-1)
}

// parseStepInput splits "name:kind" when kind is a known step kind.
func parseStepInput(raw string) (string, domain.StepKind) {
	raw = strings.TrimSpace(raw)
	idx := strings.LastIndex(raw, ":")
	if idx <= 0 {
		return raw, ""
	}
	kind := domain.StepKind(strings.ToLower(strings.TrimSpace(raw[idx+1:])))
	for _, known := range domain.StepKinds {
		if kind == known {
			return strings.TrimSpace(raw[:idx]), kind
		}
	}
	return raw, ""
}

// lastApplied returns the label of the entry Undo would revert.
func lastApplied(timeline []history.TimelineItem) string {
	label := ""
	for _, item := range timeline {
		if item.Applied {
			label = item.Label
		}
	}
	return label
}

// nextRedo returns the label of the entry Redo would reapply.
func nextRedo(timeline []history.TimelineItem) string {
	for _, item := range timeline {
		if !item.Applied {
			return item.Label
		}
	}
	return ""
}

// appliedCount counts entries on the undo side of the timeline.
func appliedCount(timeline []history.TimelineItem) int {
	n := 0
	for _, item := range timeline {
		if item.Applied {
			n++
		}
	}
	return n
}

// clamp bounds v to [minV, maxV], returning minV for empty ranges.
func clamp(v, minV, maxV int) int {
	if maxV < minV {
		return minV
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
