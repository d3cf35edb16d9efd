package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/evanschultz/funnel/internal/domain"
	"github.com/evanschultz/funnel/internal/history"
)

// Session is one editing session over a single funnel. Every edit goes
// through the session's history so it can be undone and redone.
//
// Subscribers run while the session lock is held and must not call back into
// the session.
type Session struct {
	mu      sync.Mutex
	svc     *Service
	tracker *history.Tracker[domain.Funnel]
	store   *history.Store[domain.Funnel]
	saved   domain.Funnel
	unsubs  []func()
	onClose func()
}

// OpenSession loads a funnel and starts an editing session with empty history.
func (s *Service) OpenSession(ctx context.Context, funnelID string) (*Session, error) {
	funnel, err := s.GetFunnel(ctx, funnelID)
	if err != nil {
		return nil, err
	}

	store := history.NewStore(funnel, history.Options[domain.Funnel]{
		MaxSize:         s.history.MaxSize,
		Clone:           domain.Funnel.Clone,
		CollapseBatches: s.history.CollapseAIBatches,
	})
	cfg := history.TrackerConfig{
		IDGen: s.idGen,
		Clock: s.clock,
	}
	if s.onBatchOverwrite != nil {
		cfg.OnBatchOverwrite = func(prev, next string) {
			s.onBatchOverwrite(funnel.ID, prev, next)
		}
	}

	return &Session{
		svc:     s,
		tracker: history.NewTracker(store, cfg),
		store:   store,
		saved:   funnel.Clone(),
	}, nil
}

// FunnelID returns the id of the funnel being edited.
func (s *Session) FunnelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved.ID
}

// Current returns the live funnel.
func (s *Session) Current() domain.Funnel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Current()
}

// Edit applies fn to a copy of the live funnel and records the change. User
// actors record standalone entries. Agent actors record into the open AI
// batch, or into a batch of their own when none is open. Invalid edits and
// edits that change nothing leave history untouched.
func (s *Session) Edit(ctx context.Context, label string, fn func(*domain.Funnel) error) (domain.Funnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	funnel, _, err := s.editLocked(ctx, label, fn, "")
	return funnel, err
}

// editLocked reports whether a history entry was pushed.
func (s *Session) editLocked(ctx context.Context, label string, fn func(*domain.Funnel) error, batchID string) (domain.Funnel, bool, error) {
	before := s.store.Current()
	after := before.Clone()
	if err := fn(&after); err != nil {
		return before, false, err
	}
	if err := after.Validate(); err != nil {
		return before, false, err
	}
	changed := domain.ChangedFunnelFields(before, after)
	if len(changed) == 0 {
		return before, false, nil
	}
	after.UpdatedAt = s.svc.clock().UTC()
	if strings.TrimSpace(label) == "" {
		label = "Changed " + strings.Join(changed, ", ")
	}

	actor := actorFromContext(ctx)
	if actor.HistorySource() != history.SourceAI {
		s.tracker.TrackUserChange(label, before, after)
		return after, true, nil
	}
	if batchID == "" {
		batchID = s.tracker.OpenBatchID()
	}
	if batchID == "" {
		batchID = s.tracker.StartAIBatch()
		defer s.tracker.EndAIBatch()
	}
	s.tracker.TrackAIChange(label, before, after, batchID)
	return after, true, nil
}

// Rename renames the funnel.
func (s *Session) Rename(ctx context.Context, name string) (domain.Funnel, error) {
	return s.Edit(ctx, "Renamed funnel", func(f *domain.Funnel) error {
		return f.Rename(name)
	})
}

// SetDescription replaces the markdown description.
func (s *Session) SetDescription(ctx context.Context, description string) (domain.Funnel, error) {
	return s.Edit(ctx, "Edited description", func(f *domain.Funnel) error {
		f.Description = strings.TrimSpace(description)
		return nil
	})
}

// SetStatus changes the publish state.
func (s *Session) SetStatus(ctx context.Context, status domain.FunnelStatus) (domain.Funnel, error) {
	return s.Edit(ctx, fmt.Sprintf("Set status to %s", status), func(f *domain.Funnel) error {
		return f.SetStatus(status)
	})
}

// SetTheme replaces the theme.
func (s *Session) SetTheme(ctx context.Context, theme domain.Theme) (domain.Funnel, error) {
	return s.Edit(ctx, "Changed theme", func(f *domain.Funnel) error {
		f.Theme = domain.Theme{
			PrimaryColor: strings.TrimSpace(theme.PrimaryColor),
			FontFamily:   strings.TrimSpace(theme.FontFamily),
		}
		return nil
	})
}

// SetSetting stores one settings value. An empty value removes the key.
func (s *Session) SetSetting(ctx context.Context, key, value string) (domain.Funnel, error) {
	return s.Edit(ctx, fmt.Sprintf("Set %s", strings.TrimSpace(key)), func(f *domain.Funnel) error {
		return f.SetSetting(key, value)
	})
}

// AddStep appends a new step.
func (s *Session) AddStep(ctx context.Context, name string, kind domain.StepKind) (domain.Funnel, error) {
	step, err := domain.NewStep(s.svc.idGen(), name, kind)
	if err != nil {
		return s.Current(), err
	}
	return s.Edit(ctx, fmt.Sprintf("Added step %q", step.Name), func(f *domain.Funnel) error {
		return f.AddStep(step)
	})
}

// RemoveStep removes a step.
func (s *Session) RemoveStep(ctx context.Context, stepID string) (domain.Funnel, error) {
	return s.Edit(ctx, "Removed step", func(f *domain.Funnel) error {
		return f.RemoveStep(stepID)
	})
}

// MoveStep moves a step to index.
func (s *Session) MoveStep(ctx context.Context, stepID string, index int) (domain.Funnel, error) {
	return s.Edit(ctx, "Reordered steps", func(f *domain.Funnel) error {
		return f.MoveStep(stepID, index)
	})
}

// RenameStep renames a step.
func (s *Session) RenameStep(ctx context.Context, stepID, name string) (domain.Funnel, error) {
	return s.Edit(ctx, "Renamed step", func(f *domain.Funnel) error {
		return f.RenameStep(stepID, name)
	})
}

// ApplyPatch merges a partial funnel into the live funnel as one edit.
func (s *Session) ApplyPatch(ctx context.Context, label string, patch FunnelPatch) (domain.Funnel, error) {
	if label == "" {
		label = patch.Label
	}
	return s.Edit(ctx, label, patch.ApplyTo)
}

// BatchResult reports the outcome of ApplyAIBatch. Applied counts recorded
// history entries; patches that change nothing are not counted.
type BatchResult struct {
	BatchID string        `json:"batch_id"`
	Applied int           `json:"applied"`
	Funnel  domain.Funnel `json:"funnel"`
}

// ApplyAIBatch applies every patch of batch as its own AI entry sharing one
// batch id. It stops at the first patch that fails; patches already applied
// stay recorded and undoable.
func (s *Session) ApplyAIBatch(ctx context.Context, batch AIBatch) (BatchResult, error) {
	if len(batch.Patches) == 0 {
		return BatchResult{Funnel: s.Current()}, ErrEmptyBatch
	}
	actor := actorFromContext(ctx)
	if actor.HistorySource() != history.SourceAI {
		actor.ActorType = domain.ActorTypeAgent
		ctx = WithMutationActor(ctx, actor)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := BatchResult{BatchID: s.tracker.StartAIBatch()}
	defer s.tracker.EndAIBatch()
	for i, patch := range batch.Patches {
		label := batch.labelFor(i)
		funnel, pushed, err := s.editLocked(ctx, label, patch.ApplyTo, result.BatchID)
		result.Funnel = funnel
		if err != nil {
			return result, fmt.Errorf("patch %d (%s): %w", i+1, label, err)
		}
		if pushed {
			result.Applied++
		}
	}
	return result, nil
}

// StartAIBatch opens an AI batch. Agent edits made through Edit until
// EndAIBatch share its id.
func (s *Session) StartAIBatch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.StartAIBatch()
}

// EndAIBatch closes the open AI batch.
func (s *Session) EndAIBatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.EndAIBatch()
}

// View is a snapshot of a session taken under one lock.
type View struct {
	Funnel  domain.Funnel
	Dirty   bool
	CanUndo bool
	CanRedo bool
}

// Move is a history move together with the view right after it.
type Move struct {
	Result history.Result[domain.Funnel]
	View   View
}

// View returns the live funnel and its history flags.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	current := s.store.Current()
	return View{
		Funnel:  current,
		Dirty:   len(domain.ChangedFunnelFields(s.saved, current)) > 0,
		CanUndo: s.store.CanUndo(),
		CanRedo: s.store.CanRedo(),
	}
}

func (s *Session) move(fn func() history.Result[domain.Funnel]) Move {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := fn()
	return Move{Result: res, View: s.viewLocked()}
}

// Undo reverts the most recent change.
func (s *Session) Undo() history.Result[domain.Funnel] {
	return s.UndoView().Result
}

// UndoView is Undo that also reports the view it left behind.
func (s *Session) UndoView() Move {
	return s.move(s.store.Undo)
}

// Redo reapplies the most recently undone change.
func (s *Session) Redo() history.Result[domain.Funnel] {
	return s.RedoView().Result
}

// RedoView is Redo that also reports the view it left behind.
func (s *Session) RedoView() Move {
	return s.move(s.store.Redo)
}

// JumpTo moves through history until entryID is the latest applied entry.
// An empty entryID undoes every retained entry.
func (s *Session) JumpTo(entryID string) (history.Result[domain.Funnel], error) {
	mv, err := s.JumpToView(entryID)
	return mv.Result, err
}

// JumpToView is JumpTo that also reports the view it left behind.
func (s *Session) JumpToView(entryID string) (Move, error) {
	entryID = strings.TrimSpace(entryID)
	mv := s.move(func() history.Result[domain.Funnel] { return s.store.JumpTo(entryID) })
	if !mv.Result.OK {
		return mv, fmt.Errorf("%w: %q", ErrEntryNotFound, entryID)
	}
	return mv, nil
}

// Clear drops all history. The live funnel is kept.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Clear()
}

// Timeline lists the session history, applied entries first.
func (s *Session) Timeline() []history.TimelineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Timeline()
}

// TimelineView returns the timeline and the view it describes.
func (s *Session) TimelineView() ([]history.TimelineItem, View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Timeline(), s.viewLocked()
}

// CanUndo reports whether Undo would do anything.
func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.CanUndo()
}

// CanRedo reports whether Redo would do anything.
func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.CanRedo()
}

// Subscribe registers fn to receive the live funnel after each change.
func (s *Session) Subscribe(fn func(domain.Funnel)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unsub := s.store.Subscribe(fn)
	s.unsubs = append(s.unsubs, unsub)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		unsub()
	}
}

// Dirty reports whether the live funnel differs from the last saved one.
func (s *Session) Dirty() bool {
	return s.View().Dirty
}

// Save persists the live funnel. History is kept so saved edits stay undoable.
func (s *Session) Save(ctx context.Context) (domain.Funnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.store.Current()
	if len(domain.ChangedFunnelFields(s.saved, current)) == 0 {
		return current, nil
	}
	if err := s.svc.repo.UpdateFunnel(ctx, current, actorFromContext(ctx)); err != nil {
		return current, err
	}
	s.saved = current.Clone()
	return current, nil
}

// Close drops every subscriber. The session can still be used afterwards but
// is no longer tracked by its registry.
func (s *Session) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	onClose := s.onClose
	s.onClose = nil
	for _, unsub := range unsubs {
		unsub()
	}
	s.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}
