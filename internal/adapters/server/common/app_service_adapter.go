package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/evanschultz/funnel/internal/app"
	"github.com/evanschultz/funnel/internal/domain"
)

// AppServiceAdapter maps transport contracts onto app.Service and its open sessions.
type AppServiceAdapter struct {
	service      *app.Service
	sessions     *app.Sessions
	defaultActor app.MutationActor
}

var _ FunnelService = (*AppServiceAdapter)(nil)

// NewAppServiceAdapter builds one adapter whose callers default to defaultActor
// when a request names no actor.
func NewAppServiceAdapter(service *app.Service, sessions *app.Sessions, defaultActor app.MutationActor) *AppServiceAdapter {
	if strings.TrimSpace(defaultActor.ActorID) == "" {
		defaultActor.ActorID = app.DefaultActorID
	}
	if strings.TrimSpace(string(defaultActor.ActorType)) == "" {
		defaultActor.ActorType = domain.ActorTypeUser
	}
	return &AppServiceAdapter{service: service, sessions: sessions, defaultActor: defaultActor}
}

// ListFunnels lists stored funnels and marks those with an open session.
func (a *AppServiceAdapter) ListFunnels(ctx context.Context, includeArchived bool) ([]FunnelSummary, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	funnels, err := a.service.ListFunnels(ctx, includeArchived)
	if err != nil {
		return nil, mapAppError("list funnels", err)
	}
	out := make([]FunnelSummary, 0, len(funnels))
	for _, f := range funnels {
		_, editing := a.sessions.Get(f.ID)
		out = append(out, summaryOf(f, editing))
	}
	return out, nil
}

// GetFunnel returns the live funnel of the session for funnelID.
func (a *AppServiceAdapter) GetFunnel(ctx context.Context, funnelID string) (FunnelView, error) {
	sess, err := a.session(ctx, "get funnel", funnelID)
	if err != nil {
		return FunnelView{}, err
	}
	return viewOf(sess.View()), nil
}

// History returns the session timeline for funnelID.
func (a *AppServiceAdapter) History(ctx context.Context, funnelID string) (HistoryView, error) {
	sess, err := a.session(ctx, "history", funnelID)
	if err != nil {
		return HistoryView{}, err
	}
	timeline, view := sess.TimelineView()
	entries := make([]HistoryEntry, 0, len(timeline))
	for _, item := range timeline {
		entries = append(entries, HistoryEntry{
			ID:        item.ID,
			Label:     item.Label,
			Source:    string(item.Source),
			BatchID:   item.BatchID,
			Timestamp: item.Timestamp,
			Applied:   item.Applied,
		})
	}
	return HistoryView{
		FunnelID: sess.FunnelID(),
		CanUndo:  view.CanUndo,
		CanRedo:  view.CanRedo,
		Dirty:    view.Dirty,
		Entries:  entries,
	}, nil
}

// ApplyEdit applies one patch as a single history entry.
func (a *AppServiceAdapter) ApplyEdit(ctx context.Context, in EditRequest) (FunnelView, error) {
	if in.Patch.IsEmpty() {
		return FunnelView{}, fmt.Errorf("apply edit: patch changes nothing: %w", ErrInvalidRequest)
	}
	ctx, err := a.withActor(ctx, in.Actor)
	if err != nil {
		return FunnelView{}, err
	}
	sess, err := a.session(ctx, "apply edit", in.FunnelID)
	if err != nil {
		return FunnelView{}, err
	}
	if _, err := sess.ApplyPatch(ctx, strings.TrimSpace(in.Label), in.Patch); err != nil {
		return FunnelView{}, mapAppError("apply edit", err)
	}
	return viewOf(sess.View()), nil
}

// ApplyAIBatch applies a batch of agent patches. Patches applied before a
// failing one stay recorded, and the partial result is returned with the error.
func (a *AppServiceAdapter) ApplyAIBatch(ctx context.Context, in AIBatchRequest) (AIBatchResult, error) {
	if len(in.Patches) == 0 {
		return AIBatchResult{}, fmt.Errorf("apply ai batch: %w", errors.Join(ErrInvalidRequest, app.ErrEmptyBatch))
	}
	ctx, err := a.withActor(ctx, in.Actor)
	if err != nil {
		return AIBatchResult{}, err
	}
	sess, err := a.session(ctx, "apply ai batch", in.FunnelID)
	if err != nil {
		return AIBatchResult{}, err
	}
	res, err := sess.ApplyAIBatch(ctx, app.AIBatch{Label: in.Label, Patches: in.Patches})
	out := AIBatchResult{
		BatchID: res.BatchID,
		Applied: res.Applied,
		Result:  viewOf(sess.View()),
	}
	if err != nil {
		return out, mapAppError("apply ai batch", err)
	}
	return out, nil
}

// Undo reverts the latest change of the session for funnelID.
func (a *AppServiceAdapter) Undo(ctx context.Context, funnelID string) (MoveResult, error) {
	sess, err := a.session(ctx, "undo", funnelID)
	if err != nil {
		return MoveResult{}, err
	}
	return moveResultOf(sess.UndoView()), nil
}

// Redo reapplies the latest undone change of the session for funnelID.
func (a *AppServiceAdapter) Redo(ctx context.Context, funnelID string) (MoveResult, error) {
	sess, err := a.session(ctx, "redo", funnelID)
	if err != nil {
		return MoveResult{}, err
	}
	return moveResultOf(sess.RedoView()), nil
}

// JumpTo moves the session to one history entry. An empty entry id moves to
// the state before the oldest retained entry.
func (a *AppServiceAdapter) JumpTo(ctx context.Context, in JumpRequest) (MoveResult, error) {
	entryID := strings.TrimSpace(in.EntryID)
	sess, err := a.session(ctx, "jump", in.FunnelID)
	if err != nil {
		return MoveResult{}, err
	}
	mv, err := sess.JumpToView(entryID)
	if err != nil {
		return MoveResult{}, mapAppError("jump", err)
	}
	return moveResultOf(mv), nil
}

// Save persists the live funnel of the session.
func (a *AppServiceAdapter) Save(ctx context.Context, in SaveRequest) (FunnelView, error) {
	ctx, err := a.withActor(ctx, in.Actor)
	if err != nil {
		return FunnelView{}, err
	}
	sess, err := a.session(ctx, "save", in.FunnelID)
	if err != nil {
		return FunnelView{}, err
	}
	if _, err := sess.Save(ctx); err != nil {
		return FunnelView{}, mapAppError("save", err)
	}
	return viewOf(sess.View()), nil
}

// DeleteFunnel archives or removes a funnel and drops its open session.
func (a *AppServiceAdapter) DeleteFunnel(ctx context.Context, in DeleteRequest) (DeleteResult, error) {
	if err := a.ready(); err != nil {
		return DeleteResult{}, err
	}
	funnelID := strings.TrimSpace(in.FunnelID)
	if funnelID == "" {
		return DeleteResult{}, fmt.Errorf("delete funnel: funnel_id is required: %w", ErrInvalidRequest)
	}
	ctx, err := a.withActor(ctx, in.Actor)
	if err != nil {
		return DeleteResult{}, err
	}
	mode := a.service.ResolveDeleteMode(app.DeleteMode(in.Mode))
	if err := a.sessions.DeleteFunnel(ctx, funnelID, mode); err != nil {
		return DeleteResult{}, mapAppError("delete funnel", err)
	}
	return DeleteResult{FunnelID: funnelID, Mode: string(mode)}, nil
}

// RestoreFunnel restores an archived funnel.
func (a *AppServiceAdapter) RestoreFunnel(ctx context.Context, in RestoreRequest) (FunnelSummary, error) {
	if err := a.ready(); err != nil {
		return FunnelSummary{}, err
	}
	ctx, err := a.withActor(ctx, in.Actor)
	if err != nil {
		return FunnelSummary{}, err
	}
	f, err := a.sessions.RestoreFunnel(ctx, in.FunnelID)
	if err != nil {
		return FunnelSummary{}, mapAppError("restore funnel", err)
	}
	return summaryOf(f, false), nil
}

func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil || a.sessions == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	return nil
}

func (a *AppServiceAdapter) session(ctx context.Context, operation, funnelID string) (*app.Session, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	funnelID = strings.TrimSpace(funnelID)
	if funnelID == "" {
		return nil, fmt.Errorf("%s: funnel_id is required: %w", operation, ErrInvalidRequest)
	}
	sess, err := a.sessions.Open(ctx, funnelID)
	if err != nil {
		return nil, mapAppError(operation, err)
	}
	return sess, nil
}

// withActor attaches the request actor, or the adapter default, to ctx.
func (a *AppServiceAdapter) withActor(ctx context.Context, actor Actor) (context.Context, error) {
	resolved := a.defaultActor
	if id := strings.TrimSpace(actor.ActorID); id != "" {
		resolved.ActorID = id
	}
	if raw := strings.TrimSpace(actor.ActorType); raw != "" {
		actorType := domain.NormalizeActorType(domain.ActorType(raw))
		if !domain.IsValidActorType(actorType) {
			return nil, fmt.Errorf("actor_type %q is unsupported: %w", actor.ActorType, ErrInvalidRequest)
		}
		resolved.ActorType = actorType
	}
	return app.WithMutationActor(ctx, resolved), nil
}

func summaryOf(f domain.Funnel, editing bool) FunnelSummary {
	return FunnelSummary{
		ID:        f.ID,
		Slug:      f.Slug,
		Name:      f.Name,
		Status:    f.Status,
		StepCount: len(f.Steps),
		Archived:  f.ArchivedAt != nil,
		Editing:   editing,
		UpdatedAt: f.UpdatedAt,
	}
}

func viewOf(v app.View) FunnelView {
	return FunnelView{
		Funnel:  v.Funnel,
		Dirty:   v.Dirty,
		CanUndo: v.CanUndo,
		CanRedo: v.CanRedo,
	}
}

// moveResultOf reports the funnel the move itself produced.
func moveResultOf(mv app.Move) MoveResult {
	view := viewOf(mv.View)
	if mv.Result.OK {
		view.Funnel = mv.Result.Value
	}
	return MoveResult{OK: mv.Result.OK, Steps: mv.Result.Steps, Result: view}
}

// mapAppError classifies app and domain errors into transport-visible categories.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, app.ErrNotFound), errors.Is(err, app.ErrEntryNotFound), errors.Is(err, domain.ErrStepNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrInvalidPatch),
		errors.Is(err, app.ErrEmptyBatch),
		errors.Is(err, app.ErrInvalidDeleteMode),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidStepKind),
		errors.Is(err, domain.ErrInvalidPosition),
		errors.Is(err, domain.ErrInvalidSettingKey),
		errors.Is(err, domain.ErrInvalidActorType),
		errors.Is(err, domain.ErrDuplicateStep),
		errors.Is(err, domain.ErrDuplicateStepPath):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
