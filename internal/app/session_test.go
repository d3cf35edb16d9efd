package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/evanschultz/funnel/internal/domain"
	"github.com/evanschultz/funnel/internal/history"
)

func agentContext() context.Context {
	return WithMutationActor(context.Background(), MutationActor{ActorID: "copilot", ActorType: domain.ActorTypeAgent})
}

func newTestSession(t *testing.T, cfg ServiceConfig) (*Service, *fakeRepo, *Session) {
	t.Helper()
	repo := newFakeRepo()
	svc := newTestService(repo, cfg)
	funnel, err := svc.CreateFunnelWithSteps(context.Background(), CreateFunnelInput{
		Name:  "Spring Launch",
		Steps: []StepInput{{Name: "Landing", Kind: domain.StepKindLanding}},
	})
	if err != nil {
		t.Fatalf("CreateFunnelWithSteps() error = %v", err)
	}
	sess, err := svc.OpenSession(context.Background(), funnel.ID)
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	return svc, repo, sess
}

func TestSessionUserEditUndoRedo(t *testing.T) {
	_, _, sess := newTestSession(t, ServiceConfig{})
	ctx := context.Background()

	if _, err := sess.Rename(ctx, "Summer Launch"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	timeline := sess.Timeline()
	if len(timeline) != 1 || timeline[0].Source != history.SourceUser || timeline[0].BatchID != "" {
		t.Fatalf("unexpected timeline %#v", timeline)
	}
	if timeline[0].Label != "Renamed funnel" {
		t.Fatalf("unexpected label %q", timeline[0].Label)
	}

	res := sess.Undo()
	if !res.OK || res.Value.Name != "Spring Launch" {
		t.Fatalf("Undo() = %#v", res)
	}
	res = sess.Redo()
	if !res.OK || res.Value.Name != "Summer Launch" {
		t.Fatalf("Redo() = %#v", res)
	}
	if sess.Current().Slug != "summer-launch" {
		t.Fatalf("unexpected slug %q", sess.Current().Slug)
	}
}

func TestSessionInvalidAndNoopEditsPushNothing(t *testing.T) {
	_, _, sess := newTestSession(t, ServiceConfig{})
	ctx := context.Background()

	if _, err := sess.Rename(ctx, "  "); err != domain.ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, err := sess.SetStatus(ctx, "live"); err != domain.ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := sess.Rename(ctx, "Spring Launch"); err != nil {
		t.Fatalf("Rename(same) error = %v", err)
	}
	_, err := sess.Edit(ctx, "break", func(f *domain.Funnel) error {
		f.Steps = append(f.Steps, f.Steps[0])
		return nil
	})
	if err != domain.ErrDuplicateStep {
		t.Fatalf("expected ErrDuplicateStep, got %v", err)
	}
	if sess.CanUndo() {
		t.Fatal("expected no history entries")
	}
	if undo := sess.Undo(); undo.OK {
		t.Fatal("expected Undo() to report nothing to undo")
	}
}

func TestSessionAgentEditGetsOwnBatch(t *testing.T) {
	_, _, sess := newTestSession(t, ServiceConfig{})
	ctx := agentContext()

	if _, err := sess.SetDescription(ctx, "New copy"); err != nil {
		t.Fatalf("SetDescription() error = %v", err)
	}
	if _, err := sess.SetStatus(ctx, domain.FunnelStatusPublished); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	timeline := sess.Timeline()
	if len(timeline) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(timeline))
	}
	for _, item := range timeline {
		if item.Source != history.SourceAI || item.BatchID == "" {
			t.Fatalf("unexpected agent entry %#v", item)
		}
	}
	if timeline[0].BatchID == timeline[1].BatchID {
		t.Fatal("expected separate batches for separate agent edits")
	}
}

func TestSessionStreamedBatchSharesID(t *testing.T) {
	_, _, sess := newTestSession(t, ServiceConfig{})
	ctx := agentContext()

	batchID := sess.StartAIBatch()
	_, _ = sess.SetSetting(ctx, "tracking_id", "UA-1")
	_, _ = sess.SetTheme(ctx, domain.Theme{PrimaryColor: "#123456"})
	sess.EndAIBatch()
	_, _ = sess.Rename(context.Background(), "Manual")

	timeline := sess.Timeline()
	if len(timeline) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(timeline))
	}
	if timeline[0].BatchID != batchID || timeline[1].BatchID != batchID {
		t.Fatalf("expected streamed entries in batch %q: %#v", batchID, timeline)
	}
	if timeline[2].Source != history.SourceUser || timeline[2].BatchID != "" {
		t.Fatalf("unexpected user entry %#v", timeline[2])
	}
}

func TestSessionApplyAIBatchUndoesOneAtATime(t *testing.T) {
	_, _, sess := newTestSession(t, ServiceConfig{})
	batch := AIBatch{
		Label: "Optimize funnel",
		Patches: []FunnelPatch{
			{Name: "Optimized Launch"},
			{Description: "Better headline"},
			{Settings: map[string]string{"ab_test": "on"}},
		},
	}

	res, err := sess.ApplyAIBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("ApplyAIBatch() error = %v", err)
	}
	if res.Applied != 3 || res.BatchID == "" {
		t.Fatalf("unexpected result %#v", res)
	}
	timeline := sess.Timeline()
	if timeline[1].Label != "Optimize funnel (2/3)" {
		t.Fatalf("unexpected label %q", timeline[1].Label)
	}
	for _, item := range timeline {
		if item.Source != history.SourceAI || item.BatchID != res.BatchID {
			t.Fatalf("unexpected batch entry %#v", item)
		}
	}

	for i := 0; i < 3; i++ {
		undo := sess.Undo()
		if !undo.OK || undo.Steps != 1 {
			t.Fatalf("Undo() #%d = %#v", i+1, undo)
		}
	}
	if got := sess.Current(); got.Name != "Spring Launch" || got.Description != "" || len(got.Settings) != 0 {
		t.Fatalf("expected original funnel, got %#v", got)
	}
}

func TestSessionApplyAIBatchCollapsed(t *testing.T) {
	_, _, sess := newTestSession(t, ServiceConfig{History: HistoryConfig{CollapseAIBatches: true}})
	_, _ = sess.Rename(context.Background(), "Manual")
	_, err := sess.ApplyAIBatch(agentContext(), AIBatch{Patches: []FunnelPatch{
		{Description: "one"},
		{Description: "two"},
	}})
	if err != nil {
		t.Fatalf("ApplyAIBatch() error = %v", err)
	}
	undo := sess.Undo()
	if undo.Steps != 2 || undo.Value.Name != "Manual" || undo.Value.Description != "" {
		t.Fatalf("expected batch to undo as one step, got %#v", undo)
	}
}

func TestSessionApplyAIBatchStopsAtFirstInvalidPatch(t *testing.T) {
	_, _, sess := newTestSession(t, ServiceConfig{})
	res, err := sess.ApplyAIBatch(agentContext(), AIBatch{Patches: []FunnelPatch{
		{Description: "kept"},
		{Label: "bad status", Status: "live"},
		{Name: "never"},
	}})
	if !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if !strings.Contains(err.Error(), "patch 2 (bad status)") {
		t.Fatalf("unexpected error text %q", err)
	}
	if res.Applied != 1 || res.Funnel.Description != "kept" {
		t.Fatalf("unexpected result %#v", res)
	}
	if len(sess.Timeline()) != 1 {
		t.Fatalf("expected one recorded entry, got %d", len(sess.Timeline()))
	}
	if _, err := sess.ApplyAIBatch(agentContext(), AIBatch{}); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestSessionApplyAIBatchCountsOnlyRecordedPatches(t *testing.T) {
	_, _, sess := newTestSession(t, ServiceConfig{})
	res, err := sess.ApplyAIBatch(agentContext(), AIBatch{Patches: []FunnelPatch{
		{Name: "Spring Launch"},
		{Name: "Other"},
	}})
	if err != nil {
		t.Fatalf("ApplyAIBatch() error = %v", err)
	}
	timeline := sess.Timeline()
	if res.Applied != 1 || len(timeline) != 1 {
		t.Fatalf("Applied = %d with %d timeline entries, want 1 and 1", res.Applied, len(timeline))
	}
	if res.Funnel.Name != "Other" || timeline[0].BatchID != res.BatchID {
		t.Fatalf("unexpected result %#v timeline %#v", res, timeline)
	}
}

func TestSessionBatchOverwriteHook(t *testing.T) {
	var got []string
	_, _, sess := newTestSession(t, ServiceConfig{
		OnBatchOverwrite: func(funnelID, prev, next string) {
			got = append(got, funnelID, prev, next)
		},
	})
	first := sess.StartAIBatch()
	second := sess.StartAIBatch()
	if len(got) != 3 || got[0] != sess.FunnelID() || got[1] != first || got[2] != second {
		t.Fatalf("unexpected overwrite report %v", got)
	}
}

func TestSessionStepHelpers(t *testing.T) {
	_, _, sess := newTestSession(t, ServiceConfig{})
	ctx := context.Background()

	funnel, err := sess.AddStep(ctx, "Checkout", domain.StepKindCheckout)
	if err != nil {
		t.Fatalf("AddStep() error = %v", err)
	}
	added := funnel.Steps[1].ID
	if _, err := sess.MoveStep(ctx, added, 0); err != nil {
		t.Fatalf("MoveStep() error = %v", err)
	}
	if _, err := sess.RenameStep(ctx, added, "Pay"); err != nil {
		t.Fatalf("RenameStep() error = %v", err)
	}
	if _, err := sess.RemoveStep(ctx, "missing"); err != domain.ErrStepNotFound {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}
	if got := sess.Current().Steps[0]; got.ID != added || got.Name != "Pay" {
		t.Fatalf("unexpected first step %#v", got)
	}
	if _, err := sess.RemoveStep(ctx, added); err != nil {
		t.Fatalf("RemoveStep() error = %v", err)
	}
	if len(sess.Timeline()) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(sess.Timeline()))
	}
}

func TestSessionJumpToAndClear(t *testing.T) {
	_, _, sess := newTestSession(t, ServiceConfig{})
	ctx := context.Background()
	_, _ = sess.SetDescription(ctx, "a")
	_, _ = sess.SetDescription(ctx, "b")
	_, _ = sess.SetDescription(ctx, "c")

	first := sess.Timeline()[0].ID
	res, err := sess.JumpTo(first)
	if err != nil {
		t.Fatalf("JumpTo() error = %v", err)
	}
	if res.Steps != 2 || sess.Current().Description != "a" {
		t.Fatalf("unexpected jump %#v", res)
	}
	if !sess.CanRedo() {
		t.Fatal("expected redo entries after jump")
	}
	if _, err := sess.JumpTo("missing"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}

	sess.Clear()
	if sess.CanUndo() || sess.CanRedo() || sess.Current().Description != "a" {
		t.Fatal("expected Clear() to drop history and keep current funnel")
	}
}

func TestSessionSaveAndDirty(t *testing.T) {
	_, repo, sess := newTestSession(t, ServiceConfig{})
	if sess.Dirty() {
		t.Fatal("expected fresh session to be clean")
	}
	if _, err := sess.Rename(agentContext(), "Agent Name"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if !sess.Dirty() {
		t.Fatal("expected session to be dirty")
	}
	writes := len(repo.writes)
	saved, err := sess.Save(agentContext())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if repo.funnels[saved.ID].Name != "Agent Name" {
		t.Fatalf("unexpected persisted funnel %#v", repo.funnels[saved.ID])
	}
	last := repo.writes[len(repo.writes)-1]
	if last.op != "update" || last.actor.ActorID != "copilot" || last.actor.ActorType != domain.ActorTypeAgent {
		t.Fatalf("unexpected write %#v", last)
	}
	if sess.Dirty() {
		t.Fatal("expected session to be clean after save")
	}
	if _, err := sess.Save(context.Background()); err != nil {
		t.Fatalf("Save(clean) error = %v", err)
	}
	if len(repo.writes) != writes+1 {
		t.Fatalf("expected clean save to skip the repository, writes = %d", len(repo.writes))
	}

	sess.Undo()
	if !sess.Dirty() {
		t.Fatal("expected undo past the save point to be dirty")
	}
}

func TestSessionSubscribeAndClose(t *testing.T) {
	_, _, sess := newTestSession(t, ServiceConfig{})
	var names []string
	sess.Subscribe(func(f domain.Funnel) { names = append(names, f.Name) })

	_, _ = sess.Rename(context.Background(), "One")
	sess.Undo()
	sess.Close()
	_, _ = sess.Rename(context.Background(), "Two")

	if strings.Join(names, ",") != "One,Spring Launch" {
		t.Fatalf("unexpected notifications %v", names)
	}
}

func TestSessionsRegistry(t *testing.T) {
	svc, _, sess := newTestSession(t, ServiceConfig{})
	reg := NewSessions(svc)
	ctx := context.Background()

	a, err := reg.Open(ctx, sess.FunnelID())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	b, err := reg.Open(ctx, " "+sess.FunnelID()+" ")
	if err != nil {
		t.Fatalf("Open(again) error = %v", err)
	}
	if a != b {
		t.Fatal("expected the same session for the same funnel")
	}
	if _, err := reg.Open(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !reg.Close(sess.FunnelID()) {
		t.Fatal("expected Close() to find the session")
	}
	if _, ok := reg.Get(sess.FunnelID()); ok {
		t.Fatal("expected closed session to be forgotten")
	}

	if _, err := reg.Open(ctx, sess.FunnelID()); err != nil {
		t.Fatalf("Open(reopen) error = %v", err)
	}
	reg.CloseAll()
	if reg.Len() != 0 {
		t.Fatalf("expected no open sessions, got %d", reg.Len())
	}
}

func TestSessionsDeleteAndRestoreCloseOpenSession(t *testing.T) {
	svc, repo, sess := newTestSession(t, ServiceConfig{})
	reg := NewSessions(svc)
	ctx := context.Background()
	id := sess.FunnelID()

	open, err := reg.Open(ctx, id)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := open.Rename(ctx, "Unsaved"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if err := reg.DeleteFunnel(ctx, id, ""); err != nil {
		t.Fatalf("DeleteFunnel() error = %v", err)
	}
	if _, ok := reg.Get(id); ok {
		t.Fatal("expected archived funnel's session to be closed")
	}
	if repo.funnels[id].ArchivedAt == nil || repo.funnels[id].Name != "Spring Launch" {
		t.Fatalf("unexpected stored funnel %#v", repo.funnels[id])
	}

	if _, err := reg.Open(ctx, id); err != nil {
		t.Fatalf("Open(archived) error = %v", err)
	}
	restored, err := reg.RestoreFunnel(ctx, id)
	if err != nil {
		t.Fatalf("RestoreFunnel() error = %v", err)
	}
	if restored.ArchivedAt != nil || reg.Len() != 0 {
		t.Fatalf("restored=%#v open=%d", restored, reg.Len())
	}

	if _, err := reg.Open(ctx, id); err != nil {
		t.Fatalf("Open(restored) error = %v", err)
	}
	if err := reg.DeleteFunnel(ctx, id, "bogus"); !errors.Is(err, ErrInvalidDeleteMode) {
		t.Fatalf("expected ErrInvalidDeleteMode, got %v", err)
	}
	if _, ok := reg.Get(id); !ok {
		t.Fatal("a failed delete must keep the session open")
	}
	if err := reg.DeleteFunnel(ctx, id, DeleteModeHard); err != nil {
		t.Fatalf("DeleteFunnel(hard) error = %v", err)
	}
	if _, ok := repo.funnels[id]; ok || reg.Len() != 0 {
		t.Fatalf("expected hard delete to drop funnel and session, open=%d", reg.Len())
	}
}

func TestSessionViewIsConsistent(t *testing.T) {
	_, _, sess := newTestSession(t, ServiceConfig{})
	ctx := context.Background()
	if _, err := sess.Rename(ctx, "Renamed"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	view := sess.View()
	if view.Funnel.Name != "Renamed" || !view.Dirty || !view.CanUndo || view.CanRedo {
		t.Fatalf("unexpected view %#v", view)
	}

	mv := sess.UndoView()
	if !mv.Result.OK || mv.Result.Value.Name != "Spring Launch" || mv.View.Funnel.Name != "Spring Launch" {
		t.Fatalf("unexpected undo %#v", mv)
	}
	if mv.View.Dirty || mv.View.CanUndo || !mv.View.CanRedo {
		t.Fatalf("unexpected flags after undo %#v", mv.View)
	}

	mv, err := sess.JumpToView("")
	if err != nil || !mv.Result.OK || mv.Result.Steps != 0 {
		t.Fatalf("JumpToView(initial) = %#v, %v", mv, err)
	}
	timeline, tv := sess.TimelineView()
	if len(timeline) != 1 || timeline[0].Applied || !tv.CanRedo {
		t.Fatalf("timeline=%#v view=%#v", timeline, tv)
	}
}
