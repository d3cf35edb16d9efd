package domain

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func mustFunnel(t *testing.T) Funnel {
	t.Helper()
	f, err := NewFunnel("f1", "Spring Launch", "", time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewFunnel() error = %v", err)
	}
	for _, tc := range []struct {
		id, name string
		kind     StepKind
	}{
		{"s1", "Landing", StepKindLanding},
		{"s2", "Checkout", StepKindCheckout},
		{"s3", "Thank You", StepKindThankYou},
	} {
		step, err := NewStep(tc.id, tc.name, tc.kind)
		if err != nil {
			t.Fatalf("NewStep(%q) error = %v", tc.id, err)
		}
		if err := f.AddStep(step); err != nil {
			t.Fatalf("AddStep(%q) error = %v", tc.id, err)
		}
	}
	return f
}

func stepIDs(f Funnel) []string {
	out := make([]string, 0, len(f.Steps))
	for _, s := range f.Steps {
		out = append(out, s.ID)
	}
	return out
}

func TestNewFunnelAndSlug(t *testing.T) {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.FixedZone("x", 7200))
	f, err := NewFunnel("f1", "  My Big Funnel!  ", " desc ", now)
	if err != nil {
		t.Fatalf("NewFunnel() error = %v", err)
	}
	if f.Slug != "my-big-funnel" {
		t.Fatalf("unexpected slug %q", f.Slug)
	}
	if f.Name != "My Big Funnel!" || f.Description != "desc" {
		t.Fatalf("unexpected funnel %#v", f)
	}
	if f.Status != FunnelStatusDraft {
		t.Fatalf("expected draft status, got %q", f.Status)
	}
	if f.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamps, got %v", f.CreatedAt.Location())
	}
}

func TestNewFunnelValidation(t *testing.T) {
	now := time.Now()
	if _, err := NewFunnel("", "ok", "", now); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := NewFunnel("id", "   ", "", now); err != ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestFunnelArchiveRestore(t *testing.T) {
	f := mustFunnel(t)
	later := f.CreatedAt.Add(time.Minute)
	f.Archive(later)
	if f.ArchivedAt == nil {
		t.Fatal("expected archived_at to be set")
	}
	f.Restore(later.Add(time.Minute))
	if f.ArchivedAt != nil {
		t.Fatal("expected archived_at to be nil")
	}
}

func TestFunnelRenameRefreshesSlug(t *testing.T) {
	f := mustFunnel(t)
	if err := f.Rename("Summer Sale 2026"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if f.Slug != "summer-sale-2026" {
		t.Fatalf("unexpected slug %q", f.Slug)
	}
	if err := f.Rename(" "); err != ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestFunnelSetStatus(t *testing.T) {
	f := mustFunnel(t)
	if err := f.SetStatus(" Published "); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if f.Status != FunnelStatusPublished {
		t.Fatalf("unexpected status %q", f.Status)
	}
	if err := f.SetStatus("live"); err != ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestFunnelSettings(t *testing.T) {
	f := mustFunnel(t)
	if err := f.SetSetting("tracking_id", "UA-1"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	if f.Settings["tracking_id"] != "UA-1" {
		t.Fatalf("unexpected settings %#v", f.Settings)
	}
	if err := f.SetSetting("tracking_id", ""); err != nil {
		t.Fatalf("SetSetting(clear) error = %v", err)
	}
	if _, ok := f.Settings["tracking_id"]; ok {
		t.Fatal("expected setting to be removed")
	}
	if err := f.SetSetting(" ", "x"); err != ErrInvalidSettingKey {
		t.Fatalf("expected ErrInvalidSettingKey, got %v", err)
	}
}

func TestNewStepValidation(t *testing.T) {
	step, err := NewStep("s1", "Opt In", "")
	if err != nil {
		t.Fatalf("NewStep() error = %v", err)
	}
	if step.Kind != StepKindLanding {
		t.Fatalf("expected default landing kind, got %q", step.Kind)
	}
	if _, err := NewStep("s1", "x", "popup"); err != ErrInvalidStepKind {
		t.Fatalf("expected ErrInvalidStepKind, got %v", err)
	}
	if _, err := NewStep("", "x", StepKindSales); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestFunnelAddStepAssignsUniquePaths(t *testing.T) {
	f := mustFunnel(t)
	dup, _ := NewStep("s4", "Landing", StepKindLanding)
	if err := f.AddStep(dup); err != nil {
		t.Fatalf("AddStep() error = %v", err)
	}
	if got := f.Steps[3].Path; got != "landing-2" {
		t.Fatalf("unexpected path %q", got)
	}
	if err := f.AddStep(dup); err != ErrDuplicateStep {
		t.Fatalf("expected ErrDuplicateStep, got %v", err)
	}
}

func TestFunnelStepMutations(t *testing.T) {
	f := mustFunnel(t)

	if err := f.MoveStep("s3", 0); err != nil {
		t.Fatalf("MoveStep() error = %v", err)
	}
	if got := stepIDs(f); !slices.Equal(got, []string{"s3", "s1", "s2"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if err := f.MoveStep("s3", 3); err != ErrInvalidPosition {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if err := f.RenameStep("s1", " Home "); err != nil {
		t.Fatalf("RenameStep() error = %v", err)
	}
	if f.Steps[1].Name != "Home" || f.Steps[1].Path != "landing" {
		t.Fatalf("unexpected step %#v", f.Steps[1])
	}
	if err := f.RemoveStep("s2"); err != nil {
		t.Fatalf("RemoveStep() error = %v", err)
	}
	if err := f.RemoveStep("s2"); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}
	if got := stepIDs(f); !slices.Equal(got, []string{"s3", "s1"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestFunnelValidate(t *testing.T) {
	f := mustFunnel(t)
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	bad := f.Clone()
	bad.Steps[1].ID = "s1"
	if err := bad.Validate(); err != ErrDuplicateStep {
		t.Fatalf("expected ErrDuplicateStep, got %v", err)
	}

	bad = f.Clone()
	bad.Steps[1].Path = bad.Steps[0].Path
	if err := bad.Validate(); err != ErrDuplicateStepPath {
		t.Fatalf("expected ErrDuplicateStepPath, got %v", err)
	}

	bad = f.Clone()
	bad.Status = "gone"
	if err := bad.Validate(); err != ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestFunnelCloneIsDeep(t *testing.T) {
	f := mustFunnel(t)
	_ = f.SetSetting("k", "v")
	f.Archive(f.CreatedAt)

	c := f.Clone()
	c.Steps[0].Name = "changed"
	c.Settings["k"] = "changed"
	*c.ArchivedAt = c.ArchivedAt.Add(time.Hour)

	if f.Steps[0].Name != "Landing" || f.Settings["k"] != "v" || !f.ArchivedAt.Equal(f.CreatedAt) {
		t.Fatalf("clone shares state with original: %#v", f)
	}
}

func TestChangedFunnelFields(t *testing.T) {
	prev := mustFunnel(t)
	next := prev.Clone()
	if got := ChangedFunnelFields(prev, next); len(got) != 0 {
		t.Fatalf("expected no changes, got %v", got)
	}
	_ = next.Rename("Other")
	next.Theme.PrimaryColor = "#ff0000"
	_ = next.RemoveStep("s1")
	got := ChangedFunnelFields(prev, next)
	if !slices.Equal(got, []string{"name", "theme", "steps"}) {
		t.Fatalf("unexpected changed fields %v", got)
	}
}

func TestActorTypeValidation(t *testing.T) {
	if !IsValidActorType(" Agent ") {
		t.Fatal("expected agent to be valid")
	}
	if IsValidActorType("robot") {
		t.Fatal("expected robot to be invalid")
	}
}
