package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/evanschultz/funnel/internal/domain"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "funnel.snapshot.v1"

// importActorID attributes funnels written by ImportSnapshot.
const importActorID = "funnel-import"

// Snapshot represents a portable export of every funnel.
type Snapshot struct {
	Version    string           `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Funnels    []SnapshotFunnel `json:"funnels"`
}

// SnapshotFunnel represents one funnel row in a snapshot.
type SnapshotFunnel struct {
	ID          string              `json:"id"`
	Slug        string              `json:"slug"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Status      domain.FunnelStatus `json:"status"`
	Theme       domain.Theme        `json:"theme"`
	Steps       []domain.Step       `json:"steps"`
	Settings    map[string]string   `json:"settings,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	ArchivedAt  *time.Time          `json:"archived_at,omitempty"`
}

// ExportSnapshot handles export snapshot.
func (s *Service) ExportSnapshot(ctx context.Context, includeArchived bool) (Snapshot, error) {
	funnels, err := s.repo.ListFunnels(ctx, includeArchived)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: s.clock().UTC(),
		Funnels:    make([]SnapshotFunnel, 0, len(funnels)),
	}
	for _, funnel := range funnels {
		snap.Funnels = append(snap.Funnels, snapshotFunnelFromDomain(funnel))
	}
	snap.sort()
	return snap, nil
}

// ImportSnapshot upserts every funnel in snap.
func (s *Service) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	snap.sort()

	actor := MutationActor{ActorID: importActorID, ActorType: domain.ActorTypeSystem}
	if ctxActor, ok := MutationActorFromContext(ctx); ok {
		actor = ctxActor
	}
	for _, funnel := range snap.Funnels {
		if err := s.upsertFunnel(ctx, funnel.toDomain(), actor); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the requested operation.
func (s *Snapshot) Validate() error {
	if s.Version != "" && s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %q", s.Version)
	}

	funnelIDs := map[string]struct{}{}
	for i, f := range s.Funnels {
		id := strings.TrimSpace(f.ID)
		if id == "" {
			return fmt.Errorf("funnels[%d].id is required", i)
		}
		if f.CreatedAt.IsZero() || f.UpdatedAt.IsZero() {
			return fmt.Errorf("funnels[%d] timestamps are required", i)
		}
		if _, exists := funnelIDs[id]; exists {
			return fmt.Errorf("duplicate funnel id: %q", id)
		}
		if err := f.toDomain().Validate(); err != nil {
			return fmt.Errorf("funnels[%d]: %w", i, err)
		}
		s.Funnels[i].ID = id
		funnelIDs[id] = struct{}{}
	}
	return nil
}

// upsertFunnel handles upsert funnel.
func (s *Service) upsertFunnel(ctx context.Context, f domain.Funnel, actor MutationActor) error {
	if _, err := s.repo.GetFunnel(ctx, f.ID); err == nil {
		return s.repo.UpdateFunnel(ctx, f, actor)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.repo.CreateFunnel(ctx, f, actor)
}

// sort handles sort.
func (s *Snapshot) sort() {
	sort.Slice(s.Funnels, func(i, j int) bool {
		return s.Funnels[i].ID < s.Funnels[j].ID
	})
}

// snapshotFunnelFromDomain handles snapshot funnel from domain.
func snapshotFunnelFromDomain(f domain.Funnel) SnapshotFunnel {
	f = f.Clone()
	if f.Steps == nil {
		f.Steps = []domain.Step{}
	}
	return SnapshotFunnel{
		ID:          f.ID,
		Slug:        f.Slug,
		Name:        f.Name,
		Description: f.Description,
		Status:      f.Status,
		Theme:       f.Theme,
		Steps:       f.Steps,
		Settings:    f.Settings,
		CreatedAt:   f.CreatedAt.UTC(),
		UpdatedAt:   f.UpdatedAt.UTC(),
		ArchivedAt:  copyTimePtr(f.ArchivedAt),
	}
}

// toDomain converts a snapshot row back into a funnel.
func (f SnapshotFunnel) toDomain() domain.Funnel {
	status := f.Status
	if status == "" {
		status = domain.FunnelStatusDraft
	}
	slug := strings.TrimSpace(f.Slug)
	if slug == "" {
		slug = fallbackSlug(f.Name)
	}
	out := domain.Funnel{
		ID:          strings.TrimSpace(f.ID),
		Slug:        slug,
		Name:        strings.TrimSpace(f.Name),
		Description: f.Description,
		Status:      status,
		Theme:       f.Theme,
		Steps:       f.Steps,
		Settings:    f.Settings,
		CreatedAt:   f.CreatedAt.UTC(),
		UpdatedAt:   f.UpdatedAt.UTC(),
		ArchivedAt:  copyTimePtr(f.ArchivedAt),
	}
	if out.Steps == nil {
		out.Steps = []domain.Step{}
	}
	return out.Clone()
}

// fallbackSlug provides fallback slug.
func fallbackSlug(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	return strings.Trim(name, "-")
}

// copyTimePtr copies time ptr.
func copyTimePtr(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	t := in.UTC()
	return &t
}
