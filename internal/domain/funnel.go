package domain

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// FunnelStatus describes the publish state of a funnel.
type FunnelStatus string

// FunnelStatus values.
const (
	FunnelStatusDraft     FunnelStatus = "draft"
	FunnelStatusPublished FunnelStatus = "published"
)

// Theme holds funnel-wide presentation settings.
type Theme struct {
	PrimaryColor string `json:"primary_color,omitempty"`
	FontFamily   string `json:"font_family,omitempty"`
}

// Funnel is the editable property bag for one funnel and its pages.
type Funnel struct {
	ID          string            `json:"id"`
	Slug        string            `json:"slug"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Status      FunnelStatus      `json:"status"`
	Theme       Theme             `json:"theme"`
	Steps       []Step            `json:"steps"`
	Settings    map[string]string `json:"settings,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ArchivedAt  *time.Time        `json:"archived_at,omitempty"`
}

// NewFunnel constructs a draft funnel with no steps.
func NewFunnel(id, name, description string, now time.Time) (Funnel, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" {
		return Funnel{}, ErrInvalidID
	}
	if name == "" {
		return Funnel{}, ErrInvalidName
	}

	return Funnel{
		ID:          id,
		Slug:        normalizeSlug(name),
		Name:        name,
		Description: strings.TrimSpace(description),
		Status:      FunnelStatusDraft,
		Steps:       []Step{},
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// Clone returns a deep copy safe to hand to history snapshots.
func (f Funnel) Clone() Funnel {
	f.Steps = slices.Clone(f.Steps)
	f.Settings = maps.Clone(f.Settings)
	if f.ArchivedAt != nil {
		ts := *f.ArchivedAt
		f.ArchivedAt = &ts
	}
	return f
}

// Rename renames the funnel and refreshes its slug.
func (f *Funnel) Rename(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	f.Name = name
	f.Slug = normalizeSlug(name)
	return nil
}

// SetStatus changes the publish state.
func (f *Funnel) SetStatus(status FunnelStatus) error {
	status = FunnelStatus(strings.TrimSpace(strings.ToLower(string(status))))
	if !IsValidFunnelStatus(status) {
		return ErrInvalidStatus
	}
	f.Status = status
	return nil
}

// SetSetting stores one settings value. An empty value removes the key.
func (f *Funnel) SetSetting(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidSettingKey
	}
	if value == "" {
		delete(f.Settings, key)
		return nil
	}
	if f.Settings == nil {
		f.Settings = map[string]string{}
	}
	f.Settings[key] = value
	return nil
}

// StepIndex returns the index of the step with id, or -1.
func (f Funnel) StepIndex(id string) int {
	id = strings.TrimSpace(id)
	return slices.IndexFunc(f.Steps, func(s Step) bool { return s.ID == id })
}

// AddStep appends a step after validating it against existing steps.
func (f *Funnel) AddStep(step Step) error {
	if err := step.Validate(); err != nil {
		return err
	}
	if f.StepIndex(step.ID) >= 0 {
		return ErrDuplicateStep
	}
	if step.Path == "" {
		step.Path = f.uniquePath(normalizeSlug(step.Name))
	}
	f.Steps = append(f.Steps, step)
	return nil
}

// RemoveStep deletes the step with id.
func (f *Funnel) RemoveStep(id string) error {
	idx := f.StepIndex(id)
	if idx < 0 {
		return ErrStepNotFound
	}
	f.Steps = slices.Delete(f.Steps, idx, idx+1)
	return nil
}

// MoveStep moves a step to index within the step list.
func (f *Funnel) MoveStep(id string, index int) error {
	idx := f.StepIndex(id)
	if idx < 0 {
		return ErrStepNotFound
	}
	if index < 0 || index >= len(f.Steps) {
		return ErrInvalidPosition
	}
	if index == idx {
		return nil
	}
	step := f.Steps[idx]
	f.Steps = slices.Delete(f.Steps, idx, idx+1)
	f.Steps = slices.Insert(f.Steps, index, step)
	return nil
}

// RenameStep renames one step. The path is left as is.
func (f *Funnel) RenameStep(id, name string) error {
	idx := f.StepIndex(id)
	if idx < 0 {
		return ErrStepNotFound
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	f.Steps[idx].Name = name
	return nil
}

// Validate checks funnel-level invariants.
func (f Funnel) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return ErrInvalidID
	}
	if strings.TrimSpace(f.Name) == "" {
		return ErrInvalidName
	}
	if !IsValidFunnelStatus(f.Status) {
		return ErrInvalidStatus
	}
	seenIDs := make(map[string]struct{}, len(f.Steps))
	seenPaths := make(map[string]struct{}, len(f.Steps))
	for _, step := range f.Steps {
		if err := step.Validate(); err != nil {
			return err
		}
		if _, ok := seenIDs[step.ID]; ok {
			return ErrDuplicateStep
		}
		seenIDs[step.ID] = struct{}{}
		if step.Path == "" {
			continue
		}
		if _, ok := seenPaths[step.Path]; ok {
			return ErrDuplicateStepPath
		}
		seenPaths[step.Path] = struct{}{}
	}
	return nil
}

// Archive archives the funnel.
func (f *Funnel) Archive(now time.Time) {
	ts := now.UTC()
	f.ArchivedAt = &ts
	f.UpdatedAt = ts
}

// Restore clears the archived state.
func (f *Funnel) Restore(now time.Time) {
	f.ArchivedAt = nil
	f.UpdatedAt = now.UTC()
}

// IsValidFunnelStatus reports whether status is supported.
func IsValidFunnelStatus(status FunnelStatus) bool {
	switch status {
	case FunnelStatusDraft, FunnelStatusPublished:
		return true
	default:
		return false
	}
}

// uniquePath derives a path not used by any existing step.
func (f Funnel) uniquePath(base string) string {
	if base == "" {
		base = "step"
	}
	taken := func(p string) bool {
		return slices.ContainsFunc(f.Steps, func(s Step) bool { return s.Path == p })
	}
	path := base
	for n := 2; taken(path); n++ {
		path = base + "-" + strconv.Itoa(n)
	}
	return path
}

// ChangedFunnelFields lists the editable fields that differ between prev and next.
func ChangedFunnelFields(prev, next Funnel) []string {
	changed := make([]string, 0, 6)
	if prev.Name != next.Name {
		changed = append(changed, "name")
	}
	if prev.Description != next.Description {
		changed = append(changed, "description")
	}
	if prev.Status != next.Status {
		changed = append(changed, "status")
	}
	if prev.Theme != next.Theme {
		changed = append(changed, "theme")
	}
	if !slices.Equal(prev.Steps, next.Steps) {
		changed = append(changed, "steps")
	}
	if !maps.Equal(prev.Settings, next.Settings) {
		changed = append(changed, "settings")
	}
	if !equalNullableTimes(prev.ArchivedAt, next.ArchivedAt) {
		changed = append(changed, "archived_at")
	}
	return changed
}

// normalizeSlug normalizes slug.
func normalizeSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	prevDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
			prevDash = false
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func equalNullableTimes(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
