package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"dario.cat/mergo"
	"github.com/evanschultz/funnel/internal/domain"
	"github.com/goccy/go-json"
)

// FunnelPatch is a partial funnel. Empty fields are left untouched, settings
// merge key by key and a non-empty step list replaces the current one.
type FunnelPatch struct {
	Label       string              `json:"label,omitempty"`
	Name        string              `json:"name,omitempty"`
	Description string              `json:"description,omitempty"`
	Status      domain.FunnelStatus `json:"status,omitempty"`
	Theme       domain.Theme        `json:"theme,omitempty"`
	Steps       []domain.Step       `json:"steps,omitempty"`
	Settings    map[string]string   `json:"settings,omitempty"`
}

// AIBatch is a labeled group of patches applied by an agent.
type AIBatch struct {
	Label   string        `json:"label"`
	Patches []FunnelPatch `json:"patches"`
}

// ApplyTo merges the patch into f.
func (p FunnelPatch) ApplyTo(f *domain.Funnel) error {
	merged := patchFromFunnel(*f)
	src := p
	src.Label = ""
	src.Steps = slices.Clone(p.Steps)
	src.Settings = maps.Clone(p.Settings)
	if err := mergo.Merge(&merged, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge funnel patch: %w", err)
	}

	if merged.Name != f.Name {
		if err := f.Rename(merged.Name); err != nil {
			return err
		}
	}
	if err := f.SetStatus(merged.Status); err != nil {
		return err
	}
	f.Description = strings.TrimSpace(merged.Description)
	f.Theme = merged.Theme
	f.Steps = merged.Steps
	f.Settings = merged.Settings
	for key, value := range p.Settings {
		if value == "" {
			delete(f.Settings, key)
		}
	}
	return nil
}

// IsEmpty reports whether the patch changes nothing.
func (p FunnelPatch) IsEmpty() bool {
	return p.Name == "" && p.Description == "" && p.Status == "" &&
		p.Theme == (domain.Theme{}) && len(p.Steps) == 0 && len(p.Settings) == 0
}

func patchFromFunnel(f domain.Funnel) FunnelPatch {
	return FunnelPatch{
		Name:        f.Name,
		Description: f.Description,
		Status:      f.Status,
		Theme:       f.Theme,
		Steps:       slices.Clone(f.Steps),
		Settings:    maps.Clone(f.Settings),
	}
}

// labelFor returns the history label for patch i.
func (b AIBatch) labelFor(i int) string {
	if label := strings.TrimSpace(b.Patches[i].Label); label != "" {
		return label
	}
	base := strings.TrimSpace(b.Label)
	if base == "" {
		base = "AI edit"
	}
	if len(b.Patches) == 1 {
		return base
	}
	return fmt.Sprintf("%s (%d/%d)", base, i+1, len(b.Patches))
}

// DecodeFunnelPatch decodes one patch, rejecting unknown fields.
func DecodeFunnelPatch(r io.Reader) (FunnelPatch, error) {
	var patch FunnelPatch
	if err := decodeStrict(r, &patch); err != nil {
		return FunnelPatch{}, err
	}
	if patch.IsEmpty() {
		return FunnelPatch{}, fmt.Errorf("%w: patch changes nothing", ErrInvalidPatch)
	}
	return patch, nil
}

// DecodeAIBatch decodes an AI batch, rejecting unknown fields.
func DecodeAIBatch(r io.Reader) (AIBatch, error) {
	var batch AIBatch
	if err := decodeStrict(r, &batch); err != nil {
		return AIBatch{}, err
	}
	if len(batch.Patches) == 0 {
		return AIBatch{}, ErrEmptyBatch
	}
	return batch, nil
}

// EncodeFunnel renders f as indented JSON.
func EncodeFunnel(f domain.Funnel) ([]byte, error) {
	return json.MarshalIndent(f, "", "  ")
}

func decodeStrict(r io.Reader, out any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read patch: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: empty body", ErrInvalidPatch)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", ErrInvalidPatch)
	}
	return nil
}
