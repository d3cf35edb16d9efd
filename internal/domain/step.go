package domain

import (
	"slices"
	"strings"
)

// StepKind identifies the page type of a funnel step.
type StepKind string

// StepKind values.
const (
	StepKindLanding  StepKind = "landing"
	StepKindOptin    StepKind = "optin"
	StepKindSales    StepKind = "sales"
	StepKindCheckout StepKind = "checkout"
	StepKindUpsell   StepKind = "upsell"
	StepKindDownsell StepKind = "downsell"
	StepKindThankYou StepKind = "thankyou"
	StepKindWebinar  StepKind = "webinar"
)

// StepKinds lists supported step kinds in display order.
var StepKinds = []StepKind{
	StepKindLanding,
	StepKindOptin,
	StepKindSales,
	StepKindCheckout,
	StepKindUpsell,
	StepKindDownsell,
	StepKindThankYou,
	StepKindWebinar,
}

// Step is one page in a funnel.
type Step struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Kind      StepKind `json:"kind"`
	Path      string   `json:"path,omitempty"`
	Published bool     `json:"published"`
}

// NewStep constructs a step. An empty kind defaults to landing.
func NewStep(id, name string, kind StepKind) (Step, error) {
	step := Step{
		ID:   strings.TrimSpace(id),
		Name: strings.TrimSpace(name),
		Kind: normalizeStepKind(kind),
	}
	if step.Kind == "" {
		step.Kind = StepKindLanding
	}
	if err := step.Validate(); err != nil {
		return Step{}, err
	}
	return step, nil
}

// Validate checks step-level invariants.
func (s Step) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrInvalidID
	}
	if strings.TrimSpace(s.Name) == "" {
		return ErrInvalidName
	}
	if !IsValidStepKind(s.Kind) {
		return ErrInvalidStepKind
	}
	return nil
}

// IsValidStepKind reports whether kind is supported.
func IsValidStepKind(kind StepKind) bool {
	return slices.Contains(StepKinds, kind)
}

func normalizeStepKind(kind StepKind) StepKind {
	return StepKind(strings.TrimSpace(strings.ToLower(string(kind))))
}
