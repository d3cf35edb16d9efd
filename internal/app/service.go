package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/evanschultz/funnel/internal/domain"
	"github.com/google/uuid"
)

// DeleteMode represents a selectable mode.
type DeleteMode string

// DeleteModeArchive and related constants define package defaults.
const (
	DeleteModeArchive DeleteMode = "archive"
	DeleteModeHard    DeleteMode = "hard"
)

// HistoryConfig configures the undo history of editing sessions.
type HistoryConfig struct {
	MaxSize           int
	CollapseAIBatches bool
}

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	DefaultDeleteMode DeleteMode
	History           HistoryConfig
	// OnBatchOverwrite is called when an AI batch is started while another is
	// still open on the same funnel.
	OnBatchOverwrite func(funnelID, previousBatchID, nextBatchID string)
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service coordinates funnel persistence and editing sessions.
type Service struct {
	repo              Repository
	idGen             IDGenerator
	clock             Clock
	defaultDeleteMode DeleteMode
	history           HistoryConfig
	onBatchOverwrite  func(string, string, string)
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = uuid.NewString
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.DefaultDeleteMode == "" {
		cfg.DefaultDeleteMode = DeleteModeArchive
	}

	return &Service{
		repo:              repo,
		idGen:             idGen,
		clock:             clock,
		defaultDeleteMode: cfg.DefaultDeleteMode,
		history:           cfg.History,
		onBatchOverwrite:  cfg.OnBatchOverwrite,
	}
}

// CreateFunnelInput holds input values for create funnel operations.
type CreateFunnelInput struct {
	Name        string
	Description string
	Steps       []StepInput
}

// StepInput describes one step to create alongside a funnel.
type StepInput struct {
	Name string
	Kind domain.StepKind
}

// CreateFunnel creates an empty draft funnel.
func (s *Service) CreateFunnel(ctx context.Context, name, description string) (domain.Funnel, error) {
	return s.CreateFunnelWithSteps(ctx, CreateFunnelInput{Name: name, Description: description})
}

// CreateFunnelWithSteps creates a funnel seeded with steps.
func (s *Service) CreateFunnelWithSteps(ctx context.Context, in CreateFunnelInput) (domain.Funnel, error) {
	funnel, err := domain.NewFunnel(s.idGen(), in.Name, in.Description, s.clock())
	if err != nil {
		return domain.Funnel{}, err
	}
	for _, stepIn := range in.Steps {
		step, err := domain.NewStep(s.idGen(), stepIn.Name, stepIn.Kind)
		if err != nil {
			return domain.Funnel{}, err
		}
		if err := funnel.AddStep(step); err != nil {
			return domain.Funnel{}, err
		}
	}
	if err := s.repo.CreateFunnel(ctx, funnel, actorFromContext(ctx)); err != nil {
		return domain.Funnel{}, err
	}
	return funnel, nil
}

// GetFunnel returns one funnel.
func (s *Service) GetFunnel(ctx context.Context, funnelID string) (domain.Funnel, error) {
	funnelID = strings.TrimSpace(funnelID)
	if funnelID == "" {
		return domain.Funnel{}, domain.ErrInvalidID
	}
	return s.repo.GetFunnel(ctx, funnelID)
}

// ListFunnels lists funnels ordered by name.
func (s *Service) ListFunnels(ctx context.Context, includeArchived bool) ([]domain.Funnel, error) {
	funnels, err := s.repo.ListFunnels(ctx, includeArchived)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(funnels, func(a, b domain.Funnel) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return funnels, nil
}

// ArchiveFunnel archives a funnel.
func (s *Service) ArchiveFunnel(ctx context.Context, funnelID string) (domain.Funnel, error) {
	funnel, err := s.GetFunnel(ctx, funnelID)
	if err != nil {
		return domain.Funnel{}, err
	}
	funnel.Archive(s.clock())
	if err := s.repo.UpdateFunnel(ctx, funnel, actorFromContext(ctx)); err != nil {
		return domain.Funnel{}, err
	}
	return funnel, nil
}

// RestoreFunnel restores an archived funnel.
func (s *Service) RestoreFunnel(ctx context.Context, funnelID string) (domain.Funnel, error) {
	funnel, err := s.GetFunnel(ctx, funnelID)
	if err != nil {
		return domain.Funnel{}, err
	}
	funnel.Restore(s.clock())
	if err := s.repo.UpdateFunnel(ctx, funnel, actorFromContext(ctx)); err != nil {
		return domain.Funnel{}, err
	}
	return funnel, nil
}

// ResolveDeleteMode returns mode, or the configured default when mode is empty.
func (s *Service) ResolveDeleteMode(mode DeleteMode) DeleteMode {
	mode = DeleteMode(strings.ToLower(strings.TrimSpace(string(mode))))
	if mode == "" {
		return s.defaultDeleteMode
	}
	return mode
}

// DeleteFunnel archives or removes a funnel depending on mode. An empty mode
// uses the configured default.
func (s *Service) DeleteFunnel(ctx context.Context, funnelID string, mode DeleteMode) error {
	switch s.ResolveDeleteMode(mode) {
	case DeleteModeArchive:
		_, err := s.ArchiveFunnel(ctx, funnelID)
		return err
	case DeleteModeHard:
		funnelID = strings.TrimSpace(funnelID)
		if funnelID == "" {
			return domain.ErrInvalidID
		}
		return s.repo.DeleteFunnel(ctx, funnelID, actorFromContext(ctx))
	default:
		return ErrInvalidDeleteMode
	}
}

// ListFunnelChangeEvents lists recent change events for a funnel.
func (s *Service) ListFunnelChangeEvents(ctx context.Context, funnelID string, limit int) ([]domain.ChangeEvent, error) {
	funnelID = strings.TrimSpace(funnelID)
	if funnelID == "" {
		return nil, domain.ErrInvalidID
	}
	return s.repo.ListFunnelChangeEvents(ctx, funnelID, limit)
}
