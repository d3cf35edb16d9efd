package app

import (
	"context"

	"github.com/evanschultz/funnel/internal/domain"
)

// Repository persists funnels and their change ledger.
type Repository interface {
	CreateFunnel(context.Context, domain.Funnel, MutationActor) error
	UpdateFunnel(context.Context, domain.Funnel, MutationActor) error
	GetFunnel(context.Context, string) (domain.Funnel, error)
	ListFunnels(context.Context, bool) ([]domain.Funnel, error)
	DeleteFunnel(context.Context, string, MutationActor) error
	ListFunnelChangeEvents(context.Context, string, int) ([]domain.ChangeEvent, error)
}
