package app

import (
	"context"
	"strings"

	"github.com/evanschultz/funnel/internal/domain"
	"github.com/evanschultz/funnel/internal/history"
)

// DefaultActorID attributes changes made without an actor in context.
const DefaultActorID = "funnel-user"

// MutationActor carries normalized caller identity metadata for mutation attribution.
type MutationActor struct {
	ActorID   string
	ActorType domain.ActorType
}

// HistorySource maps the actor onto the history source recorded for its edits.
func (a MutationActor) HistorySource() history.Source {
	if a.ActorType == domain.ActorTypeAgent {
		return history.SourceAI
	}
	return history.SourceUser
}

// WithMutationActor attaches normalized mutation-actor identity metadata to context.
func WithMutationActor(ctx context.Context, actor MutationActor) context.Context {
	actor = normalizeMutationActor(actor)
	return context.WithValue(ctx, mutationActorContextKey{}, actor)
}

// MutationActorFromContext returns normalized mutation-actor metadata when present.
func MutationActorFromContext(ctx context.Context) (MutationActor, bool) {
	raw := ctx.Value(mutationActorContextKey{})
	actor, ok := raw.(MutationActor)
	if !ok {
		return MutationActor{}, false
	}
	actor = normalizeMutationActor(actor)
	if actor.ActorID == "" {
		return MutationActor{}, false
	}
	return actor, true
}

// mutationActorContextKey stores context keys for mutation actor metadata.
type mutationActorContextKey struct{}

// actorFromContext returns the context actor or the local default user.
func actorFromContext(ctx context.Context) MutationActor {
	if actor, ok := MutationActorFromContext(ctx); ok {
		return actor
	}
	return MutationActor{ActorID: DefaultActorID, ActorType: domain.ActorTypeUser}
}

// normalizeMutationActor trims and canonicalizes mutation actor metadata.
func normalizeMutationActor(actor MutationActor) MutationActor {
	actor.ActorID = strings.TrimSpace(actor.ActorID)
	actor.ActorType = domain.NormalizeActorType(actor.ActorType)
	if !domain.IsValidActorType(actor.ActorType) {
		actor.ActorType = domain.ActorTypeUser
	}
	return actor
}
