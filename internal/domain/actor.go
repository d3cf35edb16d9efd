package domain

import (
	"slices"
	"strings"
)

// ActorType describes the actor class that made a change.
type ActorType string

// ActorType values.
const (
	ActorTypeUser   ActorType = "user"
	ActorTypeAgent  ActorType = "agent"
	ActorTypeSystem ActorType = "system"
)

// NormalizeActorType lowercases and trims actorType.
func NormalizeActorType(actorType ActorType) ActorType {
	return ActorType(strings.TrimSpace(strings.ToLower(string(actorType))))
}

// IsValidActorType reports whether actor type is supported.
func IsValidActorType(actorType ActorType) bool {
	actorType = NormalizeActorType(actorType)
	return slices.Contains([]ActorType{ActorTypeUser, ActorTypeAgent, ActorTypeSystem}, actorType)
}
