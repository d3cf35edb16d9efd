package domain

import "errors"

var (
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidName       = errors.New("invalid name")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidStepKind   = errors.New("invalid step kind")
	ErrInvalidPosition   = errors.New("invalid position")
	ErrInvalidSettingKey = errors.New("invalid setting key")
	ErrInvalidActorType  = errors.New("invalid actor type")
	ErrDuplicateStep     = errors.New("duplicate step id")
	ErrDuplicateStepPath = errors.New("duplicate step path")
	ErrStepNotFound      = errors.New("step not found")
)
