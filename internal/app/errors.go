package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidDeleteMode = errors.New("invalid delete mode")
	ErrInvalidPatch      = errors.New("invalid patch")
	ErrEmptyBatch        = errors.New("ai batch has no patches")
	ErrEntryNotFound     = errors.New("history entry not found")
)
