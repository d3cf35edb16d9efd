package history

import (
	"time"

	"github.com/google/uuid"
)

// TrackerConfig holds optional tracker dependencies.
type TrackerConfig struct {
	// IDGen returns entry and batch identifiers. Defaults to random UUIDs.
	IDGen func() string
	// Clock stamps entries. Defaults to time.Now.
	Clock func() time.Time
	// OnBatchOverwrite is called when StartAIBatch replaces a batch that was
	// still open. The previous batch is closed; the new one wins.
	OnBatchOverwrite func(previousBatchID, nextBatchID string)
}

// Tracker turns before/after pairs into entries and pushes them to a store.
type Tracker[T any] struct {
	store       *Store[T]
	idGen       func() string
	clock       func() time.Time
	onOverwrite func(string, string)
	openBatchID string
}

// NewTracker creates a tracker feeding store.
func NewTracker[T any](store *Store[T], cfg TrackerConfig) *Tracker[T] {
	if cfg.IDGen == nil {
		cfg.IDGen = uuid.NewString
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Tracker[T]{
		store:       store,
		idGen:       cfg.IDGen,
		clock:       cfg.Clock,
		onOverwrite: cfg.OnBatchOverwrite,
	}
}

// TrackUserChange pushes a standalone user entry.
func (t *Tracker[T]) TrackUserChange(label string, before, after T) Entry[T] {
	return t.push(label, before, after, SourceUser, "")
}

// StartAIBatch opens a new batch and returns its id.
func (t *Tracker[T]) StartAIBatch() string {
	next := t.idGen()
	if prev := t.openBatchID; prev != "" && t.onOverwrite != nil {
		t.onOverwrite(prev, next)
	}
	t.openBatchID = next
	return next
}

// TrackAIChange pushes an AI entry tagged with batchID, or with the open batch
// when batchID is empty. Each call adds its own undo entry.
func (t *Tracker[T]) TrackAIChange(label string, before, after T, batchID string) Entry[T] {
	if batchID == "" {
		batchID = t.openBatchID
	}
	return t.push(label, before, after, SourceAI, batchID)
}

// EndAIBatch closes the open batch. Entries already pushed are untouched.
func (t *Tracker[T]) EndAIBatch() {
	t.openBatchID = ""
}

// OpenBatchID returns the open batch id, or "" when none is open.
func (t *Tracker[T]) OpenBatchID() string {
	return t.openBatchID
}

// Store returns the store this tracker pushes to.
func (t *Tracker[T]) Store() *Store[T] {
	return t.store
}

func (t *Tracker[T]) push(label string, before, after T, source Source, batchID string) Entry[T] {
	entry := Entry[T]{
		ID:        t.idGen(),
		Label:     label,
		Before:    before,
		After:     after,
		Source:    source,
		BatchID:   batchID,
		Timestamp: t.clock().UTC(),
	}
	t.store.Push(entry)
	return entry
}
