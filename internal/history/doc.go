// Package history provides bounded undo/redo over full value snapshots.
//
// A Store holds the live value plus two stacks of entries. Every entry records
// the complete value before and after one change, so undo and redo only move
// entries between stacks and reassign the live value:
//
//	store := history.NewStore(funnel, history.Options[domain.Funnel]{
//		MaxSize: 50,
//		Clone:   domain.Funnel.Clone,
//	})
//	tracker := history.NewTracker(store, history.TrackerConfig{})
//
//	tracker.TrackUserChange("Changed funnel name", before, after)
//	store.Undo() // live value is `before` again
//	store.Redo() // live value is `after` again
//
// # Batches
//
// AI-driven edits are tagged with a batch id through Tracker.StartAIBatch and
// Tracker.TrackAIChange. By default a batch only labels its entries and every
// change stays individually undoable. Options.CollapseBatches makes Undo and
// Redo move all contiguous entries of one batch as a single step.
//
// # Concurrency
//
// A Store is not safe for concurrent use. Callers confine it to one goroutine
// or serialize access themselves.
package history
