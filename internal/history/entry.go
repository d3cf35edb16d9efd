package history

import "time"

// Source identifies who produced a change.
type Source string

// Source values recorded on entries.
const (
	SourceUser Source = "user"
	SourceAI   Source = "ai"
)

// Entry is one reversible change holding full before/after snapshots.
type Entry[T any] struct {
	ID        string
	Label     string
	Before    T
	After     T
	Source    Source
	BatchID   string
	Timestamp time.Time
}

// Info returns the snapshot-free description of the entry.
func (e Entry[T]) Info() Info {
	return Info{
		ID:        e.ID,
		Label:     e.Label,
		Source:    e.Source,
		BatchID:   e.BatchID,
		Timestamp: e.Timestamp,
	}
}

// Info describes an entry for history listings.
type Info struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Source    Source    `json:"source"`
	BatchID   string    `json:"batch_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TimelineItem is one row of the combined undo/redo listing.
type TimelineItem struct {
	Info
	// Applied is true for entries on the undo stack.
	Applied bool `json:"applied"`
}

// Result reports the outcome of Undo, Redo and JumpTo.
type Result[T any] struct {
	OK    bool
	Value T
	Steps int
}
