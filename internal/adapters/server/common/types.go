// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"

	"github.com/evanschultz/funnel/internal/app"
	"github.com/evanschultz/funnel/internal/domain"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// Actor identifies who is calling a mutating operation.
type Actor struct {
	ActorID   string `json:"actor_id,omitempty"`
	ActorType string `json:"actor_type,omitempty"`
}

// FunnelSummary is the list view of one funnel.
type FunnelSummary struct {
	ID        string              `json:"id"`
	Slug      string              `json:"slug"`
	Name      string              `json:"name"`
	Status    domain.FunnelStatus `json:"status"`
	StepCount int                 `json:"step_count"`
	Archived  bool                `json:"archived"`
	Editing   bool                `json:"editing"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// FunnelView is the live funnel of an editing session plus its history flags.
type FunnelView struct {
	Funnel  domain.Funnel `json:"funnel"`
	Dirty   bool          `json:"dirty"`
	CanUndo bool          `json:"can_undo"`
	CanRedo bool          `json:"can_redo"`
}

// HistoryEntry describes one undo or redo entry.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Source    string    `json:"source"`
	BatchID   string    `json:"batch_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Applied   bool      `json:"applied"`
}

// HistoryView lists a session timeline, applied entries first.
type HistoryView struct {
	FunnelID string         `json:"funnel_id"`
	CanUndo  bool           `json:"can_undo"`
	CanRedo  bool           `json:"can_redo"`
	Dirty    bool           `json:"dirty"`
	Entries  []HistoryEntry `json:"entries"`
}

// MoveResult reports the outcome of undo, redo and jump.
type MoveResult struct {
	OK     bool       `json:"ok"`
	Steps  int        `json:"steps"`
	Result FunnelView `json:"result"`
}

// EditRequest applies one patch as a single history entry.
type EditRequest struct {
	FunnelID string          `json:"-"`
	Actor    Actor           `json:"actor"`
	Label    string          `json:"label,omitempty"`
	Patch    app.FunnelPatch `json:"patch"`
}

// AIBatchRequest applies a batch of agent patches.
type AIBatchRequest struct {
	FunnelID string            `json:"-"`
	Actor    Actor             `json:"actor"`
	Label    string            `json:"label,omitempty"`
	Patches  []app.FunnelPatch `json:"patches"`
}

// AIBatchResult reports the outcome of an AI batch.
type AIBatchResult struct {
	BatchID string     `json:"batch_id"`
	Applied int        `json:"applied"`
	Result  FunnelView `json:"result"`
}

// JumpRequest moves a session to a history entry.
type JumpRequest struct {
	FunnelID string `json:"-"`
	EntryID  string `json:"entry_id"`
}

// SaveRequest persists a session's live funnel.
type SaveRequest struct {
	FunnelID string `json:"-"`
	Actor    Actor  `json:"actor"`
}

// DeleteRequest archives or removes one funnel. An empty Mode uses the
// configured default.
type DeleteRequest struct {
	FunnelID string `json:"-"`
	Actor    Actor  `json:"actor"`
	Mode     string `json:"mode,omitempty"`
}

// DeleteResult reports how a funnel was removed.
type DeleteResult struct {
	FunnelID string `json:"funnel_id"`
	Mode     string `json:"mode"`
}

// RestoreRequest restores one archived funnel.
type RestoreRequest struct {
	FunnelID string `json:"-"`
	Actor    Actor  `json:"actor"`
}

// FunnelService is the transport-facing editing surface shared by HTTP and MCP.
type FunnelService interface {
	ListFunnels(context.Context, bool) ([]FunnelSummary, error)
	GetFunnel(context.Context, string) (FunnelView, error)
	History(context.Context, string) (HistoryView, error)
	ApplyEdit(context.Context, EditRequest) (FunnelView, error)
	ApplyAIBatch(context.Context, AIBatchRequest) (AIBatchResult, error)
	Undo(context.Context, string) (MoveResult, error)
	Redo(context.Context, string) (MoveResult, error)
	JumpTo(context.Context, JumpRequest) (MoveResult, error)
	Save(context.Context, SaveRequest) (FunnelView, error)
	DeleteFunnel(context.Context, DeleteRequest) (DeleteResult, error)
	RestoreFunnel(context.Context, RestoreRequest) (FunnelSummary, error)
}
