// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/evanschultz/funnel/internal/adapters/server/common"
	"github.com/evanschultz/funnel/internal/app"
	"github.com/evanschultz/funnel/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// defaultAgentID attributes MCP edits when the caller does not name itself.
const defaultAgentID = "mcp-agent"

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing the funnel editing tools.
// Every mutating tool runs as an agent actor so its edits land in history as AI changes.
func NewHandler(cfg Config, funnels common.FunnelService) (*Handler, error) {
	if funnels == nil {
		return nil, fmt.Errorf("funnel service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerReadTools(mcpSrv, funnels)
	registerEditTools(mcpSrv, funnels)
	registerHistoryTools(mcpSrv, funnels)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "funnel"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerReadTools registers funnel.list and funnel.get.
func registerReadTools(srv *mcpserver.MCPServer, funnels common.FunnelService) {
	srv.AddTool(
		mcp.NewTool(
			"funnel.list",
			mcp.WithDescription("List funnels. Funnels with an open editing session are marked editing."),
			mcp.WithBoolean("include_archived", mcp.Description("Include archived funnels")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			rows, err := funnels.ListFunnels(ctx, req.GetBool("include_archived", false))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("funnel.list", map[string]any{"funnels": rows})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"funnel.get",
			mcp.WithDescription("Return the live, possibly unsaved, state of one funnel."),
			mcp.WithString("funnel_id", mcp.Required(), mcp.Description("Funnel identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			funnelID, err := req.RequireString("funnel_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			view, err := funnels.GetFunnel(ctx, funnelID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("funnel.get", view)
		},
	)
}

// registerEditTools registers funnel.apply_ai_batch and funnel.save.
func registerEditTools(srv *mcpserver.MCPServer, funnels common.FunnelService) {
	srv.AddTool(
		mcp.NewTool(
			"funnel.apply_ai_batch",
			mcp.WithDescription("Apply a labeled batch of funnel patches. Each patch becomes its own undoable history entry sharing one batch id."),
			mcp.WithString("funnel_id", mcp.Required(), mcp.Description("Funnel identifier")),
			mcp.WithString("label", mcp.Description("Batch label shown in the history panel")),
			mcp.WithArray(
				"patches",
				mcp.Required(),
				mcp.Description("Partial funnels: name, description, status, theme, steps, settings, and an optional per-patch label"),
				mcp.Items(map[string]any{"type": "object"}),
			),
			mcp.WithString("agent_name", mcp.Description("Agent name recorded on saved changes")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				FunnelID  string            `json:"funnel_id"`
				Label     string            `json:"label"`
				Patches   []app.FunnelPatch `json:"patches"`
				AgentName string            `json:"agent_name"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.FunnelID) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "funnel_id" not found`), nil
			}
			res, err := funnels.ApplyAIBatch(ctx, common.AIBatchRequest{
				FunnelID: args.FunnelID,
				Actor:    agentActor(args.AgentName),
				Label:    args.Label,
				Patches:  args.Patches,
			})
			if err != nil {
				if res.Applied > 0 {
					err = fmt.Errorf("%w (batch %s applied %d patches before failing; undo to revert them)", err, res.BatchID, res.Applied)
				}
				return toolResultFromError(err), nil
			}
			return jsonResult("funnel.apply_ai_batch", res)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"funnel.save",
			mcp.WithDescription("Persist the live funnel. History is kept so saved edits stay undoable."),
			mcp.WithString("funnel_id", mcp.Required(), mcp.Description("Funnel identifier")),
			mcp.WithString("agent_name", mcp.Description("Agent name recorded on the change event")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			funnelID, err := req.RequireString("funnel_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			view, err := funnels.Save(ctx, common.SaveRequest{
				FunnelID: funnelID,
				Actor:    agentActor(req.GetString("agent_name", "")),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("funnel.save", view)
		},
	)
}

// registerHistoryTools registers funnel.history, funnel.undo, funnel.redo and funnel.jump.
func registerHistoryTools(srv *mcpserver.MCPServer, funnels common.FunnelService) {
	srv.AddTool(
		mcp.NewTool(
			"funnel.history",
			mcp.WithDescription("List the editing history of one funnel, applied entries first."),
			mcp.WithString("funnel_id", mcp.Required(), mcp.Description("Funnel identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			funnelID, err := req.RequireString("funnel_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			view, err := funnels.History(ctx, funnelID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("funnel.history", view)
		},
	)

	moves := []struct {
		name        string
		description string
		run         func(context.Context, string) (common.MoveResult, error)
	}{
		{"funnel.undo", "Undo the most recent change. ok=false means there was nothing to undo.", funnels.Undo},
		{"funnel.redo", "Redo the most recently undone change. ok=false means there was nothing to redo.", funnels.Redo},
	}
	for _, move := range moves {
		srv.AddTool(
			mcp.NewTool(
				move.name,
				mcp.WithDescription(move.description),
				mcp.WithString("funnel_id", mcp.Required(), mcp.Description("Funnel identifier")),
			),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				funnelID, err := req.RequireString("funnel_id")
				if err != nil {
					return invalidRequestToolResult(err), nil
				}
				res, err := move.run(ctx, funnelID)
				if err != nil {
					return toolResultFromError(err), nil
				}
				return jsonResult(move.name, res)
			},
		)
	}

	srv.AddTool(
		mcp.NewTool(
			"funnel.jump",
			mcp.WithDescription("Undo or redo until the given history entry is the latest applied one."),
			mcp.WithString("funnel_id", mcp.Required(), mcp.Description("Funnel identifier")),
			mcp.WithString("entry_id", mcp.Description("History entry identifier; omit to return to the state before the oldest entry")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			funnelID, err := req.RequireString("funnel_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			res, err := funnels.JumpTo(ctx, common.JumpRequest{FunnelID: funnelID, EntryID: req.GetString("entry_id", "")})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("funnel.jump", res)
		},
	)
}

// agentActor builds the actor tuple for an MCP caller.
func agentActor(name string) common.Actor {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultAgentID
	}
	return common.Actor{ActorID: name, ActorType: string(domain.ActorTypeAgent)}
}

// jsonResult encodes payload as a structured tool result.
func jsonResult(tool string, payload any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", tool, err)
	}
	return result, nil
}

// toolResultFromError maps adapter errors into prefixed tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}

// invalidRequestToolResult reports malformed tool arguments.
func invalidRequestToolResult(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("invalid_request: malformed arguments")
	}
	return mcp.NewToolResultError("invalid_request: " + err.Error())
}
