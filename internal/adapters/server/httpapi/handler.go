// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/evanschultz/funnel/internal/adapters/server/common"
	json "github.com/goccy/go-json"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	funnels common.FunnelService
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter over funnels.
func NewHandler(funnels common.FunnelService) *Handler {
	return &Handler{funnels: funnels}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.funnels == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "funnel service is not configured",
		})
		return
	}

	path := normalizePath(r.URL.Path)
	if path == "funnels" {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleListFunnels(w, r)
		return
	}

	funnelID, action, ok := resolveFunnelRoute(path)
	if !ok {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodGet && r.Method != http.MethodDelete {
			writeMethodNotAllowed(w, http.MethodGet, http.MethodDelete)
			return
		}
	case "history":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
	default:
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
	}

	switch action {
	case "":
		if r.Method == http.MethodDelete {
			h.handleDelete(w, r, funnelID)
			return
		}
		view, err := h.funnels.GetFunnel(r.Context(), funnelID)
		writeResult(w, http.StatusOK, view, err)
	case "restore":
		var req common.RestoreRequest
		if err := decodeOptionalJSONBody(r.Context(), w, r, &req); err != nil {
			writeErrorFrom(w, err)
			return
		}
		req.FunnelID = funnelID
		summary, err := h.funnels.RestoreFunnel(r.Context(), req)
		writeResult(w, http.StatusOK, summary, err)
	case "history":
		view, err := h.funnels.History(r.Context(), funnelID)
		writeResult(w, http.StatusOK, view, err)
	case "edits":
		h.handleEdit(w, r, funnelID)
	case "ai-batches":
		h.handleAIBatch(w, r, funnelID)
	case "undo":
		res, err := h.funnels.Undo(r.Context(), funnelID)
		writeResult(w, http.StatusOK, res, err)
	case "redo":
		res, err := h.funnels.Redo(r.Context(), funnelID)
		writeResult(w, http.StatusOK, res, err)
	case "jump":
		var req common.JumpRequest
		if err := decodeOptionalJSONBody(r.Context(), w, r, &req); err != nil {
			writeErrorFrom(w, err)
			return
		}
		req.FunnelID = funnelID
		res, err := h.funnels.JumpTo(r.Context(), req)
		writeResult(w, http.StatusOK, res, err)
	case "save":
		var req common.SaveRequest
		if err := decodeOptionalJSONBody(r.Context(), w, r, &req); err != nil {
			writeErrorFrom(w, err)
			return
		}
		req.FunnelID = funnelID
		view, err := h.funnels.Save(r.Context(), req)
		writeResult(w, http.StatusOK, view, err)
	default:
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
	}
}

// handleDelete serves DELETE `/funnels/{id}`. The `mode` query parameter
// overrides the configured delete mode.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, funnelID string) {
	var req common.DeleteRequest
	if err := decodeOptionalJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.FunnelID = funnelID
	if mode := strings.TrimSpace(r.URL.Query().Get("mode")); mode != "" {
		req.Mode = mode
	}
	res, err := h.funnels.DeleteFunnel(r.Context(), req)
	writeResult(w, http.StatusOK, res, err)
}

// handleListFunnels serves GET `/funnels`.
func (h *Handler) handleListFunnels(w http.ResponseWriter, r *http.Request) {
	includeArchived := false
	if raw := strings.TrimSpace(r.URL.Query().Get("include_archived")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, APIError{
				Code:    "invalid_request",
				Message: "include_archived must be a boolean",
			})
			return
		}
		includeArchived = parsed
	}
	funnels, err := h.funnels.ListFunnels(r.Context(), includeArchived)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"funnels": funnels,
	})
}

// handleEdit serves POST `/funnels/{id}/edits`.
func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request, funnelID string) {
	var req common.EditRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.FunnelID = funnelID
	view, err := h.funnels.ApplyEdit(r.Context(), req)
	writeResult(w, http.StatusOK, view, err)
}

// handleAIBatch serves POST `/funnels/{id}/ai-batches`.
func (h *Handler) handleAIBatch(w http.ResponseWriter, r *http.Request, funnelID string) {
	var req common.AIBatchRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.FunnelID = funnelID
	res, err := h.funnels.ApplyAIBatch(r.Context(), req)
	if err != nil && res.Applied > 0 {
		status, apiErr := classifyError(err)
		apiErr.Hint = "Patches applied before the failing one stay in history and can be undone."
		apiErr.Context = map[string]any{
			"batch_id": res.BatchID,
			"applied":  res.Applied,
		}
		writeJSONError(w, status, apiErr)
		return
	}
	writeResult(w, http.StatusCreated, res, err)
}

// resolveFunnelRoute parses `funnels/{id}` and `funnels/{id}/{action}`.
func resolveFunnelRoute(path string) (string, string, bool) {
	const prefix = "funnels/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(path, prefix), "/")
	if len(parts) > 2 {
		return "", "", false
	}
	funnelID := strings.TrimSpace(parts[0])
	if funnelID == "" {
		return "", "", false
	}
	if len(parts) == 1 {
		return funnelID, "", true
	}
	return funnelID, strings.TrimSpace(parts[1]), true
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// writeResult writes payload, or the structured form of err.
func writeResult(w http.ResponseWriter, statusCode int, payload any, err error) {
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, statusCode, payload)
}

// classifyError maps adapter errors onto a status code and error body.
func classifyError(err error) (int, APIError) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, APIError{Code: "internal_error", Message: "unknown error"}
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, APIError{Code: "not_found", Message: err.Error()}
	case errors.Is(err, common.ErrInvalidRequest):
		return http.StatusBadRequest, APIError{Code: "invalid_request", Message: err.Error()}
	default:
		return http.StatusInternalServerError, APIError{Code: "internal_error", Message: err.Error()}
	}
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	status, apiErr := classifyError(err)
	writeJSONError(w, status, apiErr)
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}

// decodeOptionalJSONBody decodes one optional JSON body and ignores empty payloads.
func decodeOptionalJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(out)
	if err == nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("request canceled: %w", ctx.Err())
		default:
			return nil
		}
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
}
