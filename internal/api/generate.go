package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/codelake/codelake/internal/assist"
	"github.com/codelake/codelake/internal/planner"
	"github.com/codelake/codelake/internal/retrieval"
)

// maxRequestBody caps generate request bodies at 64KB.
const maxRequestBody = 64 * 1024

// generateRequest is the POST /api/v1/generate body.
type generateRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// generateResponse is the pipeline result on the wire.
type generateResponse struct {
	SessionID    string   `json:"session_id"`
	Code         string   `json:"code"`
	Explanation  string   `json:"explanation"`
	PlanSteps    []string `json:"plan_steps,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	MissingInfo  []string `json:"missing_info,omitempty"`
	Suggestions  []string `json:"suggestions,omitempty"`
	Confidence   float64  `json:"confidence"`
	Complete     bool     `json:"complete"`
	Degraded     bool     `json:"degraded,omitempty"`
	FallbackUsed bool     `json:"fallback_used,omitempty"`
}

// generateHandler bridges HTTP to the assist pipeline.
type generateHandler struct {
	assistant *assist.Assistant
	logger    *slog.Logger
}

func (h *generateHandler) generate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return
	}

	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be JSON")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_message", "message is required")
		return
	}

	var sessionID uuid.UUID
	if req.SessionID != "" {
		sessionID, err = uuid.Parse(req.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a UUID")
			return
		}
	}

	result, err := h.assistant.Handle(r.Context(), assist.Request{
		SessionID: sessionID,
		Message:   req.Message,
	})
	if err != nil {
		h.writeHandleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		SessionID:    result.SessionID.String(),
		Code:         result.Code,
		Explanation:  result.Explanation,
		PlanSteps:    result.PlanSteps,
		Sources:      result.Sources,
		MissingInfo:  result.MissingInfo,
		Suggestions:  result.Suggestions,
		Confidence:   result.Confidence,
		Complete:     result.Complete,
		Degraded:     result.Degraded,
		FallbackUsed: result.FallbackUsed,
	})
}

// writeHandleError maps pipeline failures to HTTP statuses.
func (h *generateHandler) writeHandleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, retrieval.ErrUnavailable):
		h.logger.Error("document store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "retrieval_unavailable", "document store unavailable")
	case errors.Is(err, planner.ErrMalformedPlan):
		h.logger.Error("planning failed", "error", err)
		writeError(w, http.StatusBadGateway, "malformed_plan", "the model could not produce a usable plan")
	case r.Context().Err() != nil:
		h.logger.Warn("request canceled", "error", err)
		writeError(w, http.StatusRequestTimeout, "canceled", "request canceled or timed out")
	default:
		h.logger.Error("generate failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
