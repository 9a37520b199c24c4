package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/codelake/codelake/internal/session"
)

// sessionsHandler serves session CRUD over the persistent store.
type sessionsHandler struct {
	store  *session.Store
	logger *slog.Logger
}

type sessionBody struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type turnBody struct {
	Request     string    `json:"request"`
	PlanSteps   []string  `json:"plan_steps,omitempty"`
	Code        string    `json:"code"`
	Explanation string    `json:"explanation,omitempty"`
	Complete    bool      `json:"complete"`
	CreatedAt   time.Time `json:"created_at"`
}

func sessionToBody(s *session.Session) sessionBody {
	return sessionBody{
		ID:        s.ID.String(),
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (h *sessionsHandler) create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "request body must be JSON")
			return
		}
	}

	sess, err := h.store.CreateSession(r.Context(), req.Title)
	if err != nil {
		h.logger.Error("create session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, sessionToBody(sess))
}

func (h *sessionsHandler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context(), 100, 0)
	if err != nil {
		h.logger.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list sessions")
		return
	}

	out := make([]sessionBody, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionToBody(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *sessionsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	sess, err := h.store.GetSession(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	if err != nil {
		h.logger.Error("get session failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, sessionToBody(sess))
}

func (h *sessionsHandler) turns(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	turns, err := h.store.LoadRecent(r.Context(), id, 100)
	if err != nil {
		h.logger.Error("load turns failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load turns")
		return
	}

	out := make([]turnBody, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnBody{
			Request:     t.Request,
			PlanSteps:   t.PlanSteps,
			Code:        t.Code,
			Explanation: t.Explanation,
			Complete:    t.Complete,
			CreatedAt:   t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": out})
}

func (h *sessionsHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	err := h.store.DeleteSession(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	if err != nil {
		h.logger.Error("delete session failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathID parses the {id} path segment, writing a 400 on failure.
func (h *sessionsHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
