package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/giftroulette/internal/roulette"
)

type SessionHandler struct {
	engine *roulette.Engine
	logger *slog.Logger
}

func NewSessionHandler(e *roulette.Engine, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{engine: e, logger: logger}
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*roulette.Session, bool) {
	sess, ok := h.engine.Session(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found", Code: "unknown_session"})
		return nil, false
	}
	return sess, true
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess := h.engine.NewSession()
	writeJSON(w, http.StatusCreated, sess.View())
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.engine.DeleteSession(r.PathValue("id")) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found", Code: "unknown_session"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Spin(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Spin(r.Context()); err != nil {
		writeError(w, h.logger, err, sess)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (h *SessionHandler) CompleteAnimation(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.CompleteAnimation(); err != nil {
		writeError(w, h.logger, err, sess)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (h *SessionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.ClaimCurrent(r.Context()); err != nil {
		writeError(w, h.logger, err, sess)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

type wishRequest struct {
	Wish string `json:"wish"`
}

func (h *SessionHandler) Wish(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req wishRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Code: "bad_request"})
		return
	}

	if _, err := sess.CompleteWish(r.Context(), req.Wish); err != nil {
		writeError(w, h.logger, err, sess)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	sess.Reset()
	writeJSON(w, http.StatusOK, sess.View())
}
