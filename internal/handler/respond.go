package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/giftroulette/internal/roulette"
	"github.com/dukerupert/giftroulette/internal/store"
	"github.com/dukerupert/giftroulette/internal/wish"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string                `json:"error"`
	Code    string                `json:"code"`
	Session *roulette.SessionView `json:"session,omitempty"`
}

// classify maps a domain error to an HTTP status and a stable code the UI
// can switch on. Expected refusals are conflicts; backend trouble is 503 so
// the client knows it may retry.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, roulette.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, store.ErrExhausted):
		return http.StatusConflict, "exhausted"
	case errors.Is(err, store.ErrOnCooldown):
		return http.StatusConflict, "on_cooldown"
	case errors.Is(err, roulette.ErrNothingAvailable):
		return http.StatusConflict, "nothing_available"
	case errors.Is(err, wish.ErrEmpty):
		return http.StatusBadRequest, "wish_empty"
	case errors.Is(err, wish.ErrTooLong):
		return http.StatusBadRequest, "wish_too_long"
	case errors.Is(err, store.ErrUnknownGift):
		return http.StatusNotFound, "unknown_gift"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, store.ErrInvariant):
		return http.StatusInternalServerError, "invalid_state"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError responds with the classified error. Server-side failures are
// logged; expected refusals are not.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error, sess *roulette.Session) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", code, "error", err)
	}
	resp := errorResponse{Error: err.Error(), Code: code}
	if sess != nil {
		v := sess.View()
		resp.Session = &v
	}
	writeJSON(w, status, resp)
}
