package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/giftroulette/internal/handler"
	"github.com/dukerupert/giftroulette/internal/middleware"
	"github.com/dukerupert/giftroulette/internal/roulette"
	ws "github.com/dukerupert/giftroulette/internal/websocket"
)

type Server struct {
	engine         *roulette.Engine
	hub            *ws.Hub
	giftH          *handler.GiftHandler
	sessionH       *handler.SessionHandler
	passphraseHash string
	rateLimiter    *middleware.RateLimiter
	logger         *slog.Logger
}

func New(engine *roulette.Engine, hub *ws.Hub, passphraseHash string, logger *slog.Logger) *Server {
	return &Server{
		engine:         engine,
		hub:            hub,
		giftH:          handler.NewGiftHandler(engine, logger.With("component", "gift")),
		sessionH:       handler.NewSessionHandler(engine, logger.With("component", "session")),
		passphraseHash: passphraseHash,
		rateLimiter:    middleware.NewRateLimiter(),
		logger:         logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()
	outerMux.HandleFunc("GET /health", s.healthHandler)

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	auth := middleware.RequirePassphrase(s.passphraseHash, s.rateLimiter, s.logger.With("component", "auth"))
	outerMux.Handle("/", auth(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.engine.Offline() {
		status = "offline"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return "spin:" + middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/gifts", s.giftH.List)

	// Session API routes
	mux.HandleFunc("POST /api/sessions", s.sessionH.Create)
	mux.HandleFunc("GET /api/sessions/{id}", s.sessionH.Get)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.sessionH.Delete)
	mux.HandleFunc("POST /api/sessions/{id}/spin", s.rateLimitedHandler(s.sessionH.Spin))
	mux.HandleFunc("POST /api/sessions/{id}/complete-animation", s.sessionH.CompleteAnimation)
	mux.HandleFunc("POST /api/sessions/{id}/claim", s.sessionH.Claim)
	mux.HandleFunc("POST /api/sessions/{id}/wish", s.sessionH.Wish)
	mux.HandleFunc("POST /api/sessions/{id}/reset", s.sessionH.Reset)

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, handler.InitialMessages(s.engine)))
}
