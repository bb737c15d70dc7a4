package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// PassphraseHeader carries the shared passphrase. Browsers opening a
// WebSocket cannot set headers, so the passphrase query parameter is also
// accepted.
const PassphraseHeader = "X-Roulette-Passphrase"

const (
	maxAuthFailures = 5
	authWindow      = 15 * time.Minute
)

// HashPassphrase returns the bcrypt hash to put in the configuration.
func HashPassphrase(passphrase string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// RequirePassphrase rejects requests that do not carry the shared
// passphrase. An empty hash disables the check. Repeated failures from one
// address are throttled.
func RequirePassphrase(hash string, limiter *RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "auth:" + RealIP(r)
			if limiter.Blocked(key, maxAuthFailures) {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}

			given := r.Header.Get(PassphraseHeader)
			if given == "" {
				given = r.URL.Query().Get("passphrase")
			}
			if given == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(given)) != nil {
				limiter.Allow(key, maxAuthFailures, authWindow)
				logger.Warn("passphrase rejected", "remote", RealIP(r), "path", r.URL.Path)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
