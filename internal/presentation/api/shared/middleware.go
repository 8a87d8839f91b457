// SPDX-License-Identifier: AGPL-3.0-or-later
package shared

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/btouchard/mailrelay/internal/platform/logger"
)

// ContextKey represents a context key type
type ContextKey string

const (
	// ContextKeyRequestID is the context key for the request ID
	ContextKeyRequestID ContextKey = "request_id"
)

// Middleware holds the shared admin bearer token the admin API is
// authenticated against (spec.md §6: "shared API token header").
type Middleware struct {
	adminToken string
}

func NewMiddleware(adminToken string) *Middleware {
	return &Middleware{adminToken: adminToken}
}

// RequireAdminToken checks the Authorization: Bearer <token> header in
// constant time against the configured admin token, mirroring the
// teacher's auth-header checks (shared/middleware.go RequireAuth) but
// comparing a single shared secret instead of resolving an OAuth
// session.
func (m *Middleware) RequireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r.Context())
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(m.adminToken)) != 1 {
			logger.Logger.Debug("admin_authentication_failed",
				"request_id", requestID,
				"path", r.URL.Path,
				"method", r.Method)
			WriteUnauthorized(w, "valid admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")

		next.ServeHTTP(w, r)
	})
}

// RateLimit is a simple in-memory per-IP request rate limiter guarding
// the admin API surface (distinct from internal/infrastructure/ratelimit,
// which governs outbound SMTP send rates per Account).
type RateLimit struct {
	attempts *sync.Map
	limit    int
	window   time.Duration
}

func NewRateLimit(limit int, window time.Duration) *RateLimit {
	return &RateLimit{
		attempts: &sync.Map{},
		limit:    limit,
		window:   window,
	}
}

func (rl *RateLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			ip = strings.Split(forwarded, ",")[0]
		}

		now := time.Now()

		if val, ok := rl.attempts.Load(ip); ok {
			attempts := val.([]time.Time)

			var valid []time.Time
			for _, t := range attempts {
				if now.Sub(t) < rl.window {
					valid = append(valid, t)
				}
			}

			if len(valid) >= rl.limit {
				WriteError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "Rate limit exceeded", map[string]interface{}{
					"retryAfter": rl.window.Seconds(),
				})
				return
			}

			valid = append(valid, now)
			rl.attempts.Store(ip, valid)
		} else {
			rl.attempts.Store(ip, []time.Time{now})
		}

		next.ServeHTTP(w, r)
	})
}
