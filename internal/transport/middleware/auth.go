// SPDX-License-Identifier: Apache-2.0

// Package middleware holds the HTTP auth and rate-limit layers shared by the
// admin and team route groups.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/saleskit/ltc-backend/internal/auth"
)

const headerRateLimitLimit = "X-RateLimit-Limit"
const headerRateLimitRemaining = "X-RateLimit-Remaining"
const headerRetryAfter = "Retry-After"

// TokenVerifier validates a bearer token and resolves the caller identity.
type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

// AdminTokenAuth enforces the master admin bearer token on system-config
// routes. Deployments without a configured token get a closed admin surface,
// not an open one.
func AdminTokenAuth(adminToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(adminToken) == "" {
				logger.Error("admin token not configured")
				http.Error(w, "admin auth not configured", http.StatusInternalServerError)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid admin token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// UserTokenAuth enforces JWT bearer authentication on team-facing routes,
// stores the caller identity on the request context, and rate-limits each
// user with a token bucket of limitPerMinute requests.
func UserTokenAuth(verifier TokenVerifier, limitPerMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	return userTokenAuthWithLimiter(verifier, limitPerMinute, newInMemoryRateLimiter(), logger)
}

func userTokenAuthWithLimiter(
	verifier TokenVerifier,
	limitPerMinute int,
	limiter *inMemoryRateLimiter,
	logger *slog.Logger,
) func(http.Handler) http.Handler {
	if verifier == nil {
		panic("middleware.UserTokenAuth requires a verifier")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				logger.Warn("request blocked by user token middleware",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid token", http.StatusUnauthorized)
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				logger.Warn("request blocked by token verification",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid token", http.StatusUnauthorized)
				return
			}

			decision := limiter.Allow(identity.UserID, limitPerMinute, time.Now())
			w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			// Preserve the identity on the current request pointer so outer
			// middleware (request logging) can read user_id after next returns.
			*r = *r.WithContext(auth.WithIdentity(r.Context(), identity))
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	schemeToken := strings.SplitN(header, " ", 2)
	if len(schemeToken) != 2 {
		return "", false
	}
	if !strings.EqualFold(schemeToken[0], "Bearer") {
		return "", false
	}
	if schemeToken[1] == "" {
		return "", false
	}
	return schemeToken[1], true
}
