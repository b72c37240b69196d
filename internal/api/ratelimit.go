package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/parcelmap/server/internal/auth"
	"github.com/parcelmap/server/internal/logger"
)

const (
	rateLimitExceededJSON = `{"error":"Rate limit exceeded","message":"Too many requests. Please try again later.","retry_after":%d}`
)

// RateLimitConfig holds rate limit configuration
type RateLimitConfig struct {
	// Global rate limit (all endpoints)
	GlobalLimit  int
	GlobalWindow time.Duration

	// Per-user rate limit (authenticated endpoints)
	UserLimit  int
	UserWindow time.Duration

	// Websocket upgrades per client IP
	ConnectLimit  int
	ConnectWindow time.Duration
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		GlobalLimit:   1000,
		GlobalWindow:  1 * time.Minute,
		UserLimit:     300,
		UserWindow:    1 * time.Minute,
		ConnectLimit:  30,
		ConnectWindow: 1 * time.Minute,
	}
}

// RateLimitMiddleware limits requests per client IP.
func RateLimitMiddleware(limit int, window time.Duration, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return rateLimit(limit, window, log, func(r *http.Request) string {
		return getClientIP(r)
	})
}

// UserRateLimitMiddleware limits requests per authenticated user and falls
// back to the client IP when the request carries no claims. It must run
// after auth.Middleware.
func UserRateLimitMiddleware(limit int, window time.Duration, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return rateLimit(limit, window, log, func(r *http.Request) string {
		if claims, ok := auth.GetClaims(r); ok && claims.UserID != "" {
			return "user:" + claims.UserID
		}
		return getClientIP(r)
	})
}

func rateLimit(limit int, window time.Duration, log *zap.SugaredLogger, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	log = logger.OrNop(log)
	instance := limiter.New(memory.NewStore(), limiter.Rate{
		Period: window,
		Limit:  int64(limit),
	})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			context, err := instance.Get(r.Context(), keyFunc(r))
			if err != nil {
				// A broken limiter must not take the service down.
				log.Warnw("rate limiter error", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(context.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(context.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(context.Reset, 10))

			if context.Reached {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				retryAfter := int(time.Until(time.Unix(context.Reset, 0)).Seconds())
				if retryAfter < 0 {
					retryAfter = 0
				}
				if _, err := fmt.Fprintf(w, rateLimitExceededJSON, retryAfter); err != nil {
					log.Debugw("error writing rate limit response", "error", err)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP address from the request
// Handles X-Forwarded-For header for proxied requests
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		// The first entry is the original client.
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	ip := r.RemoteAddr
	if i := strings.LastIndexByte(ip, ':'); i >= 0 {
		return ip[:i]
	}
	return ip
}
