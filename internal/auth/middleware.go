package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/parcelmap/server/internal/logger"
)

// ContextKey is a type for context keys
type ContextKey string

const (
	// ClaimsKey is the context key for JWT claims
	ClaimsKey ContextKey = "claims"
	// TokenKey is the context key for the raw bearer token, which is
	// forwarded to the parcel backend.
	TokenKey ContextKey = "token"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// TokenFromRequest returns the bearer token of the Authorization header or,
// for websocket upgrades where browsers cannot set headers, the token query
// parameter.
func TokenFromRequest(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

// Middleware validates the request token and adds the claims to the
// request context.
func Middleware(jwtService *JWTService, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	log = logger.OrNop(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := TokenFromRequest(r)
			if !ok {
				sendError(w, http.StatusUnauthorized, "MissingToken", "Bearer token required")
				return
			}

			claims, err := jwtService.Validate(token)
			if err != nil {
				log.Debugw("rejected token", "path", r.URL.Path, "error", err)
				sendError(w, http.StatusUnauthorized, "InvalidToken", "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims, token)))
		})
	}
}

// WithClaims stores claims and the raw token in ctx.
func WithClaims(ctx context.Context, claims *Claims, token string) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return context.WithValue(ctx, TokenKey, token)
}

// GetClaims extracts JWT claims from request context
func GetClaims(r *http.Request) (*Claims, bool) {
	claims, ok := r.Context().Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken extracts the raw bearer token from request context
func GetToken(r *http.Request) (string, bool) {
	token, ok := r.Context().Value(TokenKey).(string)
	return token, ok
}

func sendError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
	})
}
