// Package auth authenticates requests with bearer tokens issued by an
// external identity provider.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"gemprice/internal/models"
	"gemprice/internal/telemetry"
)

type contextKey struct{}

var userKey contextKey

// TokenVerifier validates a raw bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (models.User, error)
}

type Middleware struct {
	verifier TokenVerifier
}

func NewMiddleware(verifier TokenVerifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the user stored by ValidateToken.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userKey).(models.User)
	return user, ok
}

func unauthorized(w http.ResponseWriter, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	body := map[string]string{"error": message}
	if details != "" {
		body["details"] = details
	}
	_ = json.NewEncoder(w).Encode(body)
}

// ValidateToken rejects requests without a valid bearer token and passes the
// authenticated user to next through the request context.
func (m *Middleware) ValidateToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			telemetry.RecordAuth("missing")
			unauthorized(w, "Missing Authorization header", "")
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		token = strings.TrimSpace(token)
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			telemetry.RecordAuth("malformed")
			unauthorized(w, "Invalid Authorization header format", "expected: Bearer <token>")
			return
		}

		user, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			telemetry.RecordAuth("invalid")
			if errors.Is(err, ErrNotConfigured) {
				slog.Error("Token rejected, authentication not configured")
				unauthorized(w, "Authentication is not configured", "")
				return
			}
			slog.Warn("Invalid token attempt", "error", err)
			unauthorized(w, "Invalid or expired token", err.Error())
			return
		}

		telemetry.RecordAuth("valid")
		next(w, r.WithContext(WithUser(r.Context(), user)))
	}
}
