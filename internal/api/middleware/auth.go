package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/narvanalabs/hotfix/internal/api/errors"
	"github.com/narvanalabs/hotfix/internal/auth"
)

type contextKey string

const (
	// PublisherKey holds the authenticated publisher.
	PublisherKey contextKey = "publisher"
	// ClaimsKey holds the validated token claims.
	ClaimsKey contextKey = "claims"
)

// GetPublisher returns the authenticated publisher, if any.
func GetPublisher(ctx context.Context) string {
	if v, ok := ctx.Value(PublisherKey).(string); ok {
		return v
	}
	return ""
}

// GetClaims returns the validated claims, if any.
func GetClaims(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(ClaimsKey).(*auth.Claims); ok {
		return v
	}
	return nil
}

// AuthMiddleware validates bearer tokens.
type AuthMiddleware struct {
	authService *auth.Service
	logger      *slog.Logger
}

// NewAuthMiddleware creates an AuthMiddleware.
func NewAuthMiddleware(authService *auth.Service, logger *slog.Logger) *AuthMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{authService: authService, logger: logger}
}

// Authenticate rejects requests without a valid bearer token.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			apierrors.WriteError(w, apierrors.NewUnauthorizedError("Missing authentication").WithRequestID(requestID))
			return
		}

		claims, err := m.authService.ValidateToken(token)
		if err != nil {
			m.logger.Debug("token validation failed", "error", err)
			msg := "Invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "Token has expired"
			}
			apierrors.WriteError(w, apierrors.NewUnauthorizedError(msg).WithRequestID(requestID))
			return
		}

		ctx := context.WithValue(r.Context(), PublisherKey, claims.Publisher)
		ctx = context.WithValue(ctx, ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope rejects authenticated requests whose token lacks scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil || !claims.Allows(scope) {
				apierrors.WriteError(w, apierrors.NewForbiddenError("Token scope does not allow "+scope).
					WithRequestID(middleware.GetReqID(r.Context())))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
