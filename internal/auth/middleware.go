package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mensa-erp/mensa-erp/internal/platform/httpx"
	"github.com/mensa-erp/mensa-erp/internal/shared"
)

// Middleware authenticates Bearer tokens and stores the actor in context.
type Middleware struct {
	logger  *slog.Logger
	service *Service
}

// NewMiddleware constructs the auth middleware.
func NewMiddleware(logger *slog.Logger, service *Service) *Middleware {
	return &Middleware{logger: logger, service: service}
}

// RequireToken rejects requests without a valid Bearer token.
func (m *Middleware) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		user, err := m.service.Authenticate(r.Context(), raw)
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
			return
		}
		ctx := shared.ContextWithActor(r.Context(), shared.Actor{ID: user.ID, Name: user.Name})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const scheme = "Bearer "
	if !strings.HasPrefix(header, scheme) {
		return ""
	}
	return strings.TrimSpace(header[len(scheme):])
}
