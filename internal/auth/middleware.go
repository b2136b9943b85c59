package auth

import (
	"net/http"
	"strings"

	"github.com/openstipend/openstipend/internal/platform/httpx"
	"github.com/openstipend/openstipend/internal/shared"
)

// Middleware resolves bearer tokens into actors on the request context.
type Middleware struct {
	service *Service
}

// NewMiddleware constructs Middleware.
func NewMiddleware(service *Service) *Middleware {
	return &Middleware{service: service}
}

// Populate attaches the actor to context when a valid token is present. It
// never rejects; handlers that need an actor use Require.
func (m *Middleware) Populate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := bearerToken(r); token != "" {
			if actor, err := m.service.Resolve(r.Context(), token); err == nil {
				r = r.WithContext(shared.ContextWithActor(r.Context(), actor))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Require rejects requests without an authenticated actor.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.ActorFromContext(r.Context()) == nil {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
