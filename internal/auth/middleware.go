package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

// Middleware wires token verification and authorization helpers for HTTP handlers.
type Middleware struct {
	Verifier *Verifier
	Grants   GrantStore
	Logger   *slog.Logger
}

// Authenticate verifies the bearer token and loads the caller's grant into the
// request context. Requests without a valid token are rejected with 401.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := BearerToken(r)
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required")
			return
		}
		claims, err := m.Verifier.Verify(raw)
		if err != nil {
			m.warn("auth verify token", err)
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
			return
		}
		grant, err := m.Grants.GrantFor(r.Context(), claims.Subject)
		switch {
		case errors.Is(err, ErrNoGrant):
			grant = Grant{}
		case err != nil:
			if m.Logger != nil {
				m.Logger.Error("auth load grant", slog.String("user", claims.Subject), slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		principal := Principal{
			UserID:      claims.Subject,
			Email:       claims.Email,
			Role:        grant.Role,
			Permissions: grant.Permissions,
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireRole ensures the caller's role ranks at or above min.
func (m Middleware) RequireRole(min Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFromContext(r.Context())
			if !p.Role.AtLeast(min) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// RequirePermission ensures the caller holds at least one of the permissions.
func (m Middleware) RequirePermission(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFromContext(r.Context())
			if len(perms) > 0 && !p.HasAnyPermission(perms...) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func (m Middleware) warn(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Warn(msg, slog.Any("error", err))
	}
}

// RequireRoleOrPermission admits callers ranked at or above min or holding any of perms.
func (m Middleware) RequireRoleOrPermission(min Role, perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFromContext(r.Context())
			if !p.Role.AtLeast(min) && !p.HasAnyPermission(perms...) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
