package api

import (
	"net/http"
	"strings"

	"github.com/kalambet/vinq/internal/auth"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// RequireToken rejects requests without a valid bearer token. Browsers cannot
// set headers on websocket upgrades, so a token query parameter is accepted
// as well.
func RequireToken(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token")
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole rejects requests whose token does not carry role. It must be
// mounted after RequireToken.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFrom(r.Context())
			if !ok || claims.Role != role {
				httpError(w, http.StatusForbidden, "permission_error", "%s only", role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return r.URL.Query().Get("token")
}
