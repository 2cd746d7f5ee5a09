package authhttp

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wisbric/tacops/internal/httpserver"
	"github.com/wisbric/tacops/pkg/vault"
)

// Verifier validates a bearer token and returns its claims. pkg/vault.Vault
// is the concrete implementation; tests substitute a fake.
type Verifier interface {
	Verify(token string) (*vault.Claims, error)
}

// Middleware returns the auth middleware mounted on Server.APIRouter via
// httpserver.ServerConfig.AuthMiddleware. It requires a well-formed
// "Authorization: Bearer <token>" header, verifies the token, and attaches
// the resulting Identity to the request context. Every failure is a 401.
func Middleware(verifier Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				httpserver.RespondErr(w, logger, err)
				return
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "invalid token subject")
				return
			}

			ctx := NewContext(r.Context(), Identity{UserID: userID, IsAdmin: claims.Admin})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects any request whose Identity does not carry the admin
// flag. Mount after Middleware on routes restricted to administrators.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok || !id.IsAdmin {
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", "administrator privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
