package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/chatgate/chatgate/internal/user"
)

type ctxKey int

const userCtxKey ctxKey = 0

// withAuth resolves the bearer token from the Authorization header (or the
// ?token= query param, for the endpoints a WS client can't attach headers
// to) and rejects the request with 401 if it doesn't resolve to a user.
func withAuth(registry *user.Registry, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		var u *user.User
		if token != "" {
			u = registry.Authenticate(token)
		}
		if u == nil {
			writeJSON(w, http.StatusUnauthorized, envelope{Status: "error", Code: "UNAUTHORIZED", Message: "missing or invalid token"})
			return
		}
		ctx := context.WithValue(r.Context(), userCtxKey, u)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func userFromContext(ctx context.Context) *user.User {
	u, _ := ctx.Value(userCtxKey).(*user.User)
	return u
}
