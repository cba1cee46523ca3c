package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/kyrelabs/authcore"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity injected by Guard.
func IdentityFromContext(ctx context.Context) (*authcore.AccessIdentity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*authcore.AccessIdentity)
	return id, ok
}

// Guard validates the bearer token on every request and injects the
// resulting identity into the request context.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			identity, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
