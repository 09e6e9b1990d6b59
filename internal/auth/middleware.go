package auth

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Middleware authenticates every request and stores the principal in the request
// context. Requests without a principal are rejected with 401.
func Middleware(authn *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := authn.Authenticate(r.Context(), FromHTTP(r))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="hakbot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequirePrivilegedMiddleware rejects principals that are not privileged with 403.
// It must run after Middleware.
func RequirePrivilegedMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := RequirePrivileged(r.Context(), PrincipalFromContext(r.Context()))
		switch {
		case err == nil:
			next.ServeHTTP(w, r)
		case errors.Is(err, ErrDenied):
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("Privileged route reached without principal")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	})
}
