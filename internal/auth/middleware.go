package auth

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// Middleware attaches the bearer token's caller to the request context.
// Requests without a token pass through anonymously; privileged operations
// reject them further down. A malformed or expired token is refused, and so
// is a valid token whose role is not in roles.
func Middleware(issuer *Issuer, roles ...string) mux.MiddlewareFunc {
	enabled := make(map[string]bool, len(roles))
	for _, role := range roles {
		enabled[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			tok := bearerToken(header)
			if tok == "" {
				http.Error(w, "malformed authorization header", http.StatusUnauthorized)
				return
			}
			caller, err := issuer.Verify(tok)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if !enabled[caller.Role] {
				http.Error(w, "role not enabled", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func bearerToken(v string) string {
	parts := strings.SplitN(strings.TrimSpace(v), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
