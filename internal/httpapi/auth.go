package httpapi

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

// Claims is the bearer token's payload, grounded in the teacher's
// `cmd/gateway/main.go` JWT claims handling and generalized to per-caller
// component scopes (spec.md §6.1, §9 supplemented feature): a gateway
// serving multiple tools needs per-caller scopes rather than one static
// token. authMiddleware checks only the token's signature and validity;
// ComponentScopes is parsed but not compared with the requested component.
type Claims struct {
	jwt.RegisteredClaims
	ComponentScopes []string `json:"component_scopes,omitempty"`
}

type contextKey string

const claimsContextKey contextKey = "httpapi_claims"

// authMiddleware validates a bearer JWT unless auth is disabled for
// bench/CI use (SOVD_AUTH_DISABLED=1, spec.md §6.1).
func authMiddleware(s *Server) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.AuthDisabled {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				s.writeError(w, r, errors.InvalidRequest("missing bearer token"))
				return
			}
			raw := strings.TrimPrefix(header, prefix)

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.InvalidRequest("unexpected signing method")
				}
				return s.JWTSecret, nil
			})
			if err != nil || !token.Valid {
				s.writeError(w, r, errors.InvalidRequest("invalid or expired bearer token"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
