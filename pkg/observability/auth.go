package observability

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// adminAuth gates the debug surface behind the shared admin token (§6
// admin_token). Adapted from the teacher's middleware.APIKeyAuth: a
// Bearer token is accepted either as a JWT signed with the admin token as
// HMAC secret, or as the literal token value, matching the teacher's
// "JWT or raw API key" acceptance rule but collapsed to a single shared
// secret instead of a user set.
type adminAuth struct {
	token []byte
}

func newAdminAuth(token string) *adminAuth {
	if token == "" {
		return nil
	}
	return &adminAuth{token: []byte(token)}
}

func (a *adminAuth) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			next.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == string(a.token) {
				next.ServeHTTP(w, r)
				return
			}
			token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return a.token, nil
			})
			if err == nil && token.Valid {
				next.ServeHTTP(w, r)
				return
			}
		}

		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}
