package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const TenantContextKey contextKey = "tenant"

type Middleware struct {
	jwtSecret string
}

func NewMiddleware(jwtSecret string) *Middleware {
	return &Middleware{jwtSecret: jwtSecret}
}

func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := ValidateToken(parts[1], m.jwtSecret)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), claims)))
	})
}

// WithTenant stores resolved claims on ctx.
func WithTenant(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, TenantContextKey, claims)
}

func GetTenantFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(TenantContextKey).(*Claims)
	return claims, ok && claims != nil
}

// RequireAdminKey guards operator routes with a static key sent in
// X-Admin-Key. An empty key leaves the routes open.
func RequireAdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
