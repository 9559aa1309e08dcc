package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/petguard/internal/models"
	pkghttp "github.com/BradenHooton/petguard/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// ServiceClaimsContextKey holds the validated ServiceClaims
	ServiceClaimsContextKey contextKey = "service_claims"
)

// RequireServiceRole rejects any caller that does not present a valid service-role bearer token
func RequireServiceRole(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			claims, ok := authenticate(w, tm, authHeader)
			if !ok {
				return
			}

			ctx := context.WithValue(r.Context(), ServiceClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalServiceRole lets anonymous callers through but still verifies a bearer token
// when one is sent. A bad token is rejected rather than treated as anonymous.
func OptionalServiceRole(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, ok := authenticate(w, tm, authHeader)
			if !ok {
				return
			}

			ctx := context.WithValue(r.Context(), ServiceClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(w http.ResponseWriter, tm *TokenManager, authHeader string) (*ServiceClaims, bool) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		pkghttp.WriteUnauthorized(w, "invalid authorization header format")
		return nil, false
	}

	claims, err := tm.ValidateServiceToken(parts[1])
	if err != nil {
		if errors.Is(err, models.ErrForbidden) {
			pkghttp.WriteForbidden(w, "service role required")
			return nil, false
		}
		pkghttp.WriteUnauthorized(w, "invalid or expired token")
		return nil, false
	}

	return claims, true
}

// GetServiceClaims extracts the service claims placed by RequireServiceRole
func GetServiceClaims(ctx context.Context) (*ServiceClaims, bool) {
	claims, ok := ctx.Value(ServiceClaimsContextKey).(*ServiceClaims)
	return claims, ok
}

// IsServiceRole reports whether the request was authenticated as the service role
func IsServiceRole(ctx context.Context) bool {
	_, ok := GetServiceClaims(ctx)
	return ok
}
