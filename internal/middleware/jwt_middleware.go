package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"voice_gateway/internal/auth"
	"voice_gateway/internal/config"
	"voice_gateway/internal/models"
	"voice_gateway/internal/storage"
)

// AdminClaimsKey is the context key holding the verified *auth.AdminClaims
const AdminClaimsKey ContextKey = "adminClaims"

// UserLookup loads the account behind a session token
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// Authenticated verifies the bearer JWT and stores its claims in the context
func Authenticated(cfg *config.Config) Check {
	return func(r *http.Request) Result {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			tokenString = r.Header.Get("X-API-Key")
		}
		if tokenString == "" {
			return Deny(http.StatusUnauthorized, "Missing authentication token")
		}

		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		claims, err := auth.ValidateAdminJWT(tokenString, cfg)
		if err != nil {
			return Deny(http.StatusUnauthorized, "Invalid or expired token")
		}

		return Allow(context.WithValue(r.Context(), AdminClaimsKey, claims))
	}
}

// RequireRole denies callers whose role does not grant the required one.
// It must run after Authenticated.
func RequireRole(required auth.Role) Check {
	return func(r *http.Request) Result {
		claims, ok := GetAdminClaims(r.Context())
		if !ok {
			return Deny(http.StatusUnauthorized, "Missing authentication token")
		}
		if !claims.Role.HasPermission(required) {
			return Deny(http.StatusForbidden, "Insufficient permissions")
		}
		return Allow(nil)
	}
}

// ActiveUser denies tokens whose account was deactivated or deleted after issue
func ActiveUser(users UserLookup) Check {
	return func(r *http.Request) Result {
		claims, ok := GetAdminClaims(r.Context())
		if !ok {
			return Deny(http.StatusUnauthorized, "Missing authentication token")
		}

		user, err := users.GetByID(r.Context(), claims.UserID)
		if errors.Is(err, storage.ErrUserNotFound) {
			return Deny(http.StatusUnauthorized, "Account no longer exists")
		}
		if err != nil {
			return Deny(http.StatusInternalServerError, "Failed to load account")
		}
		if !user.IsActive {
			return Deny(http.StatusForbidden, "Account is disabled")
		}
		return Allow(nil)
	}
}

// AdminOnly is the check chain used by the admin API
func AdminOnly(cfg *config.Config, users UserLookup) func(http.Handler) http.Handler {
	return Require(Authenticated(cfg), RequireRole(auth.RoleAdmin), ActiveUser(users))
}

// GetAdminClaims retrieves the admin claims from the request context
func GetAdminClaims(ctx context.Context) (*auth.AdminClaims, bool) {
	claims, ok := ctx.Value(AdminClaimsKey).(*auth.AdminClaims)
	return claims, ok
}
