package middleware

import (
	"context"
	"net/http"

	"voice_gateway/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

// Result is the outcome of a single Check. A denied result carries the
// status and message written to the client; an allowed one may carry an
// enriched context for the checks and handler that follow.
type Result struct {
	Allowed bool
	Status  int
	Message string
	ctx     context.Context
}

// Allow lets the request continue with ctx
func Allow(ctx context.Context) Result {
	return Result{Allowed: true, ctx: ctx}
}

// Deny stops the request with the given status and message
func Deny(status int, message string) Result {
	return Result{Status: status, Message: message}
}

// Check inspects a request and decides whether it may proceed
type Check func(r *http.Request) Result

// Require runs checks in order and stops at the first denial.
// Each allowed check may replace the request context seen by the next one.
func Require(checks ...Check) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, check := range checks {
				res := check(r)
				if !res.Allowed {
					utils.RespondWithError(w, res.Status, res.Message)
					return
				}
				if res.ctx != nil {
					r = r.WithContext(res.ctx)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
