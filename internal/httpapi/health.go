package httpapi

import (
	"context"
	"net/http"
	"time"

	"voice_gateway/internal/utils"
)

const healthCheckTimeout = 2 * time.Second

// handleHealth handles GET /health. Any failing dependency turns the status to 503.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(a.deps.HealthChecks))
	for _, hc := range a.deps.HealthChecks {
		if err := hc.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[hc.Name] = err.Error()
			a.logger.Warn("Health check failed", "check", hc.Name, "error", err)
			continue
		}
		checks[hc.Name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	utils.RespondWithJSON(w, status, map[string]any{
		"status":  overall,
		"version": a.cfg.AppVersion,
		"checks":  checks,
	})
}
