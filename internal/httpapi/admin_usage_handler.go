package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"voice_gateway/internal/utils"
)

const (
	usageLogListLimit    = 1000
	defaultRetentionDays = 30

	// maxDays bounds every day-count parameter of the admin API (about 100 years)
	maxDays = 36500
)

// PurgeUsageLogsRequest is the optional body of DELETE /api/admin/usage-logs
type PurgeUsageLogsRequest struct {
	DaysOld *int `json:"days_old"`
}

// UsageLogResponse is one usage log row
type UsageLogResponse struct {
	ID          int64     `json:"id"`
	RequestID   uuid.UUID `json:"request_id"`
	TokenPrefix string    `json:"token_prefix"`
	Username    string    `json:"username"`
	TextLength  int       `json:"text_length"`
	VoiceName   string    `json:"voice_name"`
	Duration    float64   `json:"duration"`
	FileSize    int64     `json:"file_size"`
	IPAddress   string    `json:"ip_address"`
	Timestamp   time.Time `json:"timestamp"`
}

// handleListUsageLogs handles GET /api/admin/usage-logs
func (a *API) handleListUsageLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := a.deps.UsageLogs.List(r.Context(), usageLogListLimit)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	result := make([]UsageLogResponse, 0, len(logs))
	for _, l := range logs {
		result = append(result, UsageLogResponse{
			ID:          l.ID,
			RequestID:   l.RequestID,
			TokenPrefix: l.TokenPrefix,
			Username:    l.Username,
			TextLength:  l.TextLength,
			VoiceName:   l.VoiceName,
			Duration:    l.Duration,
			FileSize:    l.FileSize,
			IPAddress:   l.IPAddress,
			Timestamp:   l.CreatedAt,
		})
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"success": true, "logs": result})
}

// handlePurgeUsageLogs handles DELETE /api/admin/usage-logs
func (a *API) handlePurgeUsageLogs(w http.ResponseWriter, r *http.Request) {
	var req PurgeUsageLogsRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid days_old parameter")
		return
	}

	days := defaultRetentionDays
	if req.DaysOld != nil {
		days = *req.DaysOld
	}
	if days < 1 || days > maxDays {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid days_old parameter")
		return
	}

	cutoff := a.now().AddDate(0, 0, -days)
	deleted, err := a.deps.UsageLogs.PurgeOlderThan(r.Context(), cutoff)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	message := "No old usage logs found"
	if deleted > 0 {
		message = fmt.Sprintf("Deleted %d usage logs older than %d days", deleted, days)
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       message,
		"deleted_count": deleted,
	})
}
