package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"voice_gateway/internal/models"
	"voice_gateway/internal/storage"
	"voice_gateway/internal/utils"
)

// CreateUpstreamKeyRequest is the body of POST /api/admin/gemini-keys
type CreateUpstreamKeyRequest struct {
	APIKey string `json:"api_key"`
	Name   string `json:"name"`
}

// UpstreamKeyResponse shows a provider credential with only its last characters
type UpstreamKeyResponse struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	APIKey            string     `json:"api_key"`
	IsActive          bool       `json:"is_active"`
	UsageCount        int64      `json:"usage_count"`
	TodayCount        int        `json:"today_count"`
	TodayChars        int        `json:"today_chars"`
	LastUsed          *time.Time `json:"last_used"`
	LastQuotaExceeded *time.Time `json:"last_quota_exceeded"`
	CreatedAt         time.Time  `json:"created_at"`
}

// handleListUpstreamKeys handles GET /api/admin/gemini-keys
func (a *API) handleListUpstreamKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := a.deps.UpstreamKeys.List(r.Context(), a.now())
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	result := make([]UpstreamKeyResponse, 0, len(keys))
	for _, k := range keys {
		result = append(result, UpstreamKeyResponse{
			ID:                k.ID,
			Name:              k.Name,
			APIKey:            utils.MaskSuffix(k.Secret, 4),
			IsActive:          k.IsActive,
			UsageCount:        k.UsageCount,
			TodayCount:        k.TodayCount,
			TodayChars:        k.TodayChars,
			LastUsed:          k.LastUsed,
			LastQuotaExceeded: k.LastQuotaExceeded,
			CreatedAt:         k.CreatedAt,
		})
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"success": true, "keys": result})
}

// handleCreateUpstreamKey handles POST /api/admin/gemini-keys
func (a *API) handleCreateUpstreamKey(w http.ResponseWriter, r *http.Request) {
	var req CreateUpstreamKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}

	secret := strings.TrimSpace(req.APIKey)
	if secret == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "API key required")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "key " + utils.MaskSuffix(secret, 4)
	}

	key := &models.UpstreamKey{Name: name, Secret: secret, IsActive: true}
	if err := a.deps.UpstreamKeys.Create(r.Context(), key); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			utils.RespondWithError(w, http.StatusConflict, "API key already exists")
			return
		}
		a.respondError(w, r, err)
		return
	}

	a.logger.Info("Upstream key added", "key_id", key.ID, "key", utils.MaskSuffix(secret, 4))
	utils.RespondWithJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"key_id":  key.ID,
		"message": "Gemini API key added successfully",
	})
}

// handleDeleteUpstreamKey handles DELETE /api/admin/gemini-keys/{id}
func (a *API) handleDeleteUpstreamKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	if err := a.deps.UpstreamKeys.Delete(r.Context(), id); err != nil {
		a.respondUpstreamKeyError(w, r, err)
		return
	}
	a.invalidateClient(id)

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Gemini API key deleted successfully"})
}

// handleToggleUpstreamKey handles POST /api/admin/gemini-keys/{id}/toggle
func (a *API) handleToggleUpstreamKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	active, err := a.deps.UpstreamKeys.Toggle(r.Context(), id)
	if err != nil {
		a.respondUpstreamKeyError(w, r, err)
		return
	}
	if !active {
		a.invalidateClient(id)
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"is_active": active,
		"message":   "Gemini API key status updated",
	})
}

func (a *API) invalidateClient(id int64) {
	if a.deps.Clients != nil {
		a.deps.Clients.Invalidate(id)
	}
}

func (a *API) respondUpstreamKeyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrUpstreamKeyNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "Gemini API key not found")
		return
	}
	a.respondError(w, r, err)
}
