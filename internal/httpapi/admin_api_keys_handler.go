package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"voice_gateway/internal/auth"
	"voice_gateway/internal/models"
	"voice_gateway/internal/storage"
	"voice_gateway/internal/utils"
)

// CreateAPIKeyRequest represents the request to create a new client credential
type CreateAPIKeyRequest struct {
	Username     string `json:"username"`
	KeyName      string `json:"key_name"`
	DailyLimit   *int   `json:"daily_limit,omitempty"`
	MonthlyLimit *int   `json:"monthly_limit,omitempty"`
	ExpiresDays  int    `json:"expires_days,omitempty"`
	CustomKey    string `json:"custom_key,omitempty"`
}

// UpdateAPIKeyRequest represents the request to update a client credential.
// Expiry is recomputed from expires_days; zero or absent clears it.
type UpdateAPIKeyRequest struct {
	KeyName      string `json:"key_name"`
	DailyLimit   *int   `json:"daily_limit"`
	MonthlyLimit *int   `json:"monthly_limit"`
	ExpiresDays  int    `json:"expires_days,omitempty"`
}

// APIKeyResponse is a credential listing row. The token itself is never returned after creation.
type APIKeyResponse struct {
	ID             int64      `json:"id"`
	KeyName        string     `json:"key_name"`
	TokenPrefix    string     `json:"token_prefix"`
	Username       string     `json:"username"`
	DailyLimit     int        `json:"daily_limit"`
	MonthlyLimit   int        `json:"monthly_limit"`
	DailyUsage     int        `json:"daily_usage"`
	MonthlyUsage   int        `json:"monthly_usage"`
	RemainingDaily int        `json:"remaining_daily"`
	ExpiresAt      *time.Time `json:"expires_at"`
	IsActive       bool       `json:"is_active"`
	DeviceID       string     `json:"device_id"`
	LastLogin      *time.Time `json:"last_login"`
	CreatedAt      time.Time  `json:"created_at"`
}

// APIKeyCreatedResponse represents the response when creating a new credential.
// This is the only time the plaintext token is returned.
type APIKeyCreatedResponse struct {
	Success bool   `json:"success"`
	KeyID   int64  `json:"key_id"`
	APIKey  string `json:"api_key"`
	Message string `json:"message"`
}

const minCustomKeyLength = 8

func toAPIKeyResponse(s *models.CredentialSummary) APIKeyResponse {
	return APIKeyResponse{
		ID:             s.ID,
		KeyName:        s.Name,
		TokenPrefix:    s.TokenPrefix,
		Username:       s.OwnerUsername,
		DailyLimit:     s.DailyLimit,
		MonthlyLimit:   s.MonthlyLimit,
		DailyUsage:     s.DailyUsage,
		MonthlyUsage:   s.MonthlyUsage,
		RemainingDaily: s.RemainingDaily(),
		ExpiresAt:      s.ExpiresAt,
		IsActive:       s.IsActive,
		DeviceID:       s.Fingerprint(),
		LastLogin:      s.LastLogin,
		CreatedAt:      s.CreatedAt,
	}
}

func (a *API) expiryFromDays(days int) *time.Time {
	if days <= 0 {
		return nil
	}
	t := a.now().AddDate(0, 0, days)
	return &t
}

// handleListKeys handles GET /api/admin/keys
func (a *API) handleListKeys(w http.ResponseWriter, r *http.Request) {
	creds, err := a.deps.Credentials.List(r.Context(), a.now())
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	result := make([]APIKeyResponse, 0, len(creds))
	for _, c := range creds {
		result = append(result, toAPIKeyResponse(c))
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"success": true, "keys": result})
}

// handleCreateKey handles POST /api/admin/keys
func (a *API) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}

	if req.Username == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Username required")
		return
	}
	if req.KeyName == "" {
		req.KeyName = "Admin Created Key"
	}
	dailyLimit, monthlyLimit := models.DefaultDailyLimit, models.DefaultMonthlyLimit
	if req.DailyLimit != nil {
		dailyLimit = *req.DailyLimit
	}
	if req.MonthlyLimit != nil {
		monthlyLimit = *req.MonthlyLimit
	}
	if dailyLimit < 0 || monthlyLimit < 0 || req.ExpiresDays < 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "Limits and expires_days must not be negative")
		return
	}
	if req.ExpiresDays > maxDays {
		utils.RespondWithError(w, http.StatusBadRequest, "expires_days is too large")
		return
	}

	owner, err := a.deps.Users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		a.respondUserError(w, r, err)
		return
	}

	token := strings.TrimSpace(req.CustomKey)
	if token != "" && len(token) < minCustomKeyLength {
		utils.RespondWithError(w, http.StatusBadRequest, "Custom key is too short")
		return
	}
	if token == "" {
		token, err = auth.GenerateToken()
		if err != nil {
			a.respondError(w, r, err)
			return
		}
	}

	cred := &models.Credential{
		UserID:       owner.ID,
		Name:         req.KeyName,
		TokenHash:    auth.HashToken(token),
		TokenPrefix:  auth.TokenPrefix(token),
		DailyLimit:   dailyLimit,
		MonthlyLimit: monthlyLimit,
		ExpiresAt:    a.expiryFromDays(req.ExpiresDays),
		IsActive:     true,
	}
	if err := a.deps.Credentials.Create(r.Context(), cred); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			utils.RespondWithError(w, http.StatusConflict, "API key already exists")
			return
		}
		a.respondError(w, r, err)
		return
	}

	a.logger.Info("Credential created", "key_id", cred.ID, "owner", owner.Username, "prefix", cred.TokenPrefix)
	utils.RespondWithJSON(w, http.StatusCreated, APIKeyCreatedResponse{
		Success: true,
		KeyID:   cred.ID,
		APIKey:  token,
		Message: "API key created successfully",
	})
}

// handleUpdateKey handles PUT /api/admin/keys/{id}
func (a *API) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid API key ID")
		return
	}

	var req UpdateAPIKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if req.KeyName == "" || req.DailyLimit == nil || req.MonthlyLimit == nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if *req.DailyLimit < 0 || *req.MonthlyLimit < 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "Limits must not be negative")
		return
	}
	if req.ExpiresDays > maxDays {
		utils.RespondWithError(w, http.StatusBadRequest, "expires_days is too large")
		return
	}

	err := a.deps.Credentials.Update(r.Context(), &models.Credential{
		ID:           id,
		Name:         req.KeyName,
		DailyLimit:   *req.DailyLimit,
		MonthlyLimit: *req.MonthlyLimit,
		ExpiresAt:    a.expiryFromDays(req.ExpiresDays),
	})
	if err != nil {
		a.respondKeyError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"success": true, "message": "API key updated successfully"})
}

// handleDeleteKey handles DELETE /api/admin/keys/{id}
func (a *API) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid API key ID")
		return
	}

	if err := a.deps.Credentials.Delete(r.Context(), id); err != nil {
		a.respondKeyError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"success": true, "message": "API key deleted successfully"})
}

// handleToggleKey handles POST /api/admin/keys/{id}/toggle
func (a *API) handleToggleKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid API key ID")
		return
	}

	active, err := a.deps.Credentials.Toggle(r.Context(), id)
	if err != nil {
		a.respondKeyError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"is_active": active,
		"message":   "API key status updated",
	})
}

func (a *API) respondKeyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrCredentialNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "API key not found")
		return
	}
	a.respondError(w, r, err)
}
