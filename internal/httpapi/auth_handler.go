package httpapi

import (
	"errors"
	"net/http"
	"time"

	"voice_gateway/internal/auth"
	"voice_gateway/internal/storage"
	"voice_gateway/internal/utils"
)

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the session token
type LoginResponse struct {
	Success   bool         `json:"success"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// handleLogin handles POST /api/auth/login
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := a.deps.Users.GetByUsername(r.Context(), req.Username)
	if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		a.respondError(w, r, err)
		return
	}
	if user == nil || !user.IsActive || !auth.CheckPassword(user.PasswordHash, req.Password) {
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if auth.NeedsRehash(user.PasswordHash) {
		if hash, err := auth.HashPassword(req.Password); err == nil {
			if err := a.deps.Users.UpdatePasswordHash(r.Context(), user.ID, hash); err != nil {
				a.logger.Warn("Failed to upgrade password hash", "user_id", user.ID, "error", err)
			}
		}
	}

	token, expiresAt, err := auth.GenerateAdminJWT(user, a.cfg)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	a.logger.Info("User logged in", "user_id", user.ID, "role", user.Role)
	utils.RespondWithJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt,
		User:      toUserResponse(user),
	})
}
