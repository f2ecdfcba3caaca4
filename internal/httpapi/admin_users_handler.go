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

// CreateUserRequest is the body of POST /api/admin/users
type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// ToggleUserRequest is the body of POST /api/admin/users/{id}/toggle
type ToggleUserRequest struct {
	IsActive *bool `json:"is_active"`
}

// UserResponse is a user without its password hash
type UserResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

// handleListUsers handles GET /api/admin/users
func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.deps.Users.List(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	result := make([]UserResponse, 0, len(users))
	for _, u := range users {
		result = append(result, toUserResponse(u))
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"success": true, "users": result})
}

// handleCreateUser handles POST /api/admin/users
func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid role")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         role.String(),
		IsActive:     true,
	}
	if err := a.deps.Users.Create(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			utils.RespondWithError(w, http.StatusConflict, "Username or email already exists")
			return
		}
		a.respondError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"user_id": user.ID,
		"message": "User created successfully",
	})
}

// handleDeleteUser handles DELETE /api/admin/users/{id}. Admin accounts cannot be deleted.
func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := a.deps.Users.GetByID(r.Context(), id)
	if err != nil {
		a.respondUserError(w, r, err)
		return
	}
	if user.IsAdmin() {
		utils.RespondWithError(w, http.StatusBadRequest, "Cannot delete admin users")
		return
	}

	if err := a.deps.Users.Delete(r.Context(), id); err != nil {
		a.respondUserError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"success": true, "message": "User deleted successfully"})
}

// handleToggleUser handles POST /api/admin/users/{id}/toggle
func (a *API) handleToggleUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req ToggleUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if req.IsActive == nil {
		utils.RespondWithError(w, http.StatusBadRequest, "is_active parameter required")
		return
	}

	if err := a.deps.Users.SetActive(r.Context(), id, *req.IsActive); err != nil {
		a.respondUserError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"is_active": *req.IsActive,
		"message":   "User status updated",
	})
}

func (a *API) respondUserError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrUserNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "User not found")
		return
	}
	a.respondError(w, r, err)
}
