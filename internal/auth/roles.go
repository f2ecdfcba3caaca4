package auth

import (
	"errors"
	"strings"
)

// Role is the account role carried in users.role and in admin session claims
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ErrInvalidRole is returned by ParseRole for anything but admin or user
var ErrInvalidRole = errors.New("invalid role")

// ParseRole normalizes a role name. An empty name means RoleUser.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return RoleUser, nil
	}
	if !r.IsValid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

func (r Role) String() string {
	return string(r)
}

// IsValid reports whether r is one of the known roles
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleUser
}

// HasPermission reports whether r satisfies required. Admins satisfy every role.
func (r Role) HasPermission(required Role) bool {
	return r == RoleAdmin || r == required
}
