// Package denial defines the reasons a request can be refused and how they map
// onto caller-facing categories and HTTP statuses.
package denial

import (
	"errors"
	"net/http"
)

// Reason identifies why a request was refused.
type Reason string

const (
	NotFound                Reason = "not_found"
	Expired                 Reason = "expired"
	DailyLimitExceeded      Reason = "daily_limit_exceeded"
	MonthlyLimitExceeded    Reason = "monthly_limit_exceeded"
	DeviceMismatch          Reason = "device_mismatch"
	FingerprintRequired     Reason = "fingerprint_required"
	FingerprintAlreadyBound Reason = "fingerprint_already_bound"
	ServerBusy              Reason = "server_busy"
	NoKeysAvailable         Reason = "no_keys_available"
	Internal                Reason = "internal_error"
)

// Category groups reasons by how the caller should react.
type Category string

const (
	CategoryNotAuthenticated Category = "not_authenticated"
	CategoryQuota            Category = "quota"
	CategoryDevice           Category = "device"
	CategoryBusy             Category = "busy"
	CategoryNoUpstream       Category = "no_upstream"
	CategoryInternal         Category = "internal"
)

// Category returns the caller-facing category for r
func (r Reason) Category() Category {
	switch r {
	case NotFound:
		return CategoryNotAuthenticated
	case Expired, DailyLimitExceeded, MonthlyLimitExceeded:
		return CategoryQuota
	case DeviceMismatch, FingerprintRequired, FingerprintAlreadyBound:
		return CategoryDevice
	case ServerBusy:
		return CategoryBusy
	case NoKeysAvailable:
		return CategoryNoUpstream
	default:
		return CategoryInternal
	}
}

// HTTPStatus returns the status code for the reason's category
func (r Reason) HTTPStatus() int {
	switch r.Category() {
	case CategoryNotAuthenticated:
		return http.StatusUnauthorized
	case CategoryQuota, CategoryDevice:
		return http.StatusForbidden
	case CategoryBusy:
		return http.StatusTooManyRequests
	case CategoryNoUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message is the human readable text returned to clients.
func (r Reason) Message() string {
	switch r {
	case NotFound:
		return "Invalid API key"
	case Expired:
		return "API key has expired"
	case DailyLimitExceeded:
		return "Daily limit exceeded"
	case MonthlyLimitExceeded:
		return "Monthly limit exceeded"
	case DeviceMismatch:
		return "API key is bound to another device"
	case FingerprintRequired:
		return "Device ID is required"
	case FingerprintAlreadyBound:
		return "Device is already bound to another API key"
	case ServerBusy:
		return "Server busy, please try again later"
	case NoKeysAvailable:
		return "No upstream keys available"
	default:
		return "Internal server error"
	}
}

// Error is returned by components that refuse a request.
type Error struct {
	Reason Reason
}

// New wraps a reason as an error
func New(r Reason) *Error {
	return &Error{Reason: r}
}

func (e *Error) Error() string {
	return string(e.Reason)
}

// ReasonOf extracts the denial reason from err. Errors that are not denials map to Internal.
func ReasonOf(err error) Reason {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	return Internal
}

// Is reports whether err is a denial with the given reason
func Is(err error, r Reason) bool {
	var de *Error
	return errors.As(err, &de) && de.Reason == r
}
