package storage

import "errors"

var (
	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrCredentialNotFound is returned when a credential is not found
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrUpstreamKeyNotFound is returned when an upstream key is not found
	ErrUpstreamKeyNotFound = errors.New("upstream key not found")

	// ErrDuplicate is returned when a unique value (username, token, upstream secret) already exists
	ErrDuplicate = errors.New("duplicate value")

	// ErrFingerprintTaken is returned when a device fingerprint is bound to another credential
	ErrFingerprintTaken = errors.New("fingerprint already bound to another credential")
)
