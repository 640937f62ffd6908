package storage

import "errors"

var (
	// ErrQuotaNotFound is returned when a quota does not exist.
	ErrQuotaNotFound = errors.New("quota not found")

	// ErrUserNotFound is returned when a user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrModelNotFound is returned when a model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrModelGroupNotFound is returned when a model group does not exist.
	ErrModelGroupNotFound = errors.New("model group not found")

	// ErrProviderNotFound is returned when a provider does not exist.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrRequestNotFound is returned when an audit record does not exist.
	ErrRequestNotFound = errors.New("request record not found")

	// ErrAdminUserNotFound is returned when an admin user does not exist.
	ErrAdminUserNotFound = errors.New("admin user not found")

	// ErrAdminTokenNotFound is returned when an admin token does not exist.
	ErrAdminTokenNotFound = errors.New("admin token not found")

	// ErrDuplicateName is returned when a unique name constraint trips.
	ErrDuplicateName = errors.New("name already in use")
)
