package auth

import "errors"

var (
	// ErrKeyNotFound means no quota matches the presented API key.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrQuotaDisabled means the quota exists but is inactive or deleted.
	ErrQuotaDisabled = errors.New("quota is disabled")

	// ErrUserDisabled means the quota's owner has been deactivated.
	ErrUserDisabled = errors.New("user is disabled")

	// ErrGroupDisabled means the quota's model group is inactive.
	ErrGroupDisabled = errors.New("model group is disabled")
)
