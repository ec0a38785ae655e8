package core

import "errors"

// Outcome errors for a submission attempt. Handlers dispatch on these with
// errors.Is; anything not listed here is treated as a storage fault.
var (
	ErrRateLimited    = errors.New("rate_limited")
	ErrCooldownActive = errors.New("cooldown_active")

	ErrDuplicateAttachment  = errors.New("attachment_duplicate")
	ErrUnsupportedMediaType = errors.New("attachment_unsupported_type")

	ErrInvalidPhone = errors.New("invalid_phone")
	ErrEmptyBody    = errors.New("empty_body")
	ErrBodyTooLong  = errors.New("body_too_long")
)

// IsCallerError reports whether err should surface as a 400 rather than a 500.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrDuplicateAttachment) ||
		errors.Is(err, ErrUnsupportedMediaType) ||
		errors.Is(err, ErrInvalidPhone) ||
		errors.Is(err, ErrEmptyBody) ||
		errors.Is(err, ErrBodyTooLong)
}

// IsThrottled reports whether err is an expected retry-later rejection.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCooldownActive)
}
