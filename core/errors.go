package core

import "errors"

var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrAccountDisabled          = errors.New("account is disabled")
	ErrOtpNotFound              = errors.New("no pending otp")
	ErrOtpExpired               = errors.New("otp has expired")
	ErrOtpMismatch              = errors.New("otp does not match")
	ErrInvalidSession           = errors.New("invalid session")
	ErrSessionExpired           = errors.New("session has expired")
	ErrUnauthenticated          = errors.New("authentication required")
	ErrInvalidOrExpiredToken    = errors.New("reset token is invalid or has expired")
	ErrIncorrectCurrentPassword = errors.New("current password is incorrect")
	ErrValidationFailed         = errors.New("validation failed")
	ErrDeliveryFailed           = errors.New("notification delivery failed")
	ErrAdminLimitReached        = errors.New("maximum admins reached")
	ErrIdentityExists           = errors.New("identity already exists")
	ErrForbidden                = errors.New("forbidden")
	ErrNotFound                 = errors.New("not found")
)
