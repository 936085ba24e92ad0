package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/campusauth/core"
	"go.uber.org/zap"
)

// statusFor maps domain errors to a status code and a client-facing message.
// Credential failures share one vague message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrValidationFailed):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrOtpExpired):
		return http.StatusBadRequest, "OTP has expired"
	case errors.Is(err, core.ErrOtpNotFound):
		return http.StatusBadRequest, "No pending OTP, please log in again"
	case errors.Is(err, core.ErrInvalidOrExpiredToken):
		return http.StatusBadRequest, "Reset token is invalid or has expired"
	case errors.Is(err, core.ErrIncorrectCurrentPassword):
		return http.StatusBadRequest, "Current password is incorrect"
	case errors.Is(err, core.ErrAdminLimitReached):
		return http.StatusBadRequest, core.ErrAdminLimitReached.Error()

	case errors.Is(err, core.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, core.ErrOtpMismatch):
		return http.StatusUnauthorized, "Invalid OTP"
	case errors.Is(err, core.ErrUnauthenticated):
		return http.StatusUnauthorized, "Authentication required"
	case errors.Is(err, core.ErrInvalidSession):
		return http.StatusUnauthorized, "Invalid session"
	case errors.Is(err, core.ErrSessionExpired):
		return http.StatusUnauthorized, "Session has expired"

	case errors.Is(err, core.ErrAccountDisabled):
		return http.StatusForbidden, "Account is disabled"
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden, "Admin access required"

	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, core.ErrIdentityExists):
		return http.StatusConflict, "An account with this email or username already exists"

	case errors.Is(err, core.ErrDeliveryFailed):
		return http.StatusInternalServerError, "Failed to send email, please try again later"
	}
	return http.StatusInternalServerError, "Internal server error"
}

// fail writes the mapped error and aborts the chain. Unmapped errors are logged.
func fail(c *gin.Context, logger *zap.Logger, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.Error(err),
		)
	}
	c.Abort()
	respond(c, status, message)
}
