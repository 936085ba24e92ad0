package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/campusauth/core"
	"github.com/layer-3/campusauth/service"
	"go.uber.org/zap"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	logger      *zap.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, logger *zap.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		logger:      logger,
	}
}

// identifierFields accepts the identifier under any of the names clients use
type identifierFields struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Username   string `json:"username"`
}

func (f identifierFields) value() string {
	for _, v := range []string{f.Identifier, f.Email, f.Username} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (h *AuthHandlers) badRequest(c *gin.Context) {
	respond(c, http.StatusBadRequest, "Invalid request")
}

// Login handles the login request
func (h *AuthHandlers) Login(c *gin.Context) {
	var req struct {
		identifierFields
		Password string `json:"password"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c)
		return
	}

	res, err := h.authService.Login(c.Request.Context(), req.value(), req.Password)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	if res.Challenge != nil {
		data := gin.H{
			"requiresOtp": true,
			"identifier":  res.Challenge.Identifier,
			"expiresAt":   res.Challenge.ExpiresAt,
		}
		message := "OTP sent to your email"
		if res.Challenge.DevCode != "" {
			data["devOtp"] = res.Challenge.DevCode
			message = "Email delivery failed; development OTP included"
		}
		respond(c, http.StatusOK, message, withData(data))
		return
	}

	respond(c, http.StatusOK, "Login successful",
		withToken(res.Session.Token),
		withUser(res.Session.Identity),
		withData(gin.H{"expiresAt": res.Session.ExpiresAt}),
	)
}

// VerifyOtp exchanges an emailed code for a session
func (h *AuthHandlers) VerifyOtp(c *gin.Context) {
	var req struct {
		identifierFields
		Otp  string `json:"otp"`
		Code string `json:"code"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c)
		return
	}

	code := req.Otp
	if code == "" {
		code = req.Code
	}

	issued, err := h.authService.VerifyOtp(c.Request.Context(), req.value(), code)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	respond(c, http.StatusOK, "Login successful",
		withToken(issued.Token),
		withUser(issued.Identity),
		withData(gin.H{"expiresAt": issued.ExpiresAt}),
	)
}

// Check returns the identity behind the session. Runs after AuthMiddleware.
func (h *AuthHandlers) Check(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		fail(c, h.logger, core.ErrUnauthenticated)
		return
	}

	respond(c, http.StatusOK, "Session is valid", withUser(identity))
}

// Logout always succeeds, with or without a token
func (h *AuthHandlers) Logout(c *gin.Context) {
	_ = h.authService.Logout(c.Request.Context(), sessionToken(c))
	respond(c, http.StatusOK, "Logged out")
}

// ForgotPassword answers the same way whether or not the account exists
func (h *AuthHandlers) ForgotPassword(c *gin.Context) {
	var req identifierFields

	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c)
		return
	}

	if err := h.authService.ForgotPassword(c.Request.Context(), req.value()); err != nil {
		fail(c, h.logger, err)
		return
	}

	respond(c, http.StatusOK, "If an account exists for this identifier, a reset link has been sent")
}

// ResetPassword consumes the token from the path
func (h *AuthHandlers) ResetPassword(c *gin.Context) {
	var req struct {
		Password    string `json:"password"`
		NewPassword string `json:"newPassword"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c)
		return
	}

	password := req.NewPassword
	if password == "" {
		password = req.Password
	}

	if err := h.authService.ResetPassword(c.Request.Context(), c.Param("token"), password); err != nil {
		fail(c, h.logger, err)
		return
	}

	respond(c, http.StatusOK, "Password has been reset")
}

// ChangePassword updates the password of the signed-in identity
func (h *AuthHandlers) ChangePassword(c *gin.Context) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c)
		return
	}

	identity, ok := currentIdentity(c)
	if !ok {
		fail(c, h.logger, core.ErrUnauthenticated)
		return
	}

	err := h.authService.ChangePassword(c.Request.Context(), identity.Email, req.CurrentPassword, req.NewPassword)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	respond(c, http.StatusOK, "Password changed")
}

// ListAdmins returns every administrator
func (h *AuthHandlers) ListAdmins(c *gin.Context) {
	admins, err := h.authService.ListAdmins(c.Request.Context())
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	respond(c, http.StatusOK, "Admins retrieved", withData(admins))
}

// AddAdmin creates an administrator
func (h *AuthHandlers) AddAdmin(c *gin.Context) {
	var req struct {
		Email       string   `json:"email"`
		Username    string   `json:"username"`
		Name        string   `json:"name"`
		Password    string   `json:"password"`
		Permissions []string `json:"permissions"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c)
		return
	}

	created, err := h.authService.AddAdmin(c.Request.Context(), service.NewAdmin{
		Email:       req.Email,
		Username:    req.Username,
		Name:        req.Name,
		Password:    req.Password,
		Permissions: req.Permissions,
	})
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	respond(c, http.StatusOK, "Admin created", withUser(created))
}

// SetActive enables or disables sign-in for the identity in the path
func (h *AuthHandlers) SetActive(c *gin.Context) {
	var req struct {
		Active *bool `json:"active"`
	}

	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		h.badRequest(c)
		return
	}

	actor, _ := currentIdentity(c)
	updated, err := h.authService.SetIdentityActive(c.Request.Context(), actor, c.Param("id"), *req.Active)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	message := "Account enabled"
	if !updated.Active {
		message = "Account disabled"
	}
	respond(c, http.StatusOK, message, withUser(updated))
}

// Health reports liveness
func (h *AuthHandlers) Health(c *gin.Context) {
	respond(c, http.StatusOK, "ok")
}

// Ready reports whether the identity store is reachable
func (h *AuthHandlers) Ready(c *gin.Context) {
	if err := h.authService.Ready(c.Request.Context()); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		respond(c, http.StatusServiceUnavailable, "not ready")
		return
	}
	respond(c, http.StatusOK, "ready")
}
