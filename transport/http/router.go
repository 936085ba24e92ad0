package http

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/campusauth/service"
	"go.uber.org/zap"
)

// SetupRouter sets up the Gin router. limiter may be nil. Forwarding headers
// such as X-Forwarded-For are honoured only from trustedProxies; with none,
// the client IP is always the connection's remote address.
func SetupRouter(authService *service.AuthService, logger *zap.Logger, limiter *RateLimiter, trustedProxies []string) (*gin.Engine, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(gin.Recovery(), RequestLogger(logger.Named("http")))

	// Create handlers
	handlers := NewAuthHandlers(authService, logger.Named("http"))
	requireSession := AuthMiddleware(authService, logger)
	requireAdmin := AdminMiddleware(logger)
	throttle := limiter.Handler()

	router.GET("/healthz", handlers.Health)
	router.GET("/readyz", handlers.Ready)

	auth := router.Group("/api/auth")
	{
		auth.POST("/login", throttle, handlers.Login)
		auth.POST("/verify-otp", throttle, handlers.VerifyOtp)
		auth.POST("/forgot-password", throttle, handlers.ForgotPassword)
		auth.PUT("/reset-password/:token", throttle, handlers.ResetPassword)
		auth.POST("/reset-password/:token", throttle, handlers.ResetPassword)
		auth.POST("/logout", handlers.Logout)

		auth.GET("/check", requireSession, handlers.Check)
		auth.GET("/verify", requireSession, handlers.Check)
		auth.PUT("/change-password", requireSession, handlers.ChangePassword)
		auth.POST("/change-password", requireSession, handlers.ChangePassword)

		auth.GET("/admins", requireSession, requireAdmin, handlers.ListAdmins)
		auth.POST("/add-admin", BootstrapAdminMiddleware(authService, logger), handlers.AddAdmin)
		auth.PUT("/identities/:id/active", requireSession, requireAdmin, handlers.SetActive)
	}

	return router, nil
}
