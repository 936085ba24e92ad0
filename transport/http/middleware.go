package http

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/campusauth/core"
	"github.com/layer-3/campusauth/service"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ctxIdentity  = "identity"
	ctxToken     = "sessionToken"
	ctxRequestID = "request_id"

	headerSessionToken = "X-Session-Token"
	headerRequestID    = "X-Request-ID"
)

// sessionToken reads the bearer token or the explicit session header
func sessionToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(c.GetHeader(headerSessionToken))
}

// authenticate resolves the session token and stores the caller in the
// context. On failure it writes the error and aborts; it never runs the chain.
func authenticate(c *gin.Context, authService *service.AuthService, logger *zap.Logger) (core.Identity, bool) {
	token := sessionToken(c)

	identity, err := authService.CheckSession(c.Request.Context(), token)
	if err != nil {
		fail(c, logger, err)
		return core.Identity{}, false
	}

	c.Set(ctxIdentity, identity)
	c.Set(ctxToken, token)
	return identity, true
}

// AuthMiddleware rejects requests without a live session and stores the
// caller's identity in the context
func AuthMiddleware(authService *service.AuthService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := authenticate(c, authService, logger); !ok {
			return
		}
		c.Next()
	}
}

// AdminMiddleware must run after AuthMiddleware
func AdminMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := currentIdentity(c)
		if !ok || identity.Role != core.RoleAdmin {
			fail(c, logger, core.ErrForbidden)
			return
		}
		c.Next()
	}
}

// BootstrapAdminMiddleware lets an anonymous caller through while no admin
// exists, so the first admin can be created. Any presented token must belong
// to an admin.
func BootstrapAdminMiddleware(authService *service.AuthService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sessionToken(c) == "" {
			hasAdmins, err := authService.HasAdmins(c.Request.Context())
			if err != nil {
				fail(c, logger, err)
				return
			}
			if hasAdmins {
				fail(c, logger, core.ErrUnauthenticated)
				return
			}
			c.Next()
			return
		}

		identity, ok := authenticate(c, authService, logger)
		if !ok {
			return
		}
		if identity.Role != core.RoleAdmin {
			fail(c, logger, core.ErrForbidden)
			return
		}
		c.Next()
	}
}

func currentIdentity(c *gin.Context) (core.Identity, bool) {
	v, exists := c.Get(ctxIdentity)
	if !exists {
		return core.Identity{}, false
	}
	identity, ok := v.(core.Identity)
	return identity, ok
}

// RequestLogger logs every request with latency and a request ID
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if requestID == "" {
			requestID = ulid.Make().String()
		}
		c.Set(ctxRequestID, requestID)
		c.Writer.Header().Set(headerRequestID, requestID)

		// Reset tokens travel in the path; log the route template instead
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if identity, ok := currentIdentity(c); ok {
			fields = append(fields, zap.String("identity_id", identity.ID))
		}

		switch {
		case status >= 500:
			logger.Error("http_request", fields...)
		case status >= 400:
			logger.Warn("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
	}
}

// RateLimiter enforces per-client throttling on credential endpoints
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	window  time.Duration
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter for the given requests-per-minute budget.
// A non-positive budget disables limiting.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := requestsPerMinute / 4
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
		window:  5 * time.Minute,
		clients: make(map[string]*clientLimiter),
	}
}

// Handler returns the gin middleware. A nil limiter lets everything through.
func (r *RateLimiter) Handler() gin.HandlerFunc {
	if r == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		if !r.getLimiter(c.ClientIP()).Allow() {
			c.Abort()
			respond(c, http.StatusTooManyRequests, "Too many requests, please slow down")
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) getLimiter(key string) *rate.Limiter {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.clients[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(r.limit, r.burst)
	r.clients[key] = &clientLimiter{limiter: limiter, lastSeen: now}
	r.cleanupLocked(now)
	return limiter
}

func (r *RateLimiter) cleanupLocked(now time.Time) {
	for key, entry := range r.clients {
		if now.Sub(entry.lastSeen) > r.window {
			delete(r.clients, key)
		}
	}
}
