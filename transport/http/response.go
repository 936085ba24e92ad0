package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/campusauth/core"
)

// envelope is the body shape of every response
type envelope struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Token   string         `json:"token,omitempty"`
	User    *core.Identity `json:"user,omitempty"`
}

func respond(c *gin.Context, status int, message string, opts ...func(*envelope)) {
	body := envelope{Success: status < 400, Message: message}
	for _, opt := range opts {
		opt(&body)
	}
	c.JSON(status, body)
}

func withData(data any) func(*envelope) {
	return func(e *envelope) { e.Data = data }
}

func withToken(token string) func(*envelope) {
	return func(e *envelope) { e.Token = token }
}

func withUser(user core.Identity) func(*envelope) {
	return func(e *envelope) { e.User = &user }
}
