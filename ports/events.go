package ports

import (
	"context"
	"time"
)

// EventType names an auth lifecycle event
type EventType string

const (
	EventOtpIssued        EventType = "otp.issued"
	EventLoginSucceeded   EventType = "login.succeeded"
	EventLogout           EventType = "logout"
	EventPasswordReset    EventType = "password.reset"
	EventPasswordChange   EventType = "password.changed"
	EventAdminCreated     EventType = "admin.created"
	EventIdentityEnabled  EventType = "identity.enabled"
	EventIdentityDisabled EventType = "identity.disabled"
)

// AuthEvent is published after a state change completes
type AuthEvent struct {
	Type       EventType `json:"type"`
	IdentityID string    `json:"identityId,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	Publish(ctx context.Context, event AuthEvent) error
}
