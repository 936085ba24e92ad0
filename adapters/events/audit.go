package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/campusauth/ports"
	"go.uber.org/zap"
)

// AuditHandler is called for each decoded event
type AuditHandler func(ctx context.Context, event ports.AuthEvent) error

// NewAuditRouter builds a watermill router that writes every auth event to
// logger and then passes it to the optional extra handlers
func NewAuditRouter(sub message.Subscriber, logger *zap.Logger, extra ...AuditHandler) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, NewZapLoggerAdapter(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create event router: %w", err)
	}

	audit := logger.Named("audit")
	router.AddNoPublisherHandler("auth-audit", TopicAuthEvents, sub, func(msg *message.Message) error {
		var event ports.AuthEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			// Poison messages are dropped rather than redelivered forever
			audit.Warn("undecodable auth event", zap.String("message_id", msg.UUID), zap.Error(err))
			return nil
		}

		audit.Info("auth event",
			zap.String("type", string(event.Type)),
			zap.String("identity_id", event.IdentityID),
			zap.String("identifier", event.Identifier),
			zap.Time("occurred_at", event.OccurredAt),
		)

		for _, h := range extra {
			if err := h(msg.Context(), event); err != nil {
				return err
			}
		}
		return nil
	})

	return router, nil
}
