package notifier

import (
	"context"

	"github.com/layer-3/campusauth/core"
	"github.com/layer-3/campusauth/ports"
	"go.uber.org/zap"
)

// LogNotifier writes messages to the log instead of sending them.
// Meant for local development only: bodies contain codes and reset links.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs every message
func NewLogNotifier(logger *zap.Logger) ports.Notifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

func (n *LogNotifier) Deliver(ctx context.Context, msg core.Message) error {
	n.logger.Info("outgoing message",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
