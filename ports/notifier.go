package ports

import (
	"context"

	"github.com/layer-3/campusauth/core"
)

// Notifier delivers codes and links out of band
type Notifier interface {
	Deliver(ctx context.Context, msg core.Message) error
}
