package service

import (
	"context"
	"time"

	"github.com/layer-3/campusauth/ports"
	"go.uber.org/zap"
)

// Housekeeper periodically purges records that expired longer than Retention
// ago from backends that do not expire keys on their own. Recently expired
// records are left alone so lookups can still report them as expired.
type Housekeeper struct {
	sweepers  map[string]ports.Sweeper
	logger    *zap.Logger
	interval  time.Duration
	retention time.Duration
	clock     func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeeper creates a housekeeper. Non-positive interval or retention
// default to one hour.
func NewHousekeeper(logger *zap.Logger, interval, retention time.Duration) *Housekeeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &Housekeeper{
		sweepers:  map[string]ports.Sweeper{},
		logger:    logger.Named("housekeeping"),
		interval:  interval,
		retention: retention,
		clock:     time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Register adds target under name when it implements ports.Sweeper and
// reports whether it did
func (h *Housekeeper) Register(name string, target any) bool {
	sweeper, ok := target.(ports.Sweeper)
	if ok {
		h.sweepers[name] = sweeper
	}
	return ok
}

// Len returns the number of registered sweepers
func (h *Housekeeper) Len() int { return len(h.sweepers) }

// Start runs the sweep loop in the background. Call Stop to shut it down.
func (h *Housekeeper) Start() {
	go h.run()
	h.logger.Info("housekeeping started", zap.Duration("interval", h.interval), zap.Int("sweepers", len(h.sweepers)))
}

// Stop blocks until the loop has finished any in-progress sweep
func (h *Housekeeper) Stop() {
	close(h.stopCh)
	<-h.doneCh
	h.logger.Info("housekeeping stopped")
}

func (h *Housekeeper) run() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Sweep(context.Background())
		case <-h.stopCh:
			return
		}
	}
}

// Sweep runs every sweeper once and returns the total number of removed records.
// A failing sweeper does not stop the others.
func (h *Housekeeper) Sweep(ctx context.Context) int {
	cutoff := h.clock().Add(-h.retention)

	total := 0
	for name, sweeper := range h.sweepers {
		n, err := sweeper.Sweep(ctx, cutoff)
		if err != nil {
			h.logger.Error("sweep failed", zap.String("store", name), zap.Error(err))
			continue
		}
		total += n
	}

	if total > 0 {
		h.logger.Info("expired records purged", zap.Int("removed", total))
	}
	return total
}
