package service

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/campusauth/adapters/store"
	"github.com/layer-3/campusauth/core"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHousekeeperSweepsPastRetention(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	otps := store.NewMemoryOtpLedger()
	sessions := store.NewMemorySessionRegistry()

	require.NoError(t, otps.Put(ctx, core.OtpRecord{IdentityID: "abandoned", ExpiresAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, otps.Put(ctx, core.OtpRecord{IdentityID: "recent", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, sessions.Put(ctx, core.Session{ID: "old", ExpiresAt: now.Add(-3 * time.Hour)}))
	require.NoError(t, sessions.Put(ctx, core.Session{ID: "live", ExpiresAt: now.Add(time.Hour)}))

	h := NewHousekeeper(zap.NewNop(), time.Minute, time.Hour)
	h.clock = func() time.Time { return now }
	require.True(t, h.Register("otp", otps))
	require.True(t, h.Register("sessions", sessions))
	require.False(t, h.Register("not a sweeper", struct{}{}))
	require.Equal(t, 2, h.Len())

	require.Equal(t, 2, h.Sweep(ctx))

	// Recently expired records still report as expired
	require.ErrorIs(t, otps.Consume(ctx, "recent", "", now, 5), core.ErrOtpExpired)
	require.ErrorIs(t, otps.Consume(ctx, "abandoned", "", now, 5), core.ErrOtpNotFound)
	_, err := sessions.Get(ctx, "live", now)
	require.NoError(t, err)
}

func TestHousekeeperStartStop(t *testing.T) {
	h := NewHousekeeper(zap.NewNop(), 5*time.Millisecond, 0)
	require.True(t, h.Register("otp", store.NewMemoryOtpLedger()))

	h.Start()
	time.Sleep(20 * time.Millisecond)
	h.Stop()
}
