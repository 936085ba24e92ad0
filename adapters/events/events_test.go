package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/campusauth/ports"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublishDeliversJSONEvent(t *testing.T) {
	logger := NewZapLoggerAdapter(zap.NewNop())
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
	t.Cleanup(func() { _ = pubSub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, TopicAuthEvents)
	require.NoError(t, err)

	pub := NewWatermillPublisher(pubSub)
	event := ports.AuthEvent{
		Type:       ports.EventLoginSucceeded,
		IdentityID: "identity-1",
		Identifier: "head@school.edu",
		OccurredAt: time.Now().UTC(),
	}
	go func() {
		_ = pub.Publish(context.Background(), event)
	}()

	select {
	case msg := <-messages:
		require.Equal(t, string(ports.EventLoginSucceeded), msg.Metadata.Get(metadataType))

		var got ports.AuthEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		require.Equal(t, event.IdentityID, got.IdentityID)
		require.Equal(t, event.Type, got.Type)
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("event was not delivered")
	}
}

func TestAuditRouterLogsEvents(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	bus, err := NewBus(BackendGoChannel, nil, NewZapLoggerAdapter(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	seen := make(chan ports.AuthEvent, 1)
	router, err := NewAuditRouter(bus.Subscriber, logger, func(ctx context.Context, event ports.AuthEvent) error {
		seen <- event
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	t.Cleanup(func() { _ = router.Close() })

	select {
	case <-router.Running():
	case <-ctx.Done():
		t.Fatal("router did not start")
	}

	pub := NewWatermillPublisher(bus.Publisher)
	require.NoError(t, pub.Publish(ctx, ports.AuthEvent{
		Type:       ports.EventAdminCreated,
		IdentityID: "identity-2",
		Identifier: "new@school.edu",
		OccurredAt: time.Now().UTC(),
	}))

	select {
	case event := <-seen:
		require.Equal(t, ports.EventAdminCreated, event.Type)
	case <-ctx.Done():
		t.Fatal("audit handler was not called")
	}

	require.NotEmpty(t, logs.FilterMessage("auth event").FilterField(zap.String("type", "admin.created")).All())
}

func TestNewBusRejectsUnknownBackend(t *testing.T) {
	_, err := NewBus("kafka", nil, NewZapLoggerAdapter(zap.NewNop()))
	require.Error(t, err)

	_, err = NewBus(BackendRedis, nil, NewZapLoggerAdapter(zap.NewNop()))
	require.Error(t, err)
}
