package events

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

const (
	BackendGoChannel = "gochannel"
	BackendRedis     = "redis"

	auditConsumerGroup = "campusauth-audit"
)

// Bus is a publisher and subscriber pair sharing one transport
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both sides. Closing a gochannel twice is harmless.
func (b *Bus) Close() error {
	pubErr := b.Publisher.Close()
	subErr := b.Subscriber.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}

// NewBus builds the pub/sub transport named by backend. The redis backend
// requires client.
func NewBus(backend string, client redis.UniversalClient, logger watermill.LoggerAdapter) (*Bus, error) {
	switch backend {
	case "", BackendGoChannel:
		pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		return &Bus{Publisher: pubSub, Subscriber: pubSub}, nil

	case BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("redis events backend requires a redis client")
		}

		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: client,
			},
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis publisher: %w", err)
		}

		subscriber, err := redisstream.NewSubscriber(
			redisstream.SubscriberConfig{
				Client:        client,
				ConsumerGroup: auditConsumerGroup,
			},
			logger,
		)
		if err != nil {
			_ = publisher.Close()
			return nil, fmt.Errorf("failed to create redis subscriber: %w", err)
		}
		return &Bus{Publisher: publisher, Subscriber: subscriber}, nil

	default:
		return nil, fmt.Errorf("unknown events backend %q", backend)
	}
}
