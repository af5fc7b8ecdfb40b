// Package crosstab tells other client instances that the token store changed.
// Receivers re-read the store, they never refresh on their own.
package crosstab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/models"
)

// Topic carries session changes only, nothing else is published there
const Topic = "auth.session"

type Event struct {
	Kind   models.ChangeKind `json:"kind"`
	Origin string            `json:"origin"`
	At     time.Time         `json:"at"`
}

// Bus is one client instance's end of the channel
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	origin     string
	logger     logger.Logger
}

func NewBus(pub message.Publisher, sub message.Subscriber, l logger.Logger) *Bus {
	origin := uuid.NewString()

	return &Bus{
		publisher:  pub,
		subscriber: sub,
		origin:     origin,
		logger:     l.With("origin", origin),
	}
}

// NewInProcess creates channel shared by buses of one process
func NewInProcess(l logger.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{}, logger.Watermill(l))
}

// NewRedisStream creates publisher and subscriber reaching every process connected to the same redis.
// Subscriber has no consumer group, so each one gets all events
func NewRedisStream(client redis.UniversalClient, l logger.Logger) (message.Publisher, message.Subscriber, error) {
	wl := logger.Watermill(l)

	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, wl)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}

	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{Client: client}, wl)
	if err != nil {
		_ = pub.Close()
		return nil, nil, fmt.Errorf("failed to create redis subscriber: %w", err)
	}

	return pub, sub, nil
}

func (b *Bus) Origin() string {
	return b.origin
}

// Notify publishes change. Failure is logged only, the store change already happened
func (b *Bus) Notify(ctx context.Context, kind models.ChangeKind) {
	payload, err := json.Marshal(Event{Kind: kind, Origin: b.origin, At: time.Now().UTC()})
	if err != nil {
		b.logger.Error("Failed to marshal session event", "error", err)
		return
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)

	if err := b.publisher.Publish(Topic, msg); err != nil {
		b.logger.Warn("Failed to publish session event", "kind", kind, "error", err)
		return
	}
	b.logger.Debug("Session event published", "kind", kind)
}

// Subscribe returns events of other buses. Channel is closed when ctx is done
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := b.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", Topic, err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)

		for msg := range messages {
			msg.Ack()

			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn("Malformed session event dropped", "message_uuid", msg.UUID, "error", err)
				continue
			}
			if ev.Origin == b.origin {
				continue
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
