// Package events is the bridge between the assembly worker and the process
// hosting the signaling relay: a single Redis pub/sub channel carrying
// completion notices. Delivery is best-effort and non-durable; a subscriber
// that is down at publish time never sees the message.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Channel is the Redis pub/sub channel for processing events.
	Channel = "processing-events"
	// EventRecordingCompleted signals one participant's final recording is ready.
	EventRecordingCompleted = "recording:completed"

	publishTimeout = 5 * time.Second
)

// Envelope is the message shape on the processing-events channel.
type Envelope struct {
	Event         string    `json:"event"`
	SessionID     uuid.UUID `json:"sessionId"`
	ParticipantID uuid.UUID `json:"participantId"`
}

// Bus publishes and subscribes to processing events over Redis pub/sub.
type Bus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewBus creates an event bus over the given Redis client.
func NewBus(client *redis.Client, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{client: client, logger: logger}
}

// PublishRecordingCompleted publishes a recording:completed envelope.
func (b *Bus) PublishRecordingCompleted(ctx context.Context, sessionID, participantID uuid.UUID) error {
	body, err := json.Marshal(Envelope{
		Event:         EventRecordingCompleted,
		SessionID:     sessionID,
		ParticipantID: participantID,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, Channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", Channel, err)
	}
	return nil
}

// Subscribe listens on the processing-events channel and calls handler for
// each well-formed envelope. Returns a cancel function that stops the
// subscription; malformed messages are logged and skipped.
func (b *Bus) Subscribe(ctx context.Context, handler func(Envelope)) (cancel func(), err error) {
	subCtx, cancelCtx := context.WithCancel(ctx)
	pubsub := b.client.Subscribe(subCtx, Channel)
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe %s: %w", Channel, err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.Warn("invalid event payload", zap.String("raw", msg.Payload), zap.Error(err))
					continue
				}
				handler(env)
			}
		}
	}()
	b.logger.Info("subscribed to processing events", zap.String("channel", Channel))
	return func() { cancelCtx() }, nil
}
