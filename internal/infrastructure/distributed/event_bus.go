package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"callnet/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventNotification EventType = "call.notification"
	EventCallUpdated  EventType = "call.updated"
)

// DefaultChannel is the pub/sub channel every agent publishes on.
const DefaultChannel = "callnet:events"

// Event represents a distributed event
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	UserID     domain.UserID   `json:"user_id,omitempty"`
	CallID     domain.CallID   `json:"call_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EventBus publishes call events over Redis pub/sub so other processes
// (push gateways, dashboards) can react to them.
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	channel    string
	pubsub     *redis.PubSub
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		channel:    DefaultChannel,
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"user_id", event.UserID,
		"call_id", event.CallID,
	)
	return nil
}

// Notify implements ports.Notifier.
func (eb *EventBus) Notify(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return eb.Publish(ctx, &Event{
		Type:      EventNotification,
		Timestamp: n.CreatedAt,
		UserID:    n.UserID,
		CallID:    n.CallID,
		Payload:   payload,
	})
}

// PublishCallUpdated announces a call snapshot.
func (eb *EventBus) PublishCallUpdated(ctx context.Context, owner domain.UserID, call *domain.Call) error {
	payload, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to marshal call: %w", err)
	}
	return eb.Publish(ctx, &Event{
		Type:    EventCallUpdated,
		UserID:  owner,
		CallID:  call.ID,
		Payload: payload,
	})
}

// Subscribe calls handler for every event published by other instances until ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			// Skip events from this instance
			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
