// Package events publishes session lifecycle events and relays them to
// WebSocket subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	ws "github.com/gokatarajesh/quizforge/pkg/http/ws"
)

// Event types.
const (
	TypeSessionCreated  = "session.created"
	TypeAnswerEvaluated = "answer.evaluated"
	TypeReviewSuggested = "review.suggested"
	TypeSessionFinished = "session.finished"
)

// DefaultChannel is the Redis Pub/Sub channel carrying events.
const DefaultChannel = "quiz:session-events"

// Event is one published fact about a session.
type Event struct {
	Type         string          `json:"type"`
	SessionToken string          `json:"sessionToken"`
	OwnerID      uuid.UUID       `json:"ownerId"`
	At           time.Time       `json:"at"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// New builds an event with payload marshalled to JSON.
func New(eventType, token string, owner uuid.UUID, at time.Time, payload any) (Event, error) {
	evt := Event{Type: eventType, SessionToken: token, OwnerID: owner, At: at}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		evt.Payload = raw
	}
	return evt, nil
}

// Publisher delivers events; failures are reported but never undo the
// state change that produced the event.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// RedisPublisher publishes events on a Pub/Sub channel so every API node's
// Broadcaster can relay them.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// HubPublisher relays events straight to the local hub; used when no Redis
// is configured and the process is the only API node.
type HubPublisher struct {
	hub *ws.Hub
}

func NewHubPublisher(hub *ws.Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(_ context.Context, evt Event) error {
	msg, err := toMessage(evt)
	if err != nil {
		return err
	}
	if p.hub.Subscribers(evt.SessionToken) == 0 {
		return nil
	}
	return p.hub.BroadcastToSession(evt.SessionToken, msg)
}

func toMessage(evt Event) (ws.Message, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return ws.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return ws.Message{Type: evt.Type, Payload: raw}, nil
}

// Broadcaster listens for Redis Pub/Sub session events and forwards them to
// the connections subscribed to each session.
type Broadcaster struct {
	redis   *redis.Client
	hub     *ws.Hub
	channel string
	logger  zerolog.Logger
}

// NewBroadcaster creates a Pub/Sub powered session event broadcaster.
func NewBroadcaster(redis *redis.Client, hub *ws.Hub, channel string, logger zerolog.Logger) *Broadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Broadcaster{
		redis:   redis,
		hub:     hub,
		channel: channel,
		logger:  logger.With().Str("component", "session_broadcaster").Logger(),
	}
}

// Run subscribes to the event channel and blocks until the context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.redis == nil || b.hub == nil {
		return nil
	}

	sub := b.redis.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.forward(msg.Payload)
		}
	}
}

func (b *Broadcaster) forward(payload string) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		b.logger.Warn().Err(err).Msg("failed to decode session event payload")
		return
	}
	if evt.SessionToken == "" || b.hub.Subscribers(evt.SessionToken) == 0 {
		return
	}

	msg, err := toMessage(evt)
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to marshal session WS payload")
		return
	}
	if err := b.hub.BroadcastToSession(evt.SessionToken, msg); err != nil {
		b.logger.Warn().Err(err).Str("event", evt.Type).Msg("failed to broadcast session event")
	}
}
