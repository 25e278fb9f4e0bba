package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/reviewgame/server/pkg/logger"
)

// RedisBridge mirrors published events across server instances through a
// Redis pub/sub channel so any instance can serve sockets for any game.
// Remote events are injected into the local hub; local events are mirrored
// out. The origin id keeps an instance from replaying its own messages.
type RedisBridge struct {
	hub     *Hub
	client  *redis.Client
	channel string
	origin  string
	log     *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// NewRedisBridge wires a hub to a shared Redis channel.
func NewRedisBridge(hub *Hub, client *redis.Client, channel string, log *logger.Logger) *RedisBridge {
	if log == nil {
		log = logger.NewDefault("events-redis")
	}
	if channel == "" {
		channel = "reviewgame:events"
	}
	return &RedisBridge{
		hub:     hub,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		log:     log,
	}
}

// Name implements system.Service.
func (b *RedisBridge) Name() string { return "events-redis-bridge" }

// Start subscribes to the shared channel and begins relaying remote
// events into the local hub.
func (b *RedisBridge) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(runCtx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	b.cancel = cancel
	b.done = make(chan struct{})
	go b.consume(runCtx, pubsub)

	b.log.WithField("channel", b.channel).Info("event bridge started")
	return nil
}

// Stop tears down the subscription and waits for the relay to drain.
func (b *RedisBridge) Stop(ctx context.Context) error {
	if b.cancel == nil {
		return nil
	}
	b.cancel()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish delivers locally and mirrors the event to the shared channel.
func (b *RedisBridge) Publish(gameID string, ev Event) {
	b.hub.Publish(gameID, ev)

	raw, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		b.log.WithError(err).Warn("encode event for redis")
		return
	}
	if err := b.client.Publish(context.Background(), b.channel, raw).Err(); err != nil {
		b.log.WithError(err).WithField("type", ev.Type).Warn("mirror event to redis")
	}
}

func (b *RedisBridge) consume(ctx context.Context, pubsub *redis.PubSub) {
	defer close(b.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.WithError(err).Warn("decode remote event")
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			b.hub.Publish(env.Event.GameID, env.Event)
		}
	}
}
