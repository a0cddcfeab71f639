// Package redisrelay shares bus events between instances over Redis pub/sub.
package redisrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger/sl"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

const DefaultChannel = "bytenosh:waitlist:events"

// Deliverer is the local side of the bus.
type Deliverer interface {
	Deliver(p waitlist.Publication)
}

type envelope struct {
	Origin string               `json:"origin"`
	Pub    waitlist.Publication `json:"pub"`
}

// Relay is a notify.Sink that publishes to Redis, and a receiver that
// re-delivers events published by other instances.
type Relay struct {
	log     *slog.Logger
	client  *redis.Client
	channel string
	origin  string
}

func New(log *slog.Logger, client *redis.Client, channel string) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{
		log:     log.With(slog.String("component", "redisrelay")),
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

func (r *Relay) Name() string { return "redis" }

func (r *Relay) Send(ctx context.Context, p waitlist.Publication) error {
	const op = "redisrelay.Send"

	data, err := json.Marshal(envelope{Origin: r.origin, Pub: p})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close is a no-op; the Redis client belongs to the caller.
func (r *Relay) Close() error { return nil }

// Run subscribes to the channel and feeds remote events to d until ctx ends.
func (r *Relay) Run(ctx context.Context, d Deliverer) error {
	const op = "redisrelay.Run"
	log := r.log.With(slog.String("op", op), slog.String("channel", r.channel))

	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.handle(msg.Payload, d); err != nil {
				log.Warn("dropping relay message", sl.Err(err))
			}
		}
	}
}

func (r *Relay) handle(payload string, d Deliverer) error {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return err
	}
	if env.Origin == r.origin {
		return nil
	}
	if env.Pub.Topic == "" {
		return errors.New("message without topic")
	}
	d.Deliver(env.Pub)
	return nil
}
