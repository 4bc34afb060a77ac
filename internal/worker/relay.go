package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chat-service/internal/callctx"
	"chat-service/internal/models"
	"chat-service/internal/services"
)

const (
	relayBaseDelay = 500 * time.Millisecond
	relayMaxDelay  = 30 * time.Second
)

// Relay consumes the per-chat Redis channels written by
// services.RedisPublisher and republishes every message into the local
// topics, so subscribers on any instance see every send.
type Relay struct {
	redis  *redis.Client
	topics *services.Topics
	prefix string
	log    zerolog.Logger
}

func NewRelay(client *redis.Client, topics *services.Topics, prefix string, log zerolog.Logger) *Relay {
	return &Relay{
		redis:  client,
		topics: topics,
		prefix: prefix,
		log:    log.With().Str("component", "relay").Logger(),
	}
}

// Run subscribes until ctx is done, resubscribing with exponential backoff
// when the subscription cannot be established.
func (r *Relay) Run(ctx context.Context) error {
	attempt := 0
	for {
		err := r.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}

		delay := backoff(attempt)
		attempt++
		r.log.Warn().Err(err).Dur("retryIn", delay).Msg("relay subscription lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (r *Relay) consume(ctx context.Context) error {
	pubsub := r.redis.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s*: %w", r.prefix, err)
	}
	r.log.Info().Str("pattern", r.prefix+"*").Msg("relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay channel closed")
			}
			if err := r.handle(msg.Channel, msg.Payload); err != nil {
				r.log.Error().Err(err).Str("channel", msg.Channel).Msg("dropping relayed message")
			}
		}
	}
}

func (r *Relay) handle(channel, payload string) error {
	chatID, err := uuid.Parse(strings.TrimPrefix(channel, r.prefix))
	if err != nil {
		return fmt.Errorf("parse chat id from channel: %w", err)
	}

	var env models.RelayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	msg := env.Message
	if msg.ChatID != chatID {
		return fmt.Errorf("message %s belongs to chat %s, not %s", msg.ID, msg.ChatID, chatID)
	}

	ctx, end := callctx.Begin(context.Background(), r.log, callctx.Fields{
		UserID:           env.Headers.Get(callctx.HeaderUserID),
		InitiatorService: env.Headers.Get(callctx.HeaderInitiatorService),
		Method:           "relay_" + channel,
	})
	defer end()

	r.topics.Publish(chatID, msg)
	callctx.Logger(ctx).Debug().
		Str("originCallId", env.Headers.Get(callctx.HeaderCallID)).
		Str("messageId", msg.ID.String()).
		Msg("message relayed")
	return nil
}

func backoff(attempt int) time.Duration {
	if attempt > 16 {
		return relayMaxDelay
	}
	delay := relayBaseDelay << attempt
	if delay > relayMaxDelay {
		return relayMaxDelay
	}
	return delay
}
