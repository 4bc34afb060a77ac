package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chat-service/internal/broadcast"
	"chat-service/internal/callctx"
	"chat-service/internal/models"
)

// Topics is the per-chat fan-out shared by publishers, subscribers and the
// relay worker.
type Topics = broadcast.Registry[uuid.UUID, models.Message]

// NewTopics creates the chat topic registry with the given replay size.
func NewTopics(replaySize int, onLag func(chatID uuid.UUID, missed uint64)) *Topics {
	var opts []broadcast.Option[uuid.UUID, models.Message]
	if onLag != nil {
		opts = append(opts, broadcast.WithLagHook[uuid.UUID, models.Message](onLag))
	}
	return broadcast.NewRegistry[uuid.UUID, models.Message](replaySize, opts...)
}

// Publisher hands a persisted message to its chat's subscribers.
type Publisher interface {
	Publish(ctx context.Context, msg models.Message) error
}

// LocalPublisher delivers straight into the in-process topics.
type LocalPublisher struct {
	topics *Topics
}

func NewLocalPublisher(topics *Topics) *LocalPublisher {
	return &LocalPublisher{topics: topics}
}

func (p *LocalPublisher) Publish(_ context.Context, msg models.Message) error {
	p.topics.Publish(msg.ChatID, msg)
	return nil
}

// RedisPublisher sends messages to a per-chat Redis channel. worker.Relay
// feeds them back into the local topics of every instance, this one
// included.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel is the Redis channel of a chat.
func (p *RedisPublisher) Channel(chatID uuid.UUID) string {
	return ChatChannel(p.prefix, chatID)
}

func (p *RedisPublisher) Publish(ctx context.Context, msg models.Message) error {
	data, err := EncodeRelay(ctx, msg)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.Channel(msg.ChatID), data).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// EncodeRelay wraps msg with the caller headers of ctx so the receiving
// instance can attribute it.
func EncodeRelay(ctx context.Context, msg models.Message) ([]byte, error) {
	env := models.RelayEnvelope{Headers: http.Header{}, Message: msg}
	callctx.InjectHeaders(ctx, env.Headers)
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

// ChatChannel formats "<prefix><chatId>".
func ChatChannel(prefix string, chatID uuid.UUID) string {
	return prefix + chatID.String()
}
