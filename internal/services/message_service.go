package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"chat-service/internal/apperr"
	"chat-service/internal/broadcast"
	"chat-service/internal/callctx"
	"chat-service/internal/metrics"
	"chat-service/internal/models"
	"chat-service/internal/repository"
)

const (
	MaxContentLength = 4000

	DefaultHistoryLimit    = 50
	DefaultMaxHistoryLimit = 100

	sendLockStripes = 64
)

type MessageConfig struct {
	HistoryLimit    int
	MaxHistoryLimit int
}

// MessageService persists messages and fans them out per chat. Sends to
// one chat are serialized so that creation order equals publish order.
type MessageService struct {
	messages  MessageStore
	topics    *Topics
	publisher Publisher
	metrics   *metrics.Metrics
	cfg       MessageConfig

	locks [sendLockStripes]sync.Mutex
	last  [sendLockStripes]time.Time
	now   func() time.Time
}

// NewMessageService wires the service. A nil publisher publishes straight
// into topics.
func NewMessageService(messages MessageStore, topics *Topics, publisher Publisher, m *metrics.Metrics, cfg MessageConfig) *MessageService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MaxHistoryLimit <= 0 {
		cfg.MaxHistoryLimit = DefaultMaxHistoryLimit
	}
	if cfg.HistoryLimit > cfg.MaxHistoryLimit {
		cfg.HistoryLimit = cfg.MaxHistoryLimit
	}
	if publisher == nil {
		publisher = NewLocalPublisher(topics)
	}
	return &MessageService{
		messages:  messages,
		topics:    topics,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
	}
}

func stripe(chatID uuid.UUID) int {
	h := fnv.New32a()
	h.Write(chatID[:])
	return int(h.Sum32() % sendLockStripes)
}

// ValidateContent rejects blank and over-long message bodies.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.WithStatus(http.StatusBadRequest, "Message content must not be blank", nil)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return apperr.WithStatus(http.StatusBadRequest,
			fmt.Sprintf("Message content exceeds %d characters", MaxContentLength), nil)
	}
	return nil
}

// SendMessage stores the message and publishes it to the chat's topic. A
// publish failure after a successful insert is logged, not returned.
func (s *MessageService) SendMessage(ctx context.Context, chatID, senderID uuid.UUID, content string) (*models.Message, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	i := stripe(chatID)
	s.locks[i].Lock()
	defer s.locks[i].Unlock()

	createdAt := s.now().UTC().Truncate(time.Microsecond)
	if !createdAt.After(s.last[i]) {
		createdAt = s.last[i].Add(time.Microsecond)
	}

	msg := &models.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: createdAt,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(chatID.String(), "Chat")
		}
		return nil, apperr.Wrap(err, "insert message")
	}
	s.last[i] = createdAt
	s.metrics.RecordMessageSent()

	if err := s.publisher.Publish(ctx, *msg); err != nil {
		callctx.Logger(ctx).Error().Err(err).
			Str("chatId", chatID.String()).
			Str("messageId", msg.ID.String()).
			Msg("failed to publish message")
	}
	return msg, nil
}

// Subscription streams one chat's messages: the replay buffer first, then
// live messages, in publish order.
type Subscription struct {
	sub     *broadcast.Subscription[models.Message]
	stop    func() bool
	once    sync.Once
	onClose func()
}

// Next blocks for the next message. It returns broadcast.ErrClosed once the
// subscription ends.
func (s *Subscription) Next(ctx context.Context) (models.Message, error) {
	return s.sub.Next(ctx)
}

// Missed is the number of messages skipped because the reader lagged.
func (s *Subscription) Missed() uint64 { return s.sub.Missed() }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.stop()
		s.sub.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Subscribe attaches to the chat's topic. The subscription ends when ctx is
// done or Close is called.
func (s *MessageService) Subscribe(ctx context.Context, chatID uuid.UUID) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &Subscription{
		sub:     s.topics.Subscribe(chatID),
		onClose: s.metrics.SubscriberRemoved,
	}
	s.metrics.SubscriberAdded()
	sub.stop = context.AfterFunc(ctx, sub.Close)
	return sub, nil
}

// GetHistory returns the latest messages of the chat, newest first.
func (s *MessageService) GetHistory(ctx context.Context, chatID uuid.UUID) ([]models.Message, error) {
	return s.list(ctx, chatID, s.cursor(chatID), s.cfg.HistoryLimit)
}

// cursor is the exclusive upper bound for "latest" history reads: now, or
// just past the newest stamp handed out if sends ran ahead of the clock.
func (s *MessageService) cursor(chatID uuid.UUID) time.Time {
	now := s.now().UTC()
	i := stripe(chatID)
	s.locks[i].Lock()
	last := s.last[i]
	s.locks[i].Unlock()
	if !now.After(last) {
		return last.Add(time.Microsecond)
	}
	return now
}

// LoadMoreHistory returns messages created strictly before before, newest
// first. limit is clamped to 1..MaxHistoryLimit; zero means the default.
func (s *MessageService) LoadMoreHistory(ctx context.Context, chatID uuid.UUID, before time.Time, limit int) ([]models.Message, error) {
	if before.IsZero() {
		before = s.cursor(chatID)
	}
	return s.list(ctx, chatID, before, s.clampLimit(limit))
}

func (s *MessageService) clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return s.cfg.HistoryLimit
	case limit > s.cfg.MaxHistoryLimit:
		return s.cfg.MaxHistoryLimit
	}
	return limit
}

func (s *MessageService) list(ctx context.Context, chatID uuid.UUID, before time.Time, limit int) ([]models.Message, error) {
	messages, err := s.messages.ListBefore(ctx, chatID, before, limit)
	if err != nil {
		return nil, apperr.Wrap(err, "list messages")
	}
	return messages, nil
}

// LastMessage returns the newest message of the chat, or nil if it has none.
func (s *MessageService) LastMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	m, err := s.messages.LastByChat(ctx, chatID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, "get last message")
	}
	return m, nil
}
