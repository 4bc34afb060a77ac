package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chat-service/internal/models"
)

// ChatStore is implemented by repository.ChatRepo and repository.SQLiteChatRepo.
type ChatStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	GetByProjectID(ctx context.Context, projectID uuid.UUID) (*models.Chat, error)
	CreateWithMembers(ctx context.Context, c *models.Chat, members []models.Member) error
}

type MemberStore interface {
	GetByUserAndChat(ctx context.Context, userID, chatID uuid.UUID) (*models.Member, error)
	InsertMissing(ctx context.Context, members []models.Member) (int, error)
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]models.Member, error)
}

type MessageStore interface {
	Insert(ctx context.Context, m *models.Message) error
	LastByChat(ctx context.Context, chatID uuid.UUID) (*models.Message, error)
	ListBefore(ctx context.Context, chatID uuid.UUID, before time.Time, limit int) ([]models.Message, error)
}

// Store groups the gateways of one backend.
type Store struct {
	Chats    ChatStore
	Members  MemberStore
	Messages MessageStore
}
