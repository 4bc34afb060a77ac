package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-service/internal/models"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

// Insert stores m as given; the caller stamps ID and CreatedAt.
func (r *MessageRepo) Insert(ctx context.Context, m *models.Message) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_message (id, chat_id, sender_id, content, is_read, read_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.IsRead, m.ReadAt, m.CreatedAt,
	)
	if err != nil {
		return classifyOrWrap(err, "insert message")
	}
	return nil
}

func (r *MessageRepo) LastByChat(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	m := &models.Message{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, chat_id, sender_id, content, is_read, read_at, created_at
		FROM chat_message WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		chatID,
	).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.IsRead, &m.ReadAt, &m.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return m, nil
}

// ListBefore returns at most limit messages created strictly before
// before, newest first.
func (r *MessageRepo) ListBefore(ctx context.Context, chatID uuid.UUID, before time.Time, limit int) ([]models.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, chat_id, sender_id, content, is_read, read_at, created_at
		FROM chat_message
		WHERE chat_id = $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`,
		chatID, before, limit,
	)
	if err != nil {
		return nil, classifyOrWrap(err, "list messages")
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.IsRead, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
