package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-service/internal/models"
)

type ChatRepo struct {
	pool *pgxpool.Pool
}

func NewChatRepo(pool *pgxpool.Pool) *ChatRepo {
	return &ChatRepo{pool: pool}
}

func (r *ChatRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	c := &models.Chat{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, project_id, created_at FROM chat_room WHERE id = $1`, id,
	).Scan(&c.ID, &c.ProjectID, &c.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return c, nil
}

func (r *ChatRepo) GetByProjectID(ctx context.Context, projectID uuid.UUID) (*models.Chat, error) {
	c := &models.Chat{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, project_id, created_at FROM chat_room WHERE project_id = $1`, projectID,
	).Scan(&c.ID, &c.ProjectID, &c.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return c, nil
}

// CreateWithMembers inserts the chat and its members in one transaction.
// Returns ErrDuplicate when the project already has a chat; nothing is
// written in that case.
func (r *ChatRepo) CreateWithMembers(ctx context.Context, c *models.Chat, members []models.Member) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin chat transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO chat_room (id, project_id, created_at) VALUES ($1, $2, $3)`,
		c.ID, c.ProjectID, c.CreatedAt,
	)
	if err != nil {
		return classifyOrWrap(err, "insert chat")
	}

	for _, m := range members {
		_, err = tx.Exec(ctx,
			`INSERT INTO chat_member (id, chat_id, user_id, username, joined_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (chat_id, user_id) DO NOTHING`,
			m.ID, m.ChatID, m.UserID, m.Username, m.JoinedAt,
		)
		if err != nil {
			return classifyOrWrap(err, "insert chat member")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chat transaction: %w", err)
	}
	return nil
}

// classifyOrWrap returns a sentinel when the driver error maps to one, and
// a wrapped error otherwise.
func classifyOrWrap(err error, op string) error {
	if c := classify(err); c == ErrNotFound || c == ErrDuplicate {
		return c
	}
	return fmt.Errorf("%s: %w", op, err)
}
