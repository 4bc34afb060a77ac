package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-service/internal/models"
)

type MemberRepo struct {
	pool *pgxpool.Pool
}

func NewMemberRepo(pool *pgxpool.Pool) *MemberRepo {
	return &MemberRepo{pool: pool}
}

func (r *MemberRepo) GetByUserAndChat(ctx context.Context, userID, chatID uuid.UUID) (*models.Member, error) {
	m := &models.Member{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, chat_id, user_id, username, joined_at
		FROM chat_member WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&m.ID, &m.ChatID, &m.UserID, &m.Username, &m.JoinedAt)
	if err != nil {
		return nil, classify(err)
	}
	return m, nil
}

// InsertMissing adds the members whose (chat_id, user_id) pair is not yet
// present and returns how many rows were written.
func (r *MemberRepo) InsertMissing(ctx context.Context, members []models.Member) (int, error) {
	inserted := 0
	for _, m := range members {
		tag, err := r.pool.Exec(ctx,
			`INSERT INTO chat_member (id, chat_id, user_id, username, joined_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (chat_id, user_id) DO NOTHING`,
			m.ID, m.ChatID, m.UserID, m.Username, m.JoinedAt,
		)
		if err != nil {
			return inserted, classifyOrWrap(err, "insert chat member")
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (r *MemberRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]models.Member, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, chat_id, user_id, username, joined_at
		FROM chat_member WHERE chat_id = $1 ORDER BY joined_at, user_id`,
		chatID,
	)
	if err != nil {
		return nil, classifyOrWrap(err, "list chat members")
	}
	defer rows.Close()

	members := []models.Member{}
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Username, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
