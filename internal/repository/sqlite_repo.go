package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chat-service/internal/models"
)

// The SQLite gateways mirror ChatRepo, MemberRepo and MessageRepo over
// database/sql. Timestamps are stored as unix nanoseconds.

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

type SQLiteChatRepo struct {
	db *sql.DB
}

func NewSQLiteChatRepo(db *sql.DB) *SQLiteChatRepo {
	return &SQLiteChatRepo{db: db}
}

func (r *SQLiteChatRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	return r.getOne(ctx, `SELECT id, project_id, created_at FROM chat_room WHERE id = ?`, id)
}

func (r *SQLiteChatRepo) GetByProjectID(ctx context.Context, projectID uuid.UUID) (*models.Chat, error) {
	return r.getOne(ctx, `SELECT id, project_id, created_at FROM chat_room WHERE project_id = ?`, projectID)
}

func (r *SQLiteChatRepo) getOne(ctx context.Context, query string, arg uuid.UUID) (*models.Chat, error) {
	c := &models.Chat{}
	var createdAt int64
	err := r.db.QueryRowContext(ctx, query, arg.String()).Scan(&c.ID, &c.ProjectID, &createdAt)
	if err != nil {
		return nil, classify(err)
	}
	c.CreatedAt = fromNanos(createdAt)
	return c, nil
}

func (r *SQLiteChatRepo) CreateWithMembers(ctx context.Context, c *models.Chat, members []models.Member) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chat transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_room (id, project_id, created_at) VALUES (?, ?, ?)`,
		c.ID.String(), c.ProjectID.String(), toNanos(c.CreatedAt),
	)
	if err != nil {
		return classifyOrWrap(err, "insert chat")
	}

	for _, m := range members {
		if _, err := insertMemberSQLite(ctx, tx, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chat transaction: %w", err)
	}
	return nil
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMemberSQLite(ctx context.Context, db sqlExecer, m models.Member) (int64, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO chat_member (id, chat_id, user_id, username, joined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, user_id) DO NOTHING`,
		m.ID.String(), m.ChatID.String(), m.UserID.String(), m.Username, toNanos(m.JoinedAt),
	)
	if err != nil {
		return 0, classifyOrWrap(err, "insert chat member")
	}
	return res.RowsAffected()
}

type SQLiteMemberRepo struct {
	db *sql.DB
}

func NewSQLiteMemberRepo(db *sql.DB) *SQLiteMemberRepo {
	return &SQLiteMemberRepo{db: db}
}

func (r *SQLiteMemberRepo) GetByUserAndChat(ctx context.Context, userID, chatID uuid.UUID) (*models.Member, error) {
	m := &models.Member{}
	var joinedAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, chat_id, user_id, username, joined_at
		FROM chat_member WHERE chat_id = ? AND user_id = ?`,
		chatID.String(), userID.String(),
	).Scan(&m.ID, &m.ChatID, &m.UserID, &m.Username, &joinedAt)
	if err != nil {
		return nil, classify(err)
	}
	m.JoinedAt = fromNanos(joinedAt)
	return m, nil
}

func (r *SQLiteMemberRepo) InsertMissing(ctx context.Context, members []models.Member) (int, error) {
	inserted := 0
	for _, m := range members {
		n, err := insertMemberSQLite(ctx, r.db, m)
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

func (r *SQLiteMemberRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]models.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, chat_id, user_id, username, joined_at
		FROM chat_member WHERE chat_id = ? ORDER BY joined_at, user_id`,
		chatID.String(),
	)
	if err != nil {
		return nil, classifyOrWrap(err, "list chat members")
	}
	defer rows.Close()

	members := []models.Member{}
	for rows.Next() {
		var m models.Member
		var joinedAt int64
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Username, &joinedAt); err != nil {
			return nil, err
		}
		m.JoinedAt = fromNanos(joinedAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

type SQLiteMessageRepo struct {
	db *sql.DB
}

func NewSQLiteMessageRepo(db *sql.DB) *SQLiteMessageRepo {
	return &SQLiteMessageRepo{db: db}
}

func (r *SQLiteMessageRepo) Insert(ctx context.Context, m *models.Message) error {
	var readAt sql.NullInt64
	if m.ReadAt != nil {
		readAt = sql.NullInt64{Int64: toNanos(*m.ReadAt), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_message (id, chat_id, sender_id, content, is_read, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.ChatID.String(), m.SenderID.String(), m.Content, m.IsRead, readAt, toNanos(m.CreatedAt),
	)
	if err != nil {
		return classifyOrWrap(err, "insert message")
	}
	return nil
}

func (r *SQLiteMessageRepo) LastByChat(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, chat_id, sender_id, content, is_read, read_at, created_at
		FROM chat_message WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		chatID.String(),
	)
	m, err := scanSQLiteMessage(row)
	if err != nil {
		return nil, classify(err)
	}
	return m, nil
}

func (r *SQLiteMessageRepo) ListBefore(ctx context.Context, chatID uuid.UUID, before time.Time, limit int) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, chat_id, sender_id, content, is_read, read_at, created_at
		FROM chat_message
		WHERE chat_id = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		chatID.String(), toNanos(before), limit,
	)
	if err != nil {
		return nil, classifyOrWrap(err, "list messages")
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row rowScanner) (*models.Message, error) {
	m := &models.Message{}
	var readAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.IsRead, &readAt, &createdAt); err != nil {
		return nil, err
	}
	if readAt.Valid {
		t := fromNanos(readAt.Int64)
		m.ReadAt = &t
	}
	m.CreatedAt = fromNanos(createdAt)
	return m, nil
}
