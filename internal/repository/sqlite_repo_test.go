package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-service/internal/database"
	"chat-service/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.NewSQLite("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newChat(projectID uuid.UUID, members ...uuid.UUID) (*models.Chat, []models.Member) {
	now := time.Now().UTC()
	c := &models.Chat{ID: uuid.New(), ProjectID: projectID, CreatedAt: now}
	out := make([]models.Member, 0, len(members))
	for _, u := range members {
		out = append(out, models.Member{ID: uuid.New(), ChatID: c.ID, UserID: u, Username: "user", JoinedAt: now})
	}
	return c, out
}

func TestSQLiteChatRepo_CreateAndGet(t *testing.T) {
	db := openTestDB(t)
	chats := NewSQLiteChatRepo(db)
	members := NewSQLiteMemberRepo(db)
	ctx := context.Background()

	client, manager := uuid.New(), uuid.New()
	c, ms := newChat(uuid.New(), client, manager)
	require.NoError(t, chats.CreateWithMembers(ctx, c, ms))

	got, err := chats.GetByProjectID(ctx, c.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.WithinDuration(t, c.CreatedAt, got.CreatedAt, time.Microsecond)

	byID, err := chats.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ProjectID, byID.ProjectID)

	list, err := members.ListByChat(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = members.GetByUserAndChat(ctx, client, c.ID)
	assert.NoError(t, err)
}

func TestSQLiteChatRepo_NotFound(t *testing.T) {
	chats := NewSQLiteChatRepo(openTestDB(t))
	_, err := chats.GetByProjectID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = chats.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteChatRepo_DuplicateProjectWritesNothing(t *testing.T) {
	db := openTestDB(t)
	chats := NewSQLiteChatRepo(db)
	members := NewSQLiteMemberRepo(db)
	ctx := context.Background()

	projectID := uuid.New()
	first, ms := newChat(projectID, uuid.New())
	require.NoError(t, chats.CreateWithMembers(ctx, first, ms))

	second, ms2 := newChat(projectID, uuid.New())
	err := chats.CreateWithMembers(ctx, second, ms2)
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = chats.GetByID(ctx, second.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	list, err := members.ListByChat(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLiteMemberRepo_InsertMissingSkipsExisting(t *testing.T) {
	db := openTestDB(t)
	chats := NewSQLiteChatRepo(db)
	members := NewSQLiteMemberRepo(db)
	ctx := context.Background()

	client, manager := uuid.New(), uuid.New()
	c, ms := newChat(uuid.New(), client)
	require.NoError(t, chats.CreateWithMembers(ctx, c, ms))

	_, again := newChat(uuid.New(), client, manager)
	for i := range again {
		again[i].ChatID = c.ID
	}
	n, err := members.InsertMissing(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = members.InsertMissing(ctx, again)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = members.GetByUserAndChat(ctx, uuid.New(), c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteMessageRepo_ListBeforeIsNewestFirstAndStrict(t *testing.T) {
	db := openTestDB(t)
	chats := NewSQLiteChatRepo(db)
	messages := NewSQLiteMessageRepo(db)
	ctx := context.Background()

	sender := uuid.New()
	c, ms := newChat(uuid.New(), sender)
	require.NoError(t, chats.CreateWithMembers(ctx, c, ms))

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		require.NoError(t, messages.Insert(ctx, &models.Message{
			ID:        uuid.New(),
			ChatID:    c.ID,
			SenderID:  sender,
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := messages.ListBefore(ctx, c.ID, base.Add(5*time.Second), 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []string{"e", "d", "c"}, []string{page[0].Content, page[1].Content, page[2].Content})
	for _, m := range page {
		assert.True(t, m.CreatedAt.Before(base.Add(5*time.Second)))
		assert.False(t, m.IsRead)
		assert.Nil(t, m.ReadAt)
	}

	last, err := messages.LastByChat(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "j", last.Content)
}

func TestSQLiteMessageRepo_UnknownChat(t *testing.T) {
	messages := NewSQLiteMessageRepo(openTestDB(t))
	ctx := context.Background()

	err := messages.Insert(ctx, &models.Message{
		ID: uuid.New(), ChatID: uuid.New(), SenderID: uuid.New(), Content: "x", CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = messages.LastByChat(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
