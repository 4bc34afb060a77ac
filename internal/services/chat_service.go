package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-service/internal/apperr"
	"chat-service/internal/callctx"
	"chat-service/internal/models"
	"chat-service/internal/repository"
)

// ChatService owns chat creation and membership checks. A project has at
// most one chat; members are unique per chat.
type ChatService struct {
	chats    ChatStore
	members  MemberStore
	messages MessageStore
	now      func() time.Time
}

func NewChatService(store Store) *ChatService {
	return &ChatService{
		chats:    store.Chats,
		members:  store.Members,
		messages: store.Messages,
		now:      time.Now,
	}
}

// CreateChat creates the project's chat with the caller and the manager as
// members, or joins them to the existing chat. Repeating the call is safe.
func (s *ChatService) CreateChat(ctx context.Context, callerID uuid.UUID, req models.CreateChatRequest) (*models.ChatResponse, error) {
	chat, created, err := s.createOrGet(ctx, callerID, req)
	if err != nil {
		return nil, err
	}
	if created {
		return &models.ChatResponse{ChatID: chat.ID, ProjectID: chat.ProjectID}, nil
	}
	return s.join(ctx, chat, callerID, req)
}

// CreateChatStrict is CreateChat without the join path: an existing chat is
// reported as ChatAlreadyExist.
func (s *ChatService) CreateChatStrict(ctx context.Context, callerID uuid.UUID, req models.CreateChatRequest) (*models.ChatResponse, error) {
	chat, created, err := s.createOrGet(ctx, callerID, req)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, apperr.ChatExists(req.ProjectID.String(), chat.ID.String())
	}
	return &models.ChatResponse{ChatID: chat.ID, ProjectID: chat.ProjectID}, nil
}

// createOrGet returns the project's chat and whether this call created it.
// Losing the unique(project_id) race resolves to the winner's chat.
func (s *ChatService) createOrGet(ctx context.Context, callerID uuid.UUID, req models.CreateChatRequest) (*models.Chat, bool, error) {
	existing, err := s.chats.GetByProjectID(ctx, req.ProjectID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, false, apperr.Wrap(err, "get chat by project")
	}

	now := s.now().UTC()
	chat := &models.Chat{ID: uuid.New(), ProjectID: req.ProjectID, CreatedAt: now}
	err = s.chats.CreateWithMembers(ctx, chat, s.membersFor(chat.ID, callerID, req, now))
	if err == nil {
		callctx.Logger(ctx).Info().
			Str("chatId", chat.ID.String()).
			Str("projectId", chat.ProjectID.String()).
			Msg("chat created")
		return chat, true, nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return nil, false, apperr.Wrap(err, "create chat")
	}

	existing, err = s.chats.GetByProjectID(ctx, req.ProjectID)
	if err != nil {
		return nil, false, apperr.Wrap(err, "get chat after concurrent create")
	}
	return existing, false, nil
}

func (s *ChatService) join(ctx context.Context, chat *models.Chat, callerID uuid.UUID, req models.CreateChatRequest) (*models.ChatResponse, error) {
	inserted, err := s.members.InsertMissing(ctx, s.membersFor(chat.ID, callerID, req, s.now().UTC()))
	if err != nil {
		return nil, apperr.Wrap(err, "add chat members")
	}
	if inserted > 0 {
		callctx.Logger(ctx).Info().
			Str("chatId", chat.ID.String()).
			Int("added", inserted).
			Msg("members joined chat")
	}
	return s.response(ctx, chat)
}

// membersFor builds the caller and manager rows; a caller who is also the
// manager yields one row.
func (s *ChatService) membersFor(chatID, callerID uuid.UUID, req models.CreateChatRequest, now time.Time) []models.Member {
	members := []models.Member{
		{ID: uuid.New(), ChatID: chatID, UserID: callerID, Username: req.UserName, JoinedAt: now},
		{ID: uuid.New(), ChatID: chatID, UserID: req.ManagerID, Username: req.ManagerName, JoinedAt: now},
	}
	return lo.UniqBy(members, func(m models.Member) uuid.UUID { return m.UserID })
}

// GetChatByProject returns the project's chat if the caller is a member.
func (s *ChatService) GetChatByProject(ctx context.Context, callerID, projectID uuid.UUID) (*models.ChatResponse, error) {
	chat, err := s.chats.GetByProjectID(ctx, projectID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ChatNotFound(projectID.String())
	}
	if err != nil {
		return nil, apperr.Wrap(err, "get chat by project")
	}
	if err := s.requireMember(ctx, chat.ID, callerID); err != nil {
		return nil, err
	}
	return s.response(ctx, chat)
}

// CheckAccess succeeds only when the chat exists and userID is a member.
func (s *ChatService) CheckAccess(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.chats.GetByID(ctx, chatID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(chatID.String(), "Chat")
	}
	if err != nil {
		return apperr.Wrap(err, "get chat")
	}
	return s.requireMember(ctx, chatID, userID)
}

// Members lists the chat's members for a caller who is one of them.
func (s *ChatService) Members(ctx context.Context, chatID, callerID uuid.UUID) ([]models.Member, error) {
	if err := s.CheckAccess(ctx, chatID, callerID); err != nil {
		return nil, err
	}
	members, err := s.members.ListByChat(ctx, chatID)
	if err != nil {
		return nil, apperr.Wrap(err, "list chat members")
	}
	return members, nil
}

func (s *ChatService) requireMember(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.members.GetByUserAndChat(ctx, userID, chatID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NoAccess(chatID.String(), userID.String())
	}
	if err != nil {
		return apperr.Wrap(err, "get chat member")
	}
	return nil
}

func (s *ChatService) response(ctx context.Context, chat *models.Chat) (*models.ChatResponse, error) {
	resp := &models.ChatResponse{ChatID: chat.ID, ProjectID: chat.ProjectID}
	last, err := s.messages.LastByChat(ctx, chat.ID)
	switch {
	case err == nil:
		resp.LastMessage = lo.ToPtr(last.Content)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperr.Wrap(err, "get last message")
	}
	return resp, nil
}
