package models

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Chat is the single conversation attached to a project.
type Chat struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"projectId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Member links a user to a chat. (ChatID, UserID) is unique.
type Member struct {
	ID       uuid.UUID `json:"id"`
	ChatID   uuid.UUID `json:"chatId"`
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Message is append-only; only the read flag may change outside this service.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	ChatID    uuid.UUID  `json:"chatId"`
	SenderID  uuid.UUID  `json:"senderId"`
	Content   string     `json:"content"`
	IsRead    bool       `json:"isRead"`
	ReadAt    *time.Time `json:"readAt"`
	CreatedAt time.Time  `json:"createdAt"`
}

// CreateChatRequest is the body of POST /chat/create.
type CreateChatRequest struct {
	UserName    string    `json:"userName" validate:"required,max=255"`
	ManagerID   uuid.UUID `json:"managerId" validate:"required"`
	ManagerName string    `json:"managerName" validate:"required,max=255"`
	ProjectID   uuid.UUID `json:"projectId" validate:"required"`
}

// ChatResponse describes a chat together with its latest message content.
type ChatResponse struct {
	ChatID      uuid.UUID `json:"chatId"`
	ProjectID   uuid.UUID `json:"projectId"`
	LastMessage *string   `json:"lastMessage"`
}

// RelayEnvelope is what travels over the Redis relay: the message plus the
// call headers of the send that produced it.
type RelayEnvelope struct {
	Headers http.Header `json:"headers,omitempty"`
	Message Message     `json:"message"`
}
