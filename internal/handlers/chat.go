package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"chat-service/internal/apperr"
	"chat-service/internal/middleware"
	"chat-service/internal/models"
)

type chatService interface {
	CreateChat(ctx context.Context, callerID uuid.UUID, req models.CreateChatRequest) (*models.ChatResponse, error)
	CreateChatStrict(ctx context.Context, callerID uuid.UUID, req models.CreateChatRequest) (*models.ChatResponse, error)
	GetChatByProject(ctx context.Context, callerID, projectID uuid.UUID) (*models.ChatResponse, error)
	Members(ctx context.Context, chatID, callerID uuid.UUID) ([]models.Member, error)
}

type ChatHandler struct {
	chats    chatService
	validate *validator.Validate
}

func NewChatHandler(chats chatService, validate *validator.Validate) *ChatHandler {
	return &ChatHandler{chats: chats, validate: validate}
}

// Create handles POST /chat/create. With ?strict=true an existing chat is
// reported as CHAT_ALREADY_EXIST_EXCEPTION instead of being joined.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChatRequest
	if err := decodeBody(r, h.validate, &req); err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}

	strict := false
	if raw := r.URL.Query().Get("strict"); raw != "" {
		var err error
		if strict, err = strconv.ParseBool(raw); err != nil {
			apperr.WriteHTTP(w, r, apperr.WithStatus(http.StatusBadRequest, "Invalid strict parameter", err))
			return
		}
	}

	create := h.chats.CreateChat
	if strict {
		create = h.chats.CreateChatStrict
	}
	resp, err := create(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetByProject handles GET /chat/{projectId}.
func (h *ChatHandler) GetByProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectId"))
	if err != nil {
		apperr.WriteHTTP(w, r, apperr.WithStatus(http.StatusBadRequest, "Invalid project ID", err))
		return
	}

	resp, err := h.chats.GetChatByProject(r.Context(), middleware.GetUserID(r.Context()), projectID)
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Members handles GET /chat/{projectId}/members.
func (h *ChatHandler) Members(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectId"))
	if err != nil {
		apperr.WriteHTTP(w, r, apperr.WithStatus(http.StatusBadRequest, "Invalid project ID", err))
		return
	}

	callerID := middleware.GetUserID(r.Context())
	chat, err := h.chats.GetChatByProject(r.Context(), callerID, projectID)
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}

	members, err := h.chats.Members(r.Context(), chat.ChatID, callerID)
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, members)
}
