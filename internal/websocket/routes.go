package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"chat-service/internal/apperr"
	"chat-service/internal/models"
	"chat-service/internal/services"
)

const (
	RouteSend        = "send"
	RouteSubscribe   = "subscribe"
	RouteHistory     = "history"
	RouteLoadHistory = "loadHistory"
	RouteLastMessage = "lastMessage"
)

// route binds a name to its interaction model. Exactly one of respond and
// stream is set.
type route struct {
	model   string
	respond func(ctx context.Context, s *session, data json.RawMessage) (interface{}, error)
	stream  func(ctx context.Context, s *session, data json.RawMessage) (*services.Subscription, error)
}

// routeTable checks chat access before every delegate runs.
func (srv *Server) routeTable() map[string]route {
	return map[string]route{
		RouteSend: {
			model: models.FrameRequestResponse,
			respond: func(ctx context.Context, s *session, data json.RawMessage) (interface{}, error) {
				var req models.MessageRequest
				if err := s.decode(data, &req); err != nil {
					return nil, err
				}
				if err := s.authorize(ctx, req.ChatID, req.UserID); err != nil {
					return nil, err
				}
				return srv.messages.SendMessage(ctx, req.ChatID, s.userID, req.Content)
			},
		},
		RouteSubscribe: {
			model: models.FrameRequestStream,
			stream: func(ctx context.Context, s *session, data json.RawMessage) (*services.Subscription, error) {
				var req models.ChatAccessRequest
				if err := s.decode(data, &req); err != nil {
					return nil, err
				}
				if err := s.authorize(ctx, req.ChatID, req.UserID); err != nil {
					return nil, err
				}
				return srv.messages.Subscribe(ctx, req.ChatID)
			},
		},
		RouteHistory: {
			model: models.FrameRequestResponse,
			respond: func(ctx context.Context, s *session, data json.RawMessage) (interface{}, error) {
				var req models.ChatAccessRequest
				if err := s.decode(data, &req); err != nil {
					return nil, err
				}
				if err := s.authorize(ctx, req.ChatID, req.UserID); err != nil {
					return nil, err
				}
				return srv.messages.GetHistory(ctx, req.ChatID)
			},
		},
		RouteLoadHistory: {
			model: models.FrameRequestResponse,
			respond: func(ctx context.Context, s *session, data json.RawMessage) (interface{}, error) {
				var req models.HistoryRequest
				if err := s.decode(data, &req); err != nil {
					return nil, err
				}
				if err := s.authorize(ctx, req.ChatID, req.UserID); err != nil {
					return nil, err
				}
				return srv.messages.LoadMoreHistory(ctx, req.ChatID, req.BeforeTimestamp.Time, req.Limit)
			},
		},
		RouteLastMessage: {
			model: models.FrameRequestResponse,
			respond: func(ctx context.Context, s *session, data json.RawMessage) (interface{}, error) {
				var req models.ChatAccessRequest
				if err := s.decode(data, &req); err != nil {
					return nil, err
				}
				if err := s.authorize(ctx, req.ChatID, req.UserID); err != nil {
					return nil, err
				}
				return srv.messages.LastMessage(ctx, req.ChatID)
			},
		},
	}
}

func (s *session) decode(data json.RawMessage, dst interface{}) error {
	if len(data) == 0 {
		return apperr.WithStatus(http.StatusBadRequest, "Missing frame data", nil)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperr.WithStatus(http.StatusBadRequest, "Invalid frame data", err)
	}
	if err := s.srv.validate.Struct(dst); err != nil {
		return apperr.WithStatus(http.StatusBadRequest, "Invalid frame data", err)
	}
	return nil
}

// authorize rejects a payload userId other than the connection identity,
// then requires membership of the connection user in the chat.
func (s *session) authorize(ctx context.Context, chatID, payloadUserID uuid.UUID) error {
	if payloadUserID != uuid.Nil && payloadUserID != s.userID {
		return apperr.NoAccess(chatID.String(), payloadUserID.String())
	}
	return s.srv.chats.CheckAccess(ctx, chatID, s.userID)
}
