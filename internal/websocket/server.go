// Package websocket serves the chat protocol: JSON request frames over one
// websocket connection per client, answered by single payloads or by
// streams that run until the client cancels them or disconnects.
package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-service/internal/apperr"
	"chat-service/internal/callctx"
	"chat-service/internal/metrics"
	"chat-service/internal/models"
	"chat-service/internal/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

type accessChecker interface {
	CheckAccess(ctx context.Context, chatID, userID uuid.UUID) error
}

type messageHub interface {
	SendMessage(ctx context.Context, chatID, senderID uuid.UUID, content string) (*models.Message, error)
	Subscribe(ctx context.Context, chatID uuid.UUID) (*services.Subscription, error)
	GetHistory(ctx context.Context, chatID uuid.UUID) ([]models.Message, error)
	LoadMoreHistory(ctx context.Context, chatID uuid.UUID, before time.Time, limit int) ([]models.Message, error)
	LastMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error)
}

type identityResolver interface {
	Resolve(r *http.Request) (uuid.UUID, error)
}

// Server upgrades HTTP requests and runs one session per connection.
type Server struct {
	chats    accessChecker
	messages messageHub
	identity identityResolver
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
	routes   map[string]route
}

type Config struct {
	// AllowedOrigins limits browser origins; empty or "*" allows any.
	AllowedOrigins []string
}

func NewServer(chats accessChecker, messages messageHub, identity identityResolver, validate *validator.Validate, m *metrics.Metrics, log zerolog.Logger, cfg Config) *Server {
	s := &Server{
		chats:    chats,
		messages: messages,
		identity: identity,
		validate: validate,
		metrics:  m,
		log:      log.With().Str("component", "websocket").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
	s.routes = s.routeTable()
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWebSocket asserts the caller identity once, upgrades the connection
// and serves frames until the client goes away.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := s.identity.Resolve(r)
	if err != nil {
		apperr.WriteHTTP(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		callctx.Logger(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := newSession(s, conn, userID, r.Header.Get(callctx.HeaderInitiatorService))
	s.metrics.ConnectionOpened()
	s.log.Info().Str("userId", userID.String()).Str("remote", r.RemoteAddr).Msg("websocket connected")

	sess.run()

	s.metrics.ConnectionClosed()
	s.log.Info().Str("userId", userID.String()).Msg("websocket disconnected")
}
