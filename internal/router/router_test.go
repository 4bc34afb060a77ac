package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-service/internal/database"
	"chat-service/internal/handlers"
	"chat-service/internal/metrics"
	"chat-service/internal/middleware"
	"chat-service/internal/repository"
	"chat-service/internal/services"
	"chat-service/internal/websocket"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	db, err := database.NewSQLite("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := services.Store{
		Chats:    repository.NewSQLiteChatRepo(db),
		Members:  repository.NewSQLiteMemberRepo(db),
		Messages: repository.NewSQLiteMessageRepo(db),
	}
	m := metrics.New()
	v := validator.New()
	chats := services.NewChatService(store)
	messages := services.NewMessageService(store.Messages, services.NewTopics(100, nil), nil, m, services.MessageConfig{})
	identity := middleware.NewIdentityResolver("")
	limiter := middleware.NewRateLimiter(100, time.Minute)
	t.Cleanup(limiter.Stop)

	return New(Deps{
		Logger:      zerolog.Nop(),
		Metrics:     m,
		Identity:    identity,
		RateLimiter: limiter,
		Chat:        handlers.NewChatHandler(chats, v),
		Health:      handlers.NewHealthHandler(map[string]handlers.Pinger{"database": db.PingContext}),
		WS:          websocket.NewServer(chats, messages, identity, v, m, zerolog.Nop(), websocket.Config{}),
		Origins:     []string{"http://localhost:5173"},
	})
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	h := newTestHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Call-Id"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `chat_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestRouter_ChatRoutesRequireUser(t *testing.T) {
	h := newTestHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/chat/"+uuid.NewString(), nil)
	req.Header.Set("X-User-Id", uuid.NewString())
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "OBJECT_NOT_FOUND_EXCEPTION")
}

func TestRouter_CORSPreflight(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodOptions, "/chat/create", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "X-User-Id")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
}
