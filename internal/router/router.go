package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"chat-service/internal/handlers"
	"chat-service/internal/metrics"
	"chat-service/internal/middleware"
	"chat-service/internal/websocket"
)

type Deps struct {
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	Identity    *middleware.IdentityResolver
	RateLimiter *middleware.RateLimiter
	Chat        *handlers.ChatHandler
	Health      *handlers.HealthHandler
	WS          *websocket.Server
	Origins     []string
}

func New(d Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CallContext(d.Logger, d.Metrics, d.Identity))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-Initiator-Service"},
		ExposedHeaders:   []string{"X-Call-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", d.Health.Health)
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/chat", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(30 * time.Second))
		r.Use(d.RateLimiter.Middleware)
		r.Use(d.Identity.Middleware)
		r.Post("/create", d.Chat.Create)
		r.Get("/{projectId}", d.Chat.GetByProject)
		r.Get("/{projectId}/members", d.Chat.Members)
	})

	// Protocol endpoint; /ws is kept for clients of the older path.
	r.Get("/rsocket", d.WS.HandleWebSocket)
	r.Get("/ws", d.WS.HandleWebSocket)

	return r
}
