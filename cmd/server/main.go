package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chat-service/internal/config"
	"chat-service/internal/database"
	"chat-service/internal/handlers"
	"chat-service/internal/metrics"
	"chat-service/internal/middleware"
	"chat-service/internal/repository"
	"chat-service/internal/router"
	"chat-service/internal/services"
	"chat-service/internal/websocket"
	"chat-service/internal/worker"
)

func main() {
	// ──── Step 1: Load Configuration ────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	logger.Info().Str("env", cfg.Env).Msg("starting chat service")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("chat service stopped")
	}
	logger.Info().Msg("chat service stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().
		Timestamp().
		Str("service", cfg.InitiatorService).
		Logger()
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: Open the Message Store ────
	store, healthChecks, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	topics := services.NewTopics(cfg.ReplaySize, func(chatID uuid.UUID, missed uint64) {
		m.RecordLag(missed)
		logger.Warn().Str("chatId", chatID.String()).Uint64("missed", missed).Msg("subscriber lagged behind replay buffer")
	})
	defer topics.Close()

	g, gctx := errgroup.WithContext(ctx)

	// ──── Step 3: Connect the Redis Relay (optional) ────
	var publisher services.Publisher
	if cfg.RedisURL != "" {
		redisClients, err := database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClients.Close()

		publisher = services.NewRedisPublisher(redisClients.Publish, cfg.RedisChannelPrefix)
		healthChecks["redis"] = func(ctx context.Context) error { return redisClients.Publish.Ping(ctx).Err() }

		relay := worker.NewRelay(redisClients.PubSub, topics, cfg.RedisChannelPrefix, logger)
		g.Go(func() error { return relay.Run(gctx) })
		logger.Info().Str("prefix", cfg.RedisChannelPrefix).Msg("redis relay enabled")
	}

	// ──── Step 4: Initialize Services ────
	chatService := services.NewChatService(store)
	messageService := services.NewMessageService(store.Messages, topics, publisher, m, services.MessageConfig{
		HistoryLimit:    cfg.HistoryLimit,
		MaxHistoryLimit: cfg.MaxHistoryLimit,
	})

	janitor := worker.NewJanitor(topics, cfg.TopicIdleTTL, cfg.JanitorInterval, m, logger)
	janitor.Start()
	defer janitor.Stop()

	// ──── Step 5: Build HTTP and Protocol Endpoints ────
	validate := validator.New()
	identity := middleware.NewIdentityResolver(cfg.JWTSecret)
	limiter := middleware.NewRateLimiter(cfg.RateLimit, time.Minute)
	defer limiter.Stop()

	handler := router.New(router.Deps{
		Logger:      logger,
		Metrics:     m,
		Identity:    identity,
		RateLimiter: limiter,
		Chat:        handlers.NewChatHandler(chatService, validate),
		Health:      handlers.NewHealthHandler(healthChecks),
		WS: websocket.NewServer(chatService, messageService, identity, validate, m, logger, websocket.Config{
			AllowedOrigins: cfg.AllowedOrigins(),
		}),
		Origins: cfg.AllowedOrigins(),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ──── Step 6: Serve until Signalled ────
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore connects the configured backend and returns its gateways, the
// health probes for /health and a close func.
func openStore(cfg *config.Config, logger zerolog.Logger) (services.Store, map[string]handlers.Pinger, func(), error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		db, err := database.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return services.Store{}, nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("sqlite store opened")
		return sqliteStore(db), map[string]handlers.Pinger{"database": db.PingContext}, func() { db.Close() }, nil

	default:
		pool, err := database.NewPostgresPool(cfg.DatabaseURL)
		if err != nil {
			return services.Store{}, nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := database.RunMigrations(pool, cfg.MigrationsDir, logger); err != nil {
			pool.Close()
			return services.Store{}, nil, nil, fmt.Errorf("migrations: %w", err)
		}
		logger.Info().Msg("postgres connected, migrations applied")
		return postgresStore(pool), map[string]handlers.Pinger{"database": pool.Ping}, pool.Close, nil
	}
}

func postgresStore(pool *pgxpool.Pool) services.Store {
	return services.Store{
		Chats:    repository.NewChatRepo(pool),
		Members:  repository.NewMemberRepo(pool),
		Messages: repository.NewMessageRepo(pool),
	}
}

func sqliteStore(db *sql.DB) services.Store {
	return services.Store{
		Chats:    repository.NewSQLiteChatRepo(db),
		Members:  repository.NewSQLiteMemberRepo(db),
		Messages: repository.NewSQLiteMessageRepo(db),
	}
}
