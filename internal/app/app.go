package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avoskin/bookgate/internal/config"
	"github.com/avoskin/bookgate/internal/janitor"
	"github.com/avoskin/bookgate/internal/postgres"
	redisx "github.com/avoskin/bookgate/internal/redis"
	postgresrepo "github.com/avoskin/bookgate/internal/repository/postgres"
	redisrepo "github.com/avoskin/bookgate/internal/repository/redis"
	"github.com/avoskin/bookgate/internal/service"
	"github.com/avoskin/bookgate/internal/service/booking"
	httpgin "github.com/avoskin/bookgate/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	janitor    *janitor.Janitor
	pubsub     *redisx.EventsPubSub
	cache      *redisrepo.Cache
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redisx.New(context.Background(), redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	pubsub := redisx.NewEventsPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(
		rdb, "rl", cfg.RateLimit.Limit, cfg.RateLimit.Window,
	)

	// Initialize services
	services := service.NewServices(store, cache, pubsub, logger, service.Config{
		Booking: booking.Config{
			WaitTimeout: cfg.Idempotency.WaitTimeout,
		},
		LedgerRetention: cfg.Idempotency.Retention,
	})

	jan := janitor.New(
		store.Ledger().WithRetention(cfg.Idempotency.Retention),
		cfg.Idempotency.JanitorInterval,
		cfg.Idempotency.StaleAfter,
		logger,
	)

	// Initialize Gin router
	router := httpgin.NewRouter(services, limiter, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		janitor: jan,
		pubsub:  pubsub,
		cache:   cache,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Ledger janitor
	g.Go(func() error {
		if err := a.janitor.Run(gCtx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	// Drop cached availability when another node changes an event
	g.Go(func() error {
		err := a.pubsub.Subscribe(gCtx, func(ctx context.Context, eventID int64) {
			_ = a.cache.InvalidateEvent(ctx, eventID)
		})
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
