package service

import (
	"log/slog"
	"time"

	redisx "github.com/avoskin/bookgate/internal/redis"
	postgresrepo "github.com/avoskin/bookgate/internal/repository/postgres"
	redisrepo "github.com/avoskin/bookgate/internal/repository/redis"
	"github.com/avoskin/bookgate/internal/service/booking"
	"github.com/avoskin/bookgate/internal/service/catalog"
)

type Services struct {
	Booking *booking.Service
	Catalog *catalog.Service
}

type Config struct {
	Booking         booking.Config
	Catalog         catalog.Config
	LedgerRetention time.Duration
}

func NewServices(
	store *postgresrepo.Store,
	cache *redisrepo.Cache,
	pubsub *redisx.EventsPubSub,
	logger *slog.Logger,
	cfg Config,
) *Services {
	events := store.Events()
	ledger := store.Ledger()
	if cfg.LedgerRetention > 0 {
		ledger = ledger.WithRetention(cfg.LedgerRetention)
	}

	return &Services{
		Booking: booking.New(events, store.Bookings(), ledger, cache, pubsub, logger, cfg.Booking),
		Catalog: catalog.New(events, cache, cfg.Catalog),
	}
}
