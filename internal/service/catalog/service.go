package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avoskin/bookgate/internal/domain"
	"github.com/avoskin/bookgate/internal/repository"
	redisrepo "github.com/avoskin/bookgate/internal/repository/redis"
)

type EventStore interface {
	CreateEvent(ctx context.Context, e *domain.Event) (int64, error)
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
}

type Config struct {
	EventSummaryTTL time.Duration
	AvailabilityTTL time.Duration
}

type Service struct {
	store EventStore
	cache *redisrepo.Cache
	cfg   Config
}

func New(store EventStore, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.EventSummaryTTL <= 0 {
		cfg.EventSummaryTTL = 60 * time.Second
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 5 * time.Second
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

// CreateEvent registers a new event with a fixed capacity.
//
// Returns:
//   - int64: the ID of the created event.
//   - error: catalog.ErrInvalidCapacity if capacity is not positive.
//   - error: catalog.ErrEventConflict on a duplicate event.
func (s *Service) CreateEvent(ctx context.Context, name, venue string, starts time.Time, capacity int64) (int64, error) {
	const op = "service.catalog.CreateEvent"

	if capacity < 1 {
		return 0, fmt.Errorf("%s:%w", op, ErrInvalidCapacity)
	}

	id, err := s.store.CreateEvent(ctx, &domain.Event{
		Name:     name,
		Venue:    venue,
		Starts:   starts,
		Capacity: capacity,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return 0, fmt.Errorf("%s:%w", op, ErrEventConflict)
		}
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return id, nil
}

// GetEvent retrieves an event by its ID through the summary cache.
//
// Returns:
//   - *domain.Event: the event when found.
//   - error: catalog.ErrEventNotFound if the event is not found.
func (s *Service) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "service.catalog.GetEvent"

	load := func(ctx context.Context) (domain.Event, error) {
		e, err := s.store.GetEvent(ctx, id)
		if err != nil {
			return domain.Event{}, err
		}
		return *e, nil
	}

	var (
		event domain.Event
		err   error
	)

	if s.cache != nil {
		event, err = redisrepo.GetOrSetJSON(
			ctx,
			s.cache,
			redisrepo.KeyEventSummary(id),
			s.cfg.EventSummaryTTL,
			load,
		)
	} else {
		event, err = load(ctx)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &event, nil
}

// Availability returns the live seat counters for an event. Reads go through
// a short-TTL cache that admissions and cancels invalidate.
func (s *Service) Availability(ctx context.Context, id int64) (*domain.Availability, error) {
	const op = "service.catalog.Availability"

	load := func(ctx context.Context) (domain.Availability, error) {
		e, err := s.store.GetEvent(ctx, id)
		if err != nil {
			return domain.Availability{}, err
		}
		return domain.Availability{
			Capacity:  e.Capacity,
			Booked:    e.Booked,
			Available: e.Available(),
		}, nil
	}

	var (
		av  domain.Availability
		err error
	)

	if s.cache != nil {
		av, err = redisrepo.GetOrSetJSON(
			ctx,
			s.cache,
			redisrepo.KeyEventAvailability(id),
			s.cfg.AvailabilityTTL,
			load,
		)
	} else {
		av, err = load(ctx)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &av, nil
}
