package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avoskin/bookgate/internal/domain"
	redisx "github.com/avoskin/bookgate/internal/redis"
	"github.com/avoskin/bookgate/internal/repository"
	redisrepo "github.com/avoskin/bookgate/internal/repository/redis"
	"github.com/google/uuid"
)

// EventStore is the admission side of the event state: Admit is the atomic
// test-and-increment against one event's capacity.
type EventStore interface {
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
	Admit(ctx context.Context, eventID, userID int64) (*domain.Booking, error)
}

type BookingStore interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Booking, bool, error)
}

// Ledger is the idempotency ledger: Reserve admits exactly one caller per
// key, Complete publishes the terminal outcome, Release makes a key
// retryable after the holder failed.
type Ledger interface {
	Lookup(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	Reserve(ctx context.Context, key, fingerprint string) (*domain.IdempotencyRecord, bool, error)
	Complete(ctx context.Context, key string, out domain.Outcome) error
	Release(ctx context.Context, key string) error
}

type Config struct {
	// WaitTimeout bounds how long a caller waits for another holder of the
	// same key to finish before being told to retry.
	WaitTimeout time.Duration
	// PollInterval is the initial backoff step while waiting; it doubles up
	// to WaitTimeout.
	PollInterval time.Duration
}

type Service struct {
	events   EventStore
	bookings BookingStore
	ledger   Ledger
	cache    *redisrepo.Cache
	pubsub   *redisx.EventsPubSub
	logger   *slog.Logger
	cfg      Config
}

func New(
	events EventStore,
	bookings BookingStore,
	ledger Ledger,
	cache *redisrepo.Cache,
	pubsub *redisx.EventsPubSub,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 2 * time.Second
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 25 * time.Millisecond
	}

	return &Service{
		events:   events,
		bookings: bookings,
		ledger:   ledger,
		cache:    cache,
		pubsub:   pubsub,
		logger:   logger,
		cfg:      cfg,
	}
}

// Result is the terminal response for a booking request. Replayed is true
// when the outcome was served from the ledger instead of being computed.
type Result struct {
	Booking  *domain.Booking
	Replayed bool
}

// Book handles one booking request end to end: reserve the idempotency key,
// admit against capacity, record the outcome, respond. Retries with the same
// key and body get the recorded outcome verbatim; a reused key with a
// different body gets ErrKeyReused. Without a key every call is a fresh
// attempt.
//
// Returns:
//   - Result: the booking (possibly replayed) on success.
//   - error: ErrEventNotFound, ErrCapacityExceeded, ErrKeyReused,
//     ErrReservationInFlight, or a wrapped transient store error.
func (s *Service) Book(ctx context.Context, userID, eventID int64, idemKey string) (Result, error) {
	const op = "service.booking.Book"

	if userID <= 0 || eventID <= 0 {
		return Result{}, fmt.Errorf("%s:%w", op, ErrInvalidRequest)
	}

	if _, err := s.events.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Result{}, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return Result{}, fmt.Errorf("%s:%w", op, err)
	}

	if idemKey == "" {
		b, err := s.admit(ctx, "", userID, eventID)
		if err != nil {
			return Result{}, fmt.Errorf("%s:%w", op, err)
		}
		return Result{Booking: b}, nil
	}

	fp := Fingerprint(userID, eventID)

	// A released key (holder failed) becomes reservable again, so one extra
	// pass covers the wait-then-release interleaving.
	for attempt := 0; attempt < 2; attempt++ {
		rec, acquired, err := s.ledger.Reserve(ctx, idemKey, fp)
		if err != nil {
			if errors.Is(err, repository.ErrFingerprintMismatch) {
				return Result{}, fmt.Errorf("%s:%w", op, ErrKeyReused)
			}
			return Result{}, fmt.Errorf("%s:%w", op, err)
		}

		if acquired {
			b, err := s.admit(ctx, idemKey, userID, eventID)
			if err != nil {
				return Result{}, fmt.Errorf("%s:%w", op, err)
			}
			return Result{Booking: b}, nil
		}

		if rec.Completed() {
			res, err := s.replay(ctx, rec)
			if err != nil {
				return res, fmt.Errorf("%s:%w", op, err)
			}
			return res, nil
		}

		rec, err = s.awaitOutcome(ctx, idemKey)
		if err != nil {
			return Result{}, fmt.Errorf("%s:%w", op, err)
		}
		if rec != nil {
			res, err := s.replay(ctx, rec)
			if err != nil {
				return res, fmt.Errorf("%s:%w", op, err)
			}
			return res, nil
		}
		// The holder released the key; reserve again.
	}

	return Result{}, fmt.Errorf("%s:%w", op, ErrReservationInFlight)
}

// admit runs the capacity decision for the caller that owns the key (or for
// a keyless request) and records the outcome. On a transient failure the
// provisional record is released so the retry is not poisoned.
func (s *Service) admit(ctx context.Context, idemKey string, userID, eventID int64) (*domain.Booking, error) {
	b, err := s.events.Admit(ctx, eventID, userID)

	switch {
	case err == nil:
		if idemKey != "" {
			out := domain.Outcome{Code: http.StatusCreated, BookingID: b.ID}
			if cerr := s.ledger.Complete(ctx, idemKey, out); cerr != nil {
				// The booking exists and the seat is taken; the client still
				// gets its outcome, the janitor reaps the pending record.
				s.logger.Warn("failed to complete idempotency record",
					"key", idemKey, "error", cerr)
			}
		}
		s.eventChanged(ctx, eventID)
		return b, nil

	case errors.Is(err, repository.ErrCapacityExceeded):
		if idemKey != "" {
			out := domain.Outcome{
				Code:   http.StatusConflict,
				Reason: domain.ReasonCapacityExceeded,
			}
			if cerr := s.ledger.Complete(ctx, idemKey, out); cerr != nil {
				_ = s.ledger.Release(ctx, idemKey)
			}
		}
		return nil, ErrCapacityExceeded

	case errors.Is(err, repository.ErrNotFound):
		if idemKey != "" {
			_ = s.ledger.Release(ctx, idemKey)
		}
		return nil, ErrEventNotFound

	default:
		if idemKey != "" {
			_ = s.ledger.Release(ctx, idemKey)
		}
		return nil, err
	}
}

// replay reconstructs the response recorded for a completed key.
func (s *Service) replay(ctx context.Context, rec *domain.IdempotencyRecord) (Result, error) {
	if rec.Status == domain.ReservationFailed {
		if rec.Outcome.Reason == domain.ReasonCapacityExceeded {
			return Result{Replayed: true}, ErrCapacityExceeded
		}
		return Result{Replayed: true}, errors.New(rec.Outcome.Reason)
	}

	b, err := s.bookings.GetBooking(ctx, rec.Outcome.BookingID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return Result{}, err
		}
		// The booking row is gone but the recorded reference still stands.
		s.logger.Warn("replaying outcome without booking row",
			"key", rec.Key, "booking_id", rec.Outcome.BookingID)
		b = &domain.Booking{
			ID:        rec.Outcome.BookingID,
			Status:    domain.BookingConfirmed,
			CreatedAt: rec.CreatedAt,
		}
	}

	return Result{Booking: b, Replayed: true}, nil
}

// awaitOutcome polls the ledger with exponential backoff until the in-flight
// holder completes or releases the key, or the bounded wait runs out.
// Returns (nil, nil) when the key was released.
func (s *Service) awaitOutcome(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	deadline := time.Now().Add(s.cfg.WaitTimeout)
	backoff := s.cfg.PollInterval

	for {
		rec, err := s.ledger.Lookup(ctx, key)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}

		if rec.Completed() {
			return rec, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrReservationInFlight
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		if backoff *= 2; backoff > s.cfg.WaitTimeout {
			backoff = s.cfg.WaitTimeout
		}
	}
}

// Cancel flips a booking to canceled, freeing its seat. Repeating a cancel
// replays the canceled booking.
//
// Returns:
//   - *domain.Booking: the canceled booking.
//   - error: ErrBookingNotFound if the booking does not exist.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "service.booking.Cancel"

	b, already, err := s.bookings.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if !already {
		s.eventChanged(ctx, b.EventID)
	}

	return b, nil
}

// ListUserBookings returns all bookings made by the user.
func (s *Service) ListUserBookings(ctx context.Context, userID int64) ([]domain.Booking, error) {
	const op = "service.booking.ListUserBookings"

	out, err := s.bookings.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (s *Service) eventChanged(ctx context.Context, eventID int64) {
	if s.cache != nil {
		_ = s.cache.InvalidateEvent(ctx, eventID)
	}
	if s.pubsub != nil {
		_ = s.pubsub.PublishEventChanged(ctx, eventID)
	}
}
