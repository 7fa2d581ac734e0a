package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/avoskin/bookgate/internal/domain"
	"github.com/avoskin/bookgate/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *EventRepo) With(db DB) *EventRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *EventRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// CreateEvent inserts a new event with zero booked seats.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - e: event to create; Capacity must be positive.
//
// Returns:
//   - int64: the assigned event ID.
//   - error: repository.ErrConflict on a duplicate event.
func (r *EventRepo) CreateEvent(ctx context.Context, e *domain.Event) (int64, error) {
	const op = "postgres.EventRepo.CreateEvent"

	db := r.handle()

	var id int64
	err := db.QueryRow(ctx,
		`INSERT INTO events(name, venue, starts_at, capacity, booked)
       	 VALUES ($1, $2, $3, $4, 0)
       	 RETURNING id`,
		e.Name, e.Venue, e.Starts, e.Capacity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return id, nil
}

// GetEvent retrieves an event by its ID.
//
// Returns:
//   - *domain.Event: the event when found.
//   - error: repository.ErrNotFound if the event is not found.
func (r *EventRepo) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgres.EventRepo.GetEvent"

	db := r.handle()

	var e domain.Event
	err := db.QueryRow(ctx,
		`SELECT id, name, venue, starts_at, capacity, booked
       	 FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Name, &e.Venue, &e.Starts, &e.Capacity, &e.Booked)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &e, nil
}

// Admit is the serialization point for one event's capacity. The conditional
// update takes the event row lock, so no two callers can both observe the
// last free seat; the booking row is written in the same transaction, leaving
// no state where the counter moved without a booking.
//
// Returns:
//   - *domain.Booking: the confirmed booking when a seat was taken.
//   - error: repository.ErrCapacityExceeded when the event is full.
//   - error: repository.ErrNotFound if the event does not exist.
func (r *EventRepo) Admit(ctx context.Context, eventID, userID int64) (*domain.Booking, error) {
	const op = "postgres.EventRepo.Admit"

	if r.db != nil {
		b, err := r.admitCore(ctx, r.db, eventID, userID)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return b, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	b, err := r.admitCore(ctx, tx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return b, nil
}

func (r *EventRepo) admitCore(ctx context.Context, db DB, eventID, userID int64) (*domain.Booking, error) {
	tag, err := db.Exec(ctx,
		`UPDATE events
         SET booked = booked + 1
      	 WHERE id = $1 AND booked < capacity`,
		eventID,
	)
	if err != nil {
		return nil, err
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`,
			eventID,
		).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, repository.ErrNotFound
		}
		return nil, repository.ErrCapacityExceeded
	}

	b := &domain.Booking{
		ID:        uuid.New(),
		EventID:   eventID,
		UserID:    userID,
		Status:    domain.BookingConfirmed,
		CreatedAt: time.Now(),
	}

	if _, err := db.Exec(ctx,
		`INSERT INTO bookings(id, event_id, user_id, status, created_at)
       	 VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.EventID, b.UserID, b.Status, b.CreatedAt,
	); err != nil {
		return nil, err
	}

	return b, nil
}

// Release returns one seat to the event, used by the cancel path. The counter
// never goes below zero.
func (r *EventRepo) Release(ctx context.Context, eventID int64) error {
	const op = "postgres.EventRepo.Release"

	db := r.handle()

	_, err := db.Exec(ctx,
		`UPDATE events
         SET booked = booked - 1
      	 WHERE id = $1 AND booked > 0`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}
