package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avoskin/bookgate/internal/domain"
	"github.com/avoskin/bookgate/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// GetBooking retrieves a booking by its ID.
//
// Returns:
//   - *domain.Booking: the booking when found.
//   - error: repository.ErrNotFound if the booking is not found.
func (r *BookingRepo) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.GetBooking"

	db := r.handle()

	var b domain.Booking
	err := db.QueryRow(ctx,
		`SELECT id, event_id, user_id, status, created_at, canceled_at
       	 FROM bookings WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.EventID, &b.UserID, &b.Status, &b.CreatedAt, &b.CanceledAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &b, nil
}

// ListByUser lists a user's bookings, most recent first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Booking, error) {
	const op = "postgres.BookingRepo.ListByUser"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, event_id, user_id, status, created_at, canceled_at
       	 FROM bookings
      	 WHERE user_id = $1
      	 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.EventID, &b.UserID, &b.Status, &b.CreatedAt, &b.CanceledAt); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

// Cancel flips a confirmed booking to canceled and frees its seat in one
// transaction. Canceling an already-canceled booking is a no-op that returns
// the booking unchanged.
//
// Returns:
//   - *domain.Booking: the booking after the call.
//   - bool: true when the booking was already canceled.
//   - error: repository.ErrNotFound if the booking does not exist.
func (r *BookingRepo) Cancel(ctx context.Context, id uuid.UUID) (*domain.Booking, bool, error) {
	const op = "postgres.BookingRepo.Cancel"

	if r.db != nil {
		b, already, err := r.cancelCore(ctx, r.db, id)
		if err != nil {
			return nil, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return b, already, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	b, already, err := r.cancelCore(ctx, tx, id)
	if err != nil {
		return nil, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return b, already, nil
}

func (r *BookingRepo) cancelCore(ctx context.Context, db DB, id uuid.UUID) (*domain.Booking, bool, error) {
	now := time.Now()

	var b domain.Booking
	err := db.QueryRow(ctx,
		`UPDATE bookings
         SET status = $2, canceled_at = $3
      	 WHERE id = $1 AND status = $4
      	 RETURNING id, event_id, user_id, status, created_at, canceled_at`,
		id, domain.BookingCanceled, now, domain.BookingConfirmed,
	).Scan(&b.ID, &b.EventID, &b.UserID, &b.Status, &b.CreatedAt, &b.CanceledAt)
	if err == nil {
		if _, err := db.Exec(ctx,
			`UPDATE events
             SET booked = booked - 1
          	 WHERE id = $1 AND booked > 0`,
			b.EventID,
		); err != nil {
			return nil, false, err
		}
		return &b, false, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	// Not confirmed: either already canceled or missing.
	err = db.QueryRow(ctx,
		`SELECT id, event_id, user_id, status, created_at, canceled_at
       	 FROM bookings WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.EventID, &b.UserID, &b.Status, &b.CreatedAt, &b.CanceledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, repository.ErrNotFound
		}
		return nil, false, err
	}

	return &b, true, nil
}
