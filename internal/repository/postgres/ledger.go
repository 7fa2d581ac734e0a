package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/avoskin/bookgate/internal/domain"
	"github.com/avoskin/bookgate/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepo is the idempotency ledger backed by the idempotency_records
// table. Atomicity of Reserve rests on the primary key: the first-wins
// INSERT ... ON CONFLICT DO NOTHING admits exactly one caller per key.
type LedgerRepo struct {
	pool      *pgxpool.Pool
	db        DB
	retention time.Duration
}

func (r *LedgerRepo) With(db DB) *LedgerRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *LedgerRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// WithRetention overrides how long completed records stay replayable.
func (r *LedgerRepo) WithRetention(d time.Duration) *LedgerRepo {
	cp := *r
	cp.retention = d
	return &cp
}

func (r *LedgerRepo) ttl() time.Duration {
	if r.retention > 0 {
		return r.retention
	}
	return 48 * time.Hour
}

// Lookup returns the record for a key without side effects.
//
// Returns:
//   - error: repository.ErrNotFound if the key has never been reserved.
func (r *LedgerRepo) Lookup(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	const op = "postgres.LedgerRepo.Lookup"

	db := r.handle()

	rec, err := r.scanRecord(ctx, db, key)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return rec, nil
}

// Reserve atomically claims a key for the caller.
//
// Returns:
//   - acquired=true with the provisional record when the caller won the key
//     and owns the right to compute the outcome.
//   - acquired=false with the existing record when the key is already held or
//     completed with the same fingerprint.
//   - error: repository.ErrFingerprintMismatch when the key exists with a
//     different fingerprint; the stored record is never touched.
func (r *LedgerRepo) Reserve(ctx context.Context, key, fingerprint string) (*domain.IdempotencyRecord, bool, error) {
	const op = "postgres.LedgerRepo.Reserve"

	db := r.handle()

	now := time.Now()
	tag, err := db.Exec(ctx,
		`INSERT INTO idempotency_records(key, fingerprint, status, created_at, expires_at)
       	 VALUES ($1, $2, $3, $4, $5)
       	 ON CONFLICT (key) DO NOTHING`,
		key, fingerprint, domain.ReservationPending, now, now.Add(r.ttl()),
	)
	if err != nil {
		return nil, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 1 {
		return &domain.IdempotencyRecord{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      domain.ReservationPending,
			CreatedAt:   now,
			ExpiresAt:   now.Add(r.ttl()),
		}, true, nil
	}

	rec, err := r.scanRecord(ctx, db, key)
	if err != nil {
		return nil, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if rec.Fingerprint != fingerprint {
		return nil, false, fmt.Errorf("%s:%w", op, repository.ErrFingerprintMismatch)
	}

	return rec, false, nil
}

// Complete attaches the terminal outcome to a provisional record, making it
// visible to every subsequent Lookup and Reserve.
//
// Returns:
//   - error: repository.ErrNotPending if the record is missing or already
//     completed.
func (r *LedgerRepo) Complete(ctx context.Context, key string, out domain.Outcome) error {
	const op = "postgres.LedgerRepo.Complete"

	db := r.handle()

	status := domain.ReservationSucceeded
	if out.Reason != "" {
		status = domain.ReservationFailed
	}

	var bookingID *uuid.UUID
	if out.BookingID != uuid.Nil {
		bookingID = &out.BookingID
	}

	tag, err := db.Exec(ctx,
		`UPDATE idempotency_records
         SET status = $2, response_code = $3, booking_id = $4, reason = $5
      	 WHERE key = $1 AND status = $6`,
		key, status, out.Code, bookingID, out.Reason, domain.ReservationPending,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotPending)
	}

	return nil
}

// Release removes a provisional record so the key becomes retryable. Records
// that already carry an outcome are left alone.
func (r *LedgerRepo) Release(ctx context.Context, key string) error {
	const op = "postgres.LedgerRepo.Release"

	db := r.handle()

	_, err := db.Exec(ctx,
		`DELETE FROM idempotency_records
      	 WHERE key = $1 AND status = $2`,
		key, domain.ReservationPending,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// ReleaseStale removes provisional records older than the cutoff. This is the
// repair path for holders that crashed between Reserve and Complete.
func (r *LedgerRepo) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	const op = "postgres.LedgerRepo.ReleaseStale"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`DELETE FROM idempotency_records
      	 WHERE status = $1 AND created_at <= $2`,
		domain.ReservationPending, olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected(), nil
}

// DeleteExpired garbage-collects completed records past their retention
// window.
func (r *LedgerRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "postgres.LedgerRepo.DeleteExpired"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`DELETE FROM idempotency_records
      	 WHERE status <> $1 AND expires_at <= $2`,
		domain.ReservationPending, now,
	)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected(), nil
}

func (r *LedgerRepo) scanRecord(ctx context.Context, db DB, key string) (*domain.IdempotencyRecord, error) {
	var (
		rec       domain.IdempotencyRecord
		code      *int
		bookingID *uuid.UUID
		reason    *string
	)

	err := db.QueryRow(ctx,
		`SELECT key, fingerprint, status, response_code, booking_id, reason, created_at, expires_at
       	 FROM idempotency_records WHERE key = $1`,
		key,
	).Scan(&rec.Key, &rec.Fingerprint, &rec.Status, &code, &bookingID, &reason, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, err
	}

	if code != nil {
		rec.Outcome.Code = *code
	}
	if bookingID != nil {
		rec.Outcome.BookingID = *bookingID
	}
	if reason != nil {
		rec.Outcome.Reason = *reason
	}

	return &rec, nil
}
