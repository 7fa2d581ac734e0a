package memory

import (
	"context"
	"sync"
	"time"

	"github.com/avoskin/bookgate/internal/domain"
	"github.com/avoskin/bookgate/internal/repository"
)

// Ledger is the in-process idempotency ledger. One mutex guards the record
// table; Reserve admits exactly one caller per key, everyone else sees the
// existing record.
type Ledger struct {
	mu        sync.Mutex
	recs      map[string]*domain.IdempotencyRecord
	retention time.Duration
}

func NewLedger(retention time.Duration) *Ledger {
	if retention <= 0 {
		retention = 48 * time.Hour
	}

	return &Ledger{
		recs:      make(map[string]*domain.IdempotencyRecord),
		retention: retention,
	}
}

func (l *Ledger) Lookup(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.recs[key]
	if !ok {
		return nil, repository.ErrNotFound
	}

	cp := *rec
	return &cp, nil
}

func (l *Ledger) Reserve(_ context.Context, key, fingerprint string) (*domain.IdempotencyRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.recs[key]; ok {
		if rec.Fingerprint != fingerprint {
			return nil, false, repository.ErrFingerprintMismatch
		}
		cp := *rec
		return &cp, false, nil
	}

	now := time.Now()
	rec := &domain.IdempotencyRecord{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      domain.ReservationPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(l.retention),
	}
	l.recs[key] = rec

	cp := *rec
	return &cp, true, nil
}

func (l *Ledger) Complete(_ context.Context, key string, out domain.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.recs[key]
	if !ok || rec.Status != domain.ReservationPending {
		return repository.ErrNotPending
	}

	if out.Reason == "" {
		rec.Status = domain.ReservationSucceeded
	} else {
		rec.Status = domain.ReservationFailed
	}
	rec.Outcome = out

	return nil
}

func (l *Ledger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.recs[key]
	if ok && rec.Status == domain.ReservationPending {
		delete(l.recs, key)
	}

	return nil
}

func (l *Ledger) ReleaseStale(_ context.Context, olderThan time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for key, rec := range l.recs {
		if rec.Status == domain.ReservationPending && !rec.CreatedAt.After(olderThan) {
			delete(l.recs, key)
			n++
		}
	}

	return n, nil
}

func (l *Ledger) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for key, rec := range l.recs {
		if rec.Status != domain.ReservationPending && !rec.ExpiresAt.After(now) {
			delete(l.recs, key)
			n++
		}
	}

	return n, nil
}
