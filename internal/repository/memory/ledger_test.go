package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/avoskin/bookgate/internal/domain"
	"github.com/avoskin/bookgate/internal/repository"
	"github.com/avoskin/bookgate/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_ReserveFirstWins(t *testing.T) {
	ledger := memory.NewLedger(0)
	ctx := context.Background()

	const goroutines = 32

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := ledger.Reserve(ctx, "key-1", "fp-1")
			require.NoError(t, err)
			if ok {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired, "exactly one caller must win the reservation")

	rec, err := ledger.Lookup(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationPending, rec.Status)
	assert.Equal(t, "fp-1", rec.Fingerprint)
}

func TestLedger_ReserveFingerprintMismatch(t *testing.T) {
	ledger := memory.NewLedger(0)
	ctx := context.Background()

	_, ok, err := ledger.Reserve(ctx, "key-1", "fp-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = ledger.Reserve(ctx, "key-1", "fp-2")
	assert.ErrorIs(t, err, repository.ErrFingerprintMismatch)
}

func TestLedger_CompleteAndReplay(t *testing.T) {
	ledger := memory.NewLedger(0)
	ctx := context.Background()

	_, ok, err := ledger.Reserve(ctx, "key-1", "fp-1")
	require.NoError(t, err)
	require.True(t, ok)

	bookingID := uuid.New()
	err = ledger.Complete(ctx, "key-1", domain.Outcome{Code: 201, BookingID: bookingID})
	require.NoError(t, err)

	// A retry with the same key and fingerprint sees the recorded outcome.
	rec, ok, err := ledger.Reserve(ctx, "key-1", "fp-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.ReservationSucceeded, rec.Status)
	assert.Equal(t, bookingID, rec.Outcome.BookingID)
	assert.True(t, rec.Completed())
}

func TestLedger_CompleteWithReasonFails(t *testing.T) {
	ledger := memory.NewLedger(0)
	ctx := context.Background()

	_, _, err := ledger.Reserve(ctx, "key-1", "fp-1")
	require.NoError(t, err)

	err = ledger.Complete(ctx, "key-1", domain.Outcome{
		Code:   409,
		Reason: domain.ReasonCapacityExceeded,
	})
	require.NoError(t, err)

	rec, err := ledger.Lookup(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationFailed, rec.Status)
	assert.Equal(t, domain.ReasonCapacityExceeded, rec.Outcome.Reason)
}

func TestLedger_CompleteNotPending(t *testing.T) {
	ledger := memory.NewLedger(0)
	ctx := context.Background()

	err := ledger.Complete(ctx, "missing", domain.Outcome{Code: 201})
	assert.ErrorIs(t, err, repository.ErrNotPending)

	_, _, err = ledger.Reserve(ctx, "key-1", "fp-1")
	require.NoError(t, err)
	require.NoError(t, ledger.Complete(ctx, "key-1", domain.Outcome{Code: 201}))

	err = ledger.Complete(ctx, "key-1", domain.Outcome{Code: 201})
	assert.ErrorIs(t, err, repository.ErrNotPending)
}

func TestLedger_ReleaseMakesKeyReservable(t *testing.T) {
	ledger := memory.NewLedger(0)
	ctx := context.Background()

	_, ok, err := ledger.Reserve(ctx, "key-1", "fp-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, ledger.Release(ctx, "key-1"))

	_, err = ledger.Lookup(ctx, "key-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, ok, err = ledger.Reserve(ctx, "key-1", "fp-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLedger_ReleaseDoesNotTouchCompleted(t *testing.T) {
	ledger := memory.NewLedger(0)
	ctx := context.Background()

	_, _, err := ledger.Reserve(ctx, "key-1", "fp-1")
	require.NoError(t, err)
	require.NoError(t, ledger.Complete(ctx, "key-1", domain.Outcome{Code: 201}))

	require.NoError(t, ledger.Release(ctx, "key-1"))

	rec, err := ledger.Lookup(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationSucceeded, rec.Status)
}

func TestLedger_ReleaseStale(t *testing.T) {
	ledger := memory.NewLedger(0)
	ctx := context.Background()

	_, _, err := ledger.Reserve(ctx, "stuck", "fp-1")
	require.NoError(t, err)

	_, _, err = ledger.Reserve(ctx, "done", "fp-2")
	require.NoError(t, err)
	require.NoError(t, ledger.Complete(ctx, "done", domain.Outcome{Code: 201}))

	n, err := ledger.ReleaseStale(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = ledger.Lookup(ctx, "stuck")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = ledger.Lookup(ctx, "done")
	assert.NoError(t, err)
}

func TestLedger_DeleteExpired(t *testing.T) {
	ledger := memory.NewLedger(time.Nanosecond)
	ctx := context.Background()

	_, _, err := ledger.Reserve(ctx, "old", "fp-1")
	require.NoError(t, err)
	require.NoError(t, ledger.Complete(ctx, "old", domain.Outcome{Code: 201}))

	_, _, err = ledger.Reserve(ctx, "pending", "fp-2")
	require.NoError(t, err)

	n, err := ledger.DeleteExpired(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Pending records are never collected as expired; the stale sweep owns them.
	_, err = ledger.Lookup(ctx, "pending")
	assert.NoError(t, err)
}
