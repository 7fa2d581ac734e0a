package booking_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/avoskin/bookgate/internal/domain"
	"github.com/avoskin/bookgate/internal/repository/memory"
	"github.com/avoskin/bookgate/internal/service/booking"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *memory.Store
	ledger *memory.Ledger
	svc    *booking.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	ledger := memory.NewLedger(0)

	svc := booking.New(store, store, ledger, nil, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		booking.Config{
			WaitTimeout:  300 * time.Millisecond,
			PollInterval: 5 * time.Millisecond,
		},
	)

	return &fixture{store: store, ledger: ledger, svc: svc}
}

func (f *fixture) createEvent(t *testing.T, capacity int64) int64 {
	t.Helper()

	id, err := f.store.CreateEvent(context.Background(), &domain.Event{
		Name:     "concert",
		Venue:    "arena",
		Starts:   time.Now().Add(24 * time.Hour),
		Capacity: capacity,
	})
	require.NoError(t, err)

	return id
}

func TestBook_Admits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eventID := f.createEvent(t, 2)

	res, err := f.svc.Book(ctx, 1, eventID, "key-1")
	require.NoError(t, err)
	require.NotNil(t, res.Booking)
	assert.False(t, res.Replayed)
	assert.Equal(t, domain.BookingConfirmed, res.Booking.Status)
	assert.Equal(t, int64(1), res.Booking.UserID)
	assert.Equal(t, eventID, res.Booking.EventID)

	e, err := f.store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Booked)
}

func TestBook_RetryReplaysSameBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eventID := f.createEvent(t, 5)

	first, err := f.svc.Book(ctx, 1, eventID, "key-1")
	require.NoError(t, err)

	second, err := f.svc.Book(ctx, 1, eventID, "key-1")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Booking.ID, second.Booking.ID)

	// The retry must not consume a second seat.
	e, err := f.store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Booked)
}

func TestBook_ConcurrentSameKeySingleAdmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eventID := f.createEvent(t, 10)

	const goroutines = 16

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[uuid.UUID]struct{}{}
	)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			res, err := f.svc.Book(ctx, 1, eventID, "key-1")
			require.NoError(t, err)
			require.NotNil(t, res.Booking)

			mu.Lock()
			ids[res.Booking.ID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1, "every retry must observe the same booking")

	e, err := f.store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Booked, "one key admits exactly one seat")
}

func TestBook_KeyReusedWithDifferentPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eventA := f.createEvent(t, 5)
	eventB := f.createEvent(t, 5)

	_, err := f.svc.Book(ctx, 1, eventA, "key-1")
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, 1, eventB, "key-1")
	assert.ErrorIs(t, err, booking.ErrKeyReused)

	_, err = f.svc.Book(ctx, 2, eventA, "key-1")
	assert.ErrorIs(t, err, booking.ErrKeyReused)
}

func TestBook_CapacityRejectionIsReplayed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eventID := f.createEvent(t, 1)

	winner, err := f.svc.Book(ctx, 1, eventID, "key-winner")
	require.NoError(t, err)

	res, err := f.svc.Book(ctx, 2, eventID, "key-loser")
	assert.ErrorIs(t, err, booking.ErrCapacityExceeded)
	assert.False(t, res.Replayed)

	// Free the seat, then retry the rejected key: the recorded rejection is
	// replayed even though a seat is now available.
	_, err = f.svc.Cancel(ctx, winner.Booking.ID)
	require.NoError(t, err)

	res, err = f.svc.Book(ctx, 2, eventID, "key-loser")
	assert.ErrorIs(t, err, booking.ErrCapacityExceeded)
	assert.True(t, res.Replayed)

	// A fresh key takes the freed seat.
	_, err = f.svc.Book(ctx, 2, eventID, "key-fresh")
	require.NoError(t, err)
}

// flakyEventStore fails Admit a fixed number of times before delegating.
type flakyEventStore struct {
	booking.EventStore
	mu       sync.Mutex
	failures int
}

func (f *flakyEventStore) Admit(ctx context.Context, eventID, userID int64) (*domain.Booking, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	f.mu.Unlock()

	return f.EventStore.Admit(ctx, eventID, userID)
}

func TestBook_TransientFailureReleasesKey(t *testing.T) {
	store := memory.NewStore()
	ledger := memory.NewLedger(0)
	flaky := &flakyEventStore{EventStore: store, failures: 1}

	svc := booking.New(flaky, store, ledger, nil, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		booking.Config{WaitTimeout: 300 * time.Millisecond, PollInterval: 5 * time.Millisecond},
	)

	ctx := context.Background()
	eventID, err := store.CreateEvent(ctx, &domain.Event{
		Name: "concert", Venue: "arena", Capacity: 1,
	})
	require.NoError(t, err)

	_, err = svc.Book(ctx, 1, eventID, "key-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, booking.ErrCapacityExceeded)

	// The failed attempt must not poison the key: the retry succeeds.
	res, err := svc.Book(ctx, 1, eventID, "key-1")
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, domain.BookingConfirmed, res.Booking.Status)
}

func TestBook_EventNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), 1, 999, "key-1")
	assert.ErrorIs(t, err, booking.ErrEventNotFound)
}

func TestBook_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, 0, 1, "")
	assert.ErrorIs(t, err, booking.ErrInvalidRequest)

	_, err = f.svc.Book(ctx, 1, -1, "")
	assert.ErrorIs(t, err, booking.ErrInvalidRequest)
}

func TestBook_KeylessCallsAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eventID := f.createEvent(t, 5)

	first, err := f.svc.Book(ctx, 1, eventID, "")
	require.NoError(t, err)

	second, err := f.svc.Book(ctx, 1, eventID, "")
	require.NoError(t, err)

	assert.NotEqual(t, first.Booking.ID, second.Booking.ID)

	e, err := f.store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Booked)
}

func TestBook_InFlightKeyTimesOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eventID := f.createEvent(t, 5)

	// Simulate a holder that reserved the key and stalled.
	fp := booking.Fingerprint(1, eventID)
	_, ok, err := f.ledger.Reserve(ctx, "key-1", fp)
	require.NoError(t, err)
	require.True(t, ok)

	start := time.Now()
	_, err = f.svc.Book(ctx, 1, eventID, "key-1")
	assert.ErrorIs(t, err, booking.ErrReservationInFlight)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	// No seat was consumed on behalf of the stalled holder.
	e, err := f.store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Booked)
}

func TestBook_WaiterSeesHolderOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eventID := f.createEvent(t, 5)

	fp := booking.Fingerprint(1, eventID)
	_, ok, err := f.ledger.Reserve(ctx, "key-1", fp)
	require.NoError(t, err)
	require.True(t, ok)

	// The holder completes while the waiter is polling.
	b, err := f.store.Admit(ctx, eventID, 1)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = f.ledger.Complete(ctx, "key-1", domain.Outcome{Code: 201, BookingID: b.ID})
	}()

	res, err := f.svc.Book(ctx, 1, eventID, "key-1")
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, b.ID, res.Booking.ID)
}

func TestBook_LastSeatRaceDistinctKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eventID := f.createEvent(t, 1)

	const goroutines = 50

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		rejected int
	)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(userID int64, key string) {
			defer wg.Done()

			_, err := f.svc.Book(ctx, userID, eventID, key)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, booking.ErrCapacityExceeded):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i+1), uuid.NewString())
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, goroutines-1, rejected)

	e, err := f.store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Booked)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eventID := f.createEvent(t, 1)

	res, err := f.svc.Book(ctx, 1, eventID, "key-1")
	require.NoError(t, err)

	b, err := f.svc.Cancel(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCanceled, b.Status)

	// Cancel is idempotent.
	b, err = f.svc.Cancel(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCanceled, b.Status)

	e, err := f.store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Booked)
}

func TestCancel_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
}

func TestListUserBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eventID := f.createEvent(t, 5)

	_, err := f.svc.Book(ctx, 1, eventID, "")
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, 1, eventID, "")
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, 2, eventID, "")
	require.NoError(t, err)

	list, err := f.svc.ListUserBookings(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
