// Package memory holds in-process implementations of the store contracts.
// They carry the same invariants as the postgres backend and back the
// concurrency test suite; the serialization point is a per-event mutex
// instead of the event row lock.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/avoskin/bookgate/internal/domain"
	"github.com/avoskin/bookgate/internal/repository"
	"github.com/google/uuid"
)

type Store struct {
	mu          sync.RWMutex
	events      map[int64]*eventState
	bookings    map[uuid.UUID]*domain.Booking
	nextEventID int64
}

// eventState owns one event's capacity. All mutation of booked goes through
// its mutex; lock ordering is event mutex first, then Store.mu.
type eventState struct {
	mu sync.Mutex
	ev domain.Event
}

func NewStore() *Store {
	return &Store{
		events:   make(map[int64]*eventState),
		bookings: make(map[uuid.UUID]*domain.Booking),
	}
}

func (s *Store) CreateEvent(_ context.Context, e *domain.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEventID++
	cp := *e
	cp.ID = s.nextEventID
	cp.Booked = 0
	s.events[cp.ID] = &eventState{ev: cp}

	return cp.ID, nil
}

func (s *Store) GetEvent(_ context.Context, id int64) (*domain.Event, error) {
	st, err := s.eventState(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	cp := st.ev
	return &cp, nil
}

// Admit performs the test-and-increment for one seat. Either booked advances
// and a confirmed booking exists, or nothing changed.
func (s *Store) Admit(_ context.Context, eventID, userID int64) (*domain.Booking, error) {
	st, err := s.eventState(eventID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.ev.Booked >= st.ev.Capacity {
		return nil, repository.ErrCapacityExceeded
	}

	b := &domain.Booking{
		ID:        uuid.New(),
		EventID:   eventID,
		UserID:    userID,
		Status:    domain.BookingConfirmed,
		CreatedAt: time.Now(),
	}

	st.ev.Booked++

	s.mu.Lock()
	s.bookings[b.ID] = b
	s.mu.Unlock()

	cp := *b
	return &cp, nil
}

func (s *Store) GetBooking(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	s.mu.RLock()
	b, ok := s.bookings[id]
	if !ok {
		s.mu.RUnlock()
		return nil, repository.ErrNotFound
	}
	cp := *b
	s.mu.RUnlock()

	return &cp, nil
}

func (s *Store) ListByUser(_ context.Context, userID int64) ([]domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Booking
	for _, b := range s.bookings {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}

	return out, nil
}

// Cancel flips a confirmed booking to canceled and frees its seat. Repeated
// cancels return the booking unchanged with already=true.
func (s *Store) Cancel(_ context.Context, id uuid.UUID) (*domain.Booking, bool, error) {
	s.mu.RLock()
	b, ok := s.bookings[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false, repository.ErrNotFound
	}

	st, err := s.eventState(b.EventID)
	if err != nil {
		return nil, false, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Status == domain.BookingCanceled {
		cp := *b
		return &cp, true, nil
	}

	now := time.Now()
	b.Status = domain.BookingCanceled
	b.CanceledAt = &now
	if st.ev.Booked > 0 {
		st.ev.Booked--
	}

	cp := *b
	return &cp, false, nil
}

func (s *Store) eventState(id int64) (*eventState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	return st, nil
}
