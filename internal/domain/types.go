package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCanceled  BookingStatus = "canceled"
)

type Event struct {
	ID       int64
	Name     string
	Venue    string
	Starts   time.Time
	Capacity int64
	Booked   int64
}

func (e *Event) Available() int64 {
	if n := e.Capacity - e.Booked; n > 0 {
		return n
	}
	return 0
}

type Availability struct {
	Capacity  int64
	Booked    int64
	Available int64
}

type Booking struct {
	ID         uuid.UUID
	EventID    int64
	UserID     int64
	Status     BookingStatus
	CreatedAt  time.Time
	CanceledAt *time.Time
}

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationSucceeded ReservationStatus = "succeeded"
	ReservationFailed    ReservationStatus = "failed"
)

// Rejection reasons recorded in the ledger. A replayed rejection carries
// the same reason the first execution produced.
const (
	ReasonCapacityExceeded = "capacity exceeded"
)

// Outcome is the terminal result bound to an idempotency key. It is what
// gets replayed verbatim to every retry of the same key.
type Outcome struct {
	Code      int
	BookingID uuid.UUID
	Reason    string
}

// IdempotencyRecord tracks one idempotency key from reservation to its
// terminal outcome. A key maps to exactly one fingerprint forever; a pending
// record means some caller owns the right to compute the outcome.
type IdempotencyRecord struct {
	Key         string
	Fingerprint string
	Status      ReservationStatus
	Outcome     Outcome
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (r *IdempotencyRecord) Completed() bool {
	return r.Status == ReservationSucceeded || r.Status == ReservationFailed
}
