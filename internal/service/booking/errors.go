package booking

import "errors"

var (
	ErrInvalidRequest      = errors.New("invalid booking request")
	ErrEventNotFound       = errors.New("event not found")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrCapacityExceeded    = errors.New("event at capacity")
	ErrKeyReused           = errors.New("idempotency key reused with different payload")
	ErrReservationInFlight = errors.New("idempotency key in progress")
)
