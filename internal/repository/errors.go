package repository

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrCapacityExceeded    = errors.New("event at capacity")
	ErrFingerprintMismatch = errors.New("idempotency key bound to a different request")
	ErrNotPending          = errors.New("reservation is not pending")
)
