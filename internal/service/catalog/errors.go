package catalog

import "errors"

var (
	ErrEventNotFound   = errors.New("event not found")
	ErrInvalidCapacity = errors.New("capacity must be positive")
	ErrEventConflict   = errors.New("event already exists")
)
