package booking_test

import (
	"testing"

	"github.com/avoskin/bookgate/internal/service/booking"
	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	fp := booking.Fingerprint(1, 2)

	assert.Len(t, fp, 64)
	assert.Equal(t, fp, booking.Fingerprint(1, 2), "same payload must fingerprint identically")
	assert.NotEqual(t, fp, booking.Fingerprint(2, 1), "user and event must not be interchangeable")
	assert.NotEqual(t, fp, booking.Fingerprint(1, 3))
	assert.NotEqual(t, booking.Fingerprint(12, 3), booking.Fingerprint(1, 23))
}
