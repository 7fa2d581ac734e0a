package booking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint derives the request identity bound to an idempotency key. Two
// requests with the same key but different fingerprints are distinct logical
// requests.
func Fingerprint(userID, eventID int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", userID, eventID)))
	return hex.EncodeToString(sum[:])
}
