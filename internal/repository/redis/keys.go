package redis

import "fmt"

const ns = "bookgate:v1"

func KeyEventSummary(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:summary", ns, eventID)
}

func KeyEventAvailability(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:availability", ns, eventID)
}
