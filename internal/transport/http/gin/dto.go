package httpgin

import (
	"time"

	"github.com/avoskin/bookgate/internal/domain"
)

type CreateBookingRequest struct {
	UserID  int64 `json:"user_id" binding:"required,gt=0"`
	EventID int64 `json:"event_id" binding:"required,gt=0"`
}

type CreateEventRequest struct {
	Name     string `json:"name" binding:"required"`
	Venue    string `json:"venue" binding:"required"`
	StartsAt string `json:"starts_at" binding:"required"`
	Capacity int64  `json:"capacity" binding:"required,gt=0"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type BookingResponse struct {
	BookingID  string     `json:"booking_id"`
	EventID    int64      `json:"event_id"`
	UserID     int64      `json:"user_id"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	CanceledAt *time.Time `json:"canceled_at,omitempty"`
}

type CreateEventResponse struct {
	EventID int64 `json:"event_id"`
}

type EventResponse struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Venue    string    `json:"venue"`
	StartsAt time.Time `json:"starts_at"`
	Capacity int64     `json:"capacity"`
}

type AvailabilityResponse struct {
	Capacity  int64 `json:"capacity"`
	Booked    int64 `json:"booked"`
	Available int64 `json:"available"`
}

func toBookingResponse(b *domain.Booking) BookingResponse {
	return BookingResponse{
		BookingID:  b.ID.String(),
		EventID:    b.EventID,
		UserID:     b.UserID,
		Status:     string(b.Status),
		CreatedAt:  b.CreatedAt,
		CanceledAt: b.CanceledAt,
	}
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
