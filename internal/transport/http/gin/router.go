package httpgin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	redisrepo "github.com/avoskin/bookgate/internal/repository/redis"
	"github.com/avoskin/bookgate/internal/service"
	"github.com/avoskin/bookgate/internal/service/booking"
	"github.com/avoskin/bookgate/internal/service/catalog"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func NewRouter(
	svcs *service.Services,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/events/:id/availability", handleGetAvailability(svcs))

	r.POST("/bookings", RateLimitMiddleware(limiter), handleCreateBooking(svcs))
	r.POST("/bookings/:id/cancel", handleCancelBooking(svcs))
	r.GET("/bookings/user/:id", handleListUserBookings(svcs))

	// Admin-API
	// TODO: add admin middleware
	admin := r.Group("/admin")
	{
		admin.POST("/events", handleCreateEvent(svcs))
	}

	return r
}

// @Summary  Get event
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  EventResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		e, err := svcs.Catalog.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, EventResponse{
			ID:       e.ID,
			Name:     e.Name,
			Venue:    e.Venue,
			StartsAt: e.Starts,
			Capacity: e.Capacity,
		})
	}
}

// @Summary  Get availability counters
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  AvailabilityResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		av, err := svcs.Catalog.Availability(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, AvailabilityResponse{
			Capacity:  av.Capacity,
			Booked:    av.Booked,
			Available: av.Available,
		})
	}
}

// @Summary  Create booking (idempotent)
// @Param    req body  CreateBookingRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} BookingResponse
// @Failure  400 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse "event not found"
// @Failure  409 {object} ErrorResponse "capacity exceeded / idem in progress"
// @Failure  422 {object} ErrorResponse "idempotency key reused with different payload"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /bookings [post]
func handleCreateBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))

		res, err := svcs.Booking.Book(c.Request.Context(), req.UserID, req.EventID, idemKey)
		if err != nil {
			if idemKey != "" && res.Replayed {
				c.Header("Idempotency-Key", idemKey)
			}
			respondErr(c, err)
			return
		}

		if idemKey != "" {
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, toBookingResponse(res.Booking))
	}
}

// @Summary  Cancel booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} BookingResponse
// @Failure  404 {object} ErrorResponse
// @Router   /bookings/{id}/cancel [post]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid booking id")
			return
		}
		b, err := svcs.Booking.Cancel(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// @Summary  List bookings by user
// @Param    id  path  int  true  "User ID"
// @Success  200 {array} BookingResponse
// @Router   /bookings/user/{id} [get]
func handleListUserBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		list, err := svcs.Booking.ListUserBookings(c.Request.Context(), userID)
		if err != nil {
			respondErr(c, err)
			return
		}
		out := make([]BookingResponse, 0, len(list))
		for i := range list {
			out = append(out, toBookingResponse(&list[i]))
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Create event
// @Param    req body  CreateEventRequest true "payload"
// @Success  201 {object} CreateEventResponse
// @Failure  400 {object} ErrorResponse
// @Router   /admin/events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		starts, err := parseRFC3339(req.StartsAt)
		if err != nil {
			badRequest(c, "invalid starts_at (RFC3339)")
			return
		}
		id, err := svcs.Catalog.CreateEvent(
			c.Request.Context(),
			req.Name,
			req.Venue,
			starts,
			req.Capacity,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateEventResponse{EventID: id})
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// booking service
	case errors.Is(err, booking.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid booking request"})
		return
	case errors.Is(err, booking.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, booking.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
		return
	case errors.Is(err, booking.ErrCapacityExceeded):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "capacity exceeded"})
		return
	case errors.Is(err, booking.ErrKeyReused):
		c.JSON(
			http.StatusUnprocessableEntity,
			ErrorResponse{Error: "idempotency key reused with different payload"},
		)
		return
	case errors.Is(err, booking.ErrReservationInFlight):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
		return
	// catalog service
	case errors.Is(err, catalog.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, catalog.ErrInvalidCapacity):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "capacity must be positive"})
		return
	case errors.Is(err, catalog.ErrEventConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event conflict"})
		return
	}

	// transient store failures: the client may retry safely, any provisional
	// reservation has been released
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable"})
}
