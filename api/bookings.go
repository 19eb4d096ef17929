package api

import (
	"net/http"
	"time"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/Domenick1991/airreserve/internal/service/booking"
	"github.com/Domenick1991/airreserve/internal/service/payment"
	"github.com/gin-gonic/gin"
)

type BookingHandler struct {
	service  booking.BookingUseCase
	payments payment.PaymentUseCase
}

type createBookingRequest struct {
	FlightID       int64              `json:"flight_id"`
	CabinClass     domain.CabinClass  `json:"cabin_class"`
	Passengers     []domain.Passenger `json:"passengers"`
	Contact        domain.ContactInfo `json:"contact"`
	IdempotencyKey string             `json:"idempotency_key"`
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

type ticketResponse struct {
	ID         string           `json:"id"`
	Passenger  domain.Passenger `json:"passenger"`
	Cabin      string           `json:"cabin"`
	SeatNumber string           `json:"seat_number,omitempty"`
	Price      string           `json:"price"`
	Status     string           `json:"status"`
}

type bookingResponse struct {
	Reference    string             `json:"reference"`
	Status       string             `json:"status"`
	FlightID     int64              `json:"flight_id"`
	Contact      domain.ContactInfo `json:"contact"`
	Tickets      []ticketResponse   `json:"tickets"`
	TotalAmount  string             `json:"total_amount"`
	CancelReason string             `json:"cancel_reason,omitempty"`
	ExpiresAt    string             `json:"expires_at"`
	CreatedAt    string             `json:"created_at"`
}

func newBookingResponse(b *domain.Booking) bookingResponse {
	resp := bookingResponse{
		Reference:    b.Reference,
		Status:       string(b.Status),
		FlightID:     b.FlightID,
		Contact:      b.Contact,
		Tickets:      make([]ticketResponse, 0, len(b.Tickets)),
		TotalAmount:  b.TotalAmount.StringFixed(2),
		CancelReason: b.CancelReason,
		ExpiresAt:    b.ExpiresAt.Format(time.RFC3339),
		CreatedAt:    b.CreatedAt.Format(time.RFC3339),
	}
	for _, t := range b.Tickets {
		resp.Tickets = append(resp.Tickets, ticketResponse{
			ID:         t.ID,
			Passenger:  t.Passenger,
			Cabin:      string(t.Cabin),
			SeatNumber: t.SeatNumber,
			Price:      t.Price.StringFixed(2),
			Status:     string(t.Status),
		})
	}
	return resp
}

func NewBookingHandler(service booking.BookingUseCase, payments payment.PaymentUseCase) *BookingHandler {
	return &BookingHandler{service: service, payments: payments}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("/", h.create)
	router.GET("/", h.list)
	router.GET("/:reference", h.get)
	router.POST("/:reference/cancel", h.cancel)
	router.GET("/:reference/payments", h.listPayments)
}

func (h *BookingHandler) create(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	b, err := h.service.CreateBooking(c.Request.Context(), booking.CreateBookingInput{
		FlightID:       req.FlightID,
		Passengers:     req.Passengers,
		DefaultCabin:   req.CabinClass,
		Contact:        req.Contact,
		UserID:         userID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newBookingResponse(b))
}

func (h *BookingHandler) list(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	bookings, err := h.service.ListBookings(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		resp = append(resp, newBookingResponse(&bookings[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *BookingHandler) get(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	b, err := h.service.GetBooking(c.Request.Context(), c.Param("reference"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (h *BookingHandler) cancel(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req cancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	b, err := h.service.CancelBooking(c.Request.Context(), c.Param("reference"), userID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (h *BookingHandler) listPayments(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	payments, err := h.payments.ListPayments(c.Request.Context(), c.Param("reference"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		resp = append(resp, newPaymentResponse(&payments[i]))
	}
	c.JSON(http.StatusOK, resp)
}
