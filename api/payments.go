package api

import (
	"net/http"
	"time"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/Domenick1991/airreserve/internal/service/payment"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type PaymentHandler struct {
	service payment.PaymentUseCase
}

type createPaymentRequest struct {
	BookingReference string               `json:"booking_reference"`
	Amount           decimal.Decimal      `json:"amount"`
	Method           domain.PaymentMethod `json:"method"`
	Card             *payment.CardDetails `json:"card"`
}

type paymentResponse struct {
	ID               string `json:"id"`
	TransactionID    string `json:"transaction_id"`
	BookingReference string `json:"booking_reference"`
	Amount           string `json:"amount"`
	Method           string `json:"method"`
	Status           string `json:"status"`
	CardLast4        string `json:"card_last4,omitempty"`
	GatewayReference string `json:"gateway_reference,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`
	CreatedAt        string `json:"created_at"`
	CompletedAt      string `json:"completed_at,omitempty"`
	RefundedAt       string `json:"refunded_at,omitempty"`
}

func newPaymentResponse(p *domain.Payment) paymentResponse {
	resp := paymentResponse{
		ID:               p.ID,
		TransactionID:    p.TransactionID,
		BookingReference: p.BookingReference,
		Amount:           p.Amount.StringFixed(2),
		Method:           string(p.Method),
		Status:           string(p.Status),
		CardLast4:        p.CardLast4,
		GatewayReference: p.GatewayReference,
		FailureReason:    p.FailureReason,
		CreatedAt:        p.CreatedAt.Format(time.RFC3339),
	}
	if p.CompletedAt != nil {
		resp.CompletedAt = p.CompletedAt.Format(time.RFC3339)
	}
	if p.RefundedAt != nil {
		resp.RefundedAt = p.RefundedAt.Format(time.RFC3339)
	}
	return resp
}

func NewPaymentHandler(service payment.PaymentUseCase) *PaymentHandler {
	return &PaymentHandler{service: service}
}

func (h *PaymentHandler) Register(router *gin.RouterGroup) {
	router.POST("/", h.create)
	router.GET("/:id", h.get)
	router.POST("/:id/refund", h.refund)
}

// RegisterCallbacks mounts the gateway callback. It carries no user
// identity; the signature authenticates it.
func (h *PaymentHandler) RegisterCallbacks(router *gin.RouterGroup) {
	router.POST("/:transaction_id", h.confirm)
}

func (h *PaymentHandler) create(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.service.CreatePayment(c.Request.Context(), payment.CreatePaymentInput{
		BookingReference: req.BookingReference,
		UserID:           userID,
		Amount:           req.Amount,
		Method:           req.Method,
		Card:             req.Card,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newPaymentResponse(p))
}

func (h *PaymentHandler) get(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	p, err := h.service.GetPayment(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentResponse(p))
}

func (h *PaymentHandler) refund(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	p, err := h.service.RefundPayment(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentResponse(p))
}

func (h *PaymentHandler) confirm(c *gin.Context) {
	var req payment.Verification
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.service.ConfirmPayment(c.Request.Context(), c.Param("transaction_id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentResponse(p))
}
