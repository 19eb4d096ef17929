package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/Domenick1991/airreserve/internal/service/payment"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPaymentUseCase struct {
	mock.Mock
}

func (m *MockPaymentUseCase) CreatePayment(ctx context.Context, input payment.CreatePaymentInput) (*domain.Payment, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentUseCase) ConfirmPayment(ctx context.Context, transactionID string, v payment.Verification) (*domain.Payment, error) {
	args := m.Called(ctx, transactionID, v)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentUseCase) RefundPayment(ctx context.Context, paymentID, userID string) (*domain.Payment, error) {
	args := m.Called(ctx, paymentID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentUseCase) GetPayment(ctx context.Context, paymentID, userID string) (*domain.Payment, error) {
	args := m.Called(ctx, paymentID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentUseCase) ListPayments(ctx context.Context, reference, userID string) ([]domain.Payment, error) {
	args := m.Called(ctx, reference, userID)
	return args.Get(0).([]domain.Payment), args.Error(1)
}

func testPayment(status domain.PaymentStatus) *domain.Payment {
	return &domain.Payment{
		ID:               "pay-1",
		TransactionID:    "TXN-0A1B2C",
		BookingReference: "K7QX2M",
		Amount:           decimal.NewFromInt(10000),
		Method:           domain.PaymentMethodCard,
		Status:           status,
		CardLast4:        "1111",
		CreatedAt:        time.Date(2026, 10, 1, 12, 5, 0, 0, time.UTC),
	}
}

func TestPaymentHandler_create(t *testing.T) {
	mockService := &MockPaymentUseCase{}
	handler := NewPaymentHandler(mockService)

	card := &payment.CardDetails{Number: "4111111111111111", Holder: "ANNA PETROVA", ExpiryMonth: 12, ExpiryYear: 2030, CVV: "123"}
	c, w := newTestContext("POST", "/payments", map[string]any{
		"booking_reference": "K7QX2M",
		"amount":            "10000.00",
		"method":            "CARD",
		"card":              card,
	})
	c.Request.Header.Set(userIDHeader, "user-1")

	mockService.On("CreatePayment", mock.Anything, mock.MatchedBy(func(in payment.CreatePaymentInput) bool {
		return in.UserID == "user-1" && in.BookingReference == "K7QX2M" &&
			in.Amount.Equal(decimal.NewFromInt(10000)) && in.Card != nil && in.Card.Number == card.Number
	})).Return(testPayment(domain.PaymentStatusPending), nil)

	handler.create(c)

	assert.Equal(t, http.StatusCreated, w.Code)

	var response paymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "TXN-0A1B2C", response.TransactionID)
	assert.Equal(t, "10000.00", response.Amount)
	assert.Equal(t, "1111", response.CardLast4)
	assert.NotContains(t, w.Body.String(), card.Number)
	mockService.AssertExpectations(t)
}

func TestPaymentHandler_createAmountMismatch(t *testing.T) {
	mockService := &MockPaymentUseCase{}
	handler := NewPaymentHandler(mockService)

	c, w := newTestContext("POST", "/payments", map[string]any{
		"booking_reference": "K7QX2M",
		"amount":            9000,
		"method":            "WALLET",
	})
	c.Request.Header.Set(userIDHeader, "user-1")

	mockService.On("CreatePayment", mock.Anything, mock.Anything).
		Return(nil, domain.AmountMismatch("K7QX2M", "10000.00", "9000.00"))

	handler.create(c)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPaymentHandler_confirm(t *testing.T) {
	mockService := &MockPaymentUseCase{}
	handler := NewPaymentHandler(mockService)

	v := payment.Verification{Status: payment.GatewayStatusSuccess, GatewayReference: "gw-77", Signature: "abc"}
	c, w := newTestContext("POST", "/gateway/callbacks/TXN-0A1B2C", v)
	c.Params = gin.Params{{Key: "transaction_id", Value: "TXN-0A1B2C"}}

	paid := testPayment(domain.PaymentStatusPaid)
	completed := paid.CreatedAt.Add(time.Minute)
	paid.CompletedAt = &completed
	mockService.On("ConfirmPayment", c.Request.Context(), "TXN-0A1B2C", v).Return(paid, nil)

	handler.confirm(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var response paymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "PAID", response.Status)
	assert.Equal(t, "2026-10-01T12:06:00Z", response.CompletedAt)
	mockService.AssertExpectations(t)
}

func TestPaymentHandler_confirmExpired(t *testing.T) {
	mockService := &MockPaymentUseCase{}
	handler := NewPaymentHandler(mockService)

	v := payment.Verification{Status: payment.GatewayStatusSuccess, Signature: "abc"}
	c, w := newTestContext("POST", "/gateway/callbacks/TXN-0A1B2C", v)
	c.Params = gin.Params{{Key: "transaction_id", Value: "TXN-0A1B2C"}}

	mockService.On("ConfirmPayment", mock.Anything, "TXN-0A1B2C", v).
		Return(nil, domain.BookingExpired("K7QX2M", string(domain.BookingStatusExpired)))

	handler.confirm(c)

	assert.Equal(t, http.StatusConflict, w.Code)

	var response errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, string(domain.KindBookingExpired), response.Kind)
	assert.Equal(t, "K7QX2M", response.Reference)
}

func TestPaymentHandler_refund(t *testing.T) {
	mockService := &MockPaymentUseCase{}
	handler := NewPaymentHandler(mockService)

	c, w := newTestContext("POST", "/payments/pay-1/refund", nil)
	c.Params = gin.Params{{Key: "id", Value: "pay-1"}}
	c.Request.Header.Set(userIDHeader, "user-1")

	mockService.On("RefundPayment", c.Request.Context(), "pay-1", "user-1").Return(testPayment(domain.PaymentStatusRefunded), nil)

	handler.refund(c)

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}

func TestPaymentHandler_get(t *testing.T) {
	mockService := &MockPaymentUseCase{}
	handler := NewPaymentHandler(mockService)

	c, w := newTestContext("GET", "/payments/pay-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "pay-1"}}
	c.Request.Header.Set(userIDHeader, "user-1")

	mockService.On("GetPayment", c.Request.Context(), "pay-1", "user-1").Return(testPayment(domain.PaymentStatusPending), nil)

	handler.get(c)

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}

func TestRoutesRegister(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewFlightHandler(&MockFlightUseCase{}).Register(router.Group("/api/v1/flights"))
	NewBookingHandler(&MockBookingUseCase{}, &MockPaymentUseCase{}).Register(router.Group("/api/v1/bookings"))
	payments := NewPaymentHandler(&MockPaymentUseCase{})
	payments.Register(router.Group("/api/v1/payments"))
	payments.RegisterCallbacks(router.Group("/api/v1/gateway/callbacks"))

	assert.Len(t, router.Routes(), 12)
}
