package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/gin-gonic/gin"
)

const userIDHeader = "X-User-ID"

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Reference string `json:"reference,omitempty"`
	Status    string `json:"status,omitempty"`
	FlightID  int64  `json:"flight_id,omitempty"`
	Cabin     string `json:"cabin,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func httpStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound, domain.KindFlightNotFound:
		return http.StatusNotFound
	case domain.KindInvalidState, domain.KindInsufficientSeats, domain.KindBookingExpired:
		return http.StatusConflict
	case domain.KindAmountMismatch:
		return http.StatusUnprocessableEntity
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindTransientContention:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders err with the status matching its kind. Errors that
// are not domain errors are reported without their text.
func writeError(c *gin.Context, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	resp := errorResponse{
		Error:     de.Error(),
		Kind:      string(de.Kind),
		Reference: de.Reference,
		Status:    de.Status,
		FlightID:  de.FlightID,
		Cabin:     string(de.Cabin),
		Requested: de.Requested,
	}
	if de.Kind == domain.KindInsufficientSeats {
		available := de.Available
		resp.Available = &available
	}
	if de.Kind == domain.KindTransientContention {
		c.Header("Retry-After", "1")
	}
	c.JSON(httpStatus(de.Kind), resp)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg, Kind: string(domain.KindValidation)})
}

// requireUser reads the caller identity set by the upstream gateway.
func requireUser(c *gin.Context) (string, bool) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "missing " + userIDHeader + " header"})
		return "", false
	}
	return userID, true
}
