package handler // handler defines the HTTP handlers of the reservation API

import (
	"errors"   // errors provides sentinel values used in getUserID
	"net/http" // HTTP status codes
	"strconv"  // strconv converts path parameters to numbers

	"github.com/labstack/echo/v4" // echo defines request context types
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/popup-slot-reservation/internal/middleware"
	"github.com/iliyamo/popup-slot-reservation/internal/service"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// getUserID extracts the authenticated user id stored by JWTAuth.
func getUserID(c echo.Context) (uint64, error) {
	if id, ok := c.Get(middleware.ContextUserID).(uint64); ok && id != 0 {
		return id, nil
	}
	return 0, errors.New("invalid user_id in context")
}

// parseIDParam reads a positive numeric path parameter.
func parseIDParam(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorBody{Error: "unauthorized", Code: "UNAUTHORIZED"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: msg, Code: service.ErrInvalidRequest.Code})
}

// statusFor maps a domain error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case service.ErrInvalidRequest.Code:
		return http.StatusBadRequest
	case service.ErrForbidden.Code:
		return http.StatusForbidden
	case service.ErrPopupNotFound.Code, service.ErrSlotNotFound.Code,
		service.ErrReservationNotFound.Code, service.ErrPaymentNotFound.Code:
		return http.StatusNotFound
	case service.ErrNotEnoughInventory.Code, service.ErrHoldNotFound.Code:
		return http.StatusConflict
	case service.ErrHoldExpired.Code:
		return http.StatusGone
	case service.ErrPaymentNotCompleted.Code, service.ErrPaymentRequired.Code:
		return http.StatusPaymentRequired
	case service.ErrAmountMismatch.Code:
		return http.StatusUnprocessableEntity
	case service.ErrGatewayUnavailable.Code:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error","code"}.  Errors without a domain
// code are logged and reported as a generic 500.
func respondError(c echo.Context, err error) error {
	code := service.ErrorCode(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Path()).Error("request failed")
		return c.JSON(status, errorBody{Error: "internal error", Code: code})
	}
	return c.JSON(status, errorBody{Error: err.Error(), Code: code})
}
