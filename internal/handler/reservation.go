package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/popup-slot-reservation/internal/service"
)

// ReservationHandler exposes the customer reservation flows: direct
// confirmation, holds for the payment path and reservation lookups.  All
// routes sit behind JWTAuth.
type ReservationHandler struct {
	svc *service.ReservationService
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(svc *service.ReservationService) *ReservationHandler {
	if svc == nil {
		panic("nil service passed to NewReservationHandler")
	}
	return &ReservationHandler{svc: svc}
}

// bindReserve decodes the shared {popup_id, slot_id, date, people} body.
func bindReserve(c echo.Context) (service.ReserveRequest, error) {
	var req service.ReserveRequest
	if err := c.Bind(&req); err != nil {
		return req, err
	}
	req.Date = strings.TrimSpace(req.Date)
	return req, nil
}

// Reserve handles POST /v1/reservations.  On success it answers 201 with
// the reservation id; a slot without enough capacity yields 409
// NOT_ENOUGH_INVENTORY.
func (h *ReservationHandler) Reserve(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	req, err := bindReserve(c)
	if err != nil {
		return badRequest(c, "invalid JSON body")
	}
	res, err := h.svc.DirectConfirm(c.Request().Context(), userID, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"reservation_id": res.ID, "reservation": res})
}

// PlaceHold handles POST /v1/reservations/hold.  The response carries the
// hold id, merchant reference and amount the client must pay before the
// hold expires.
func (h *ReservationHandler) PlaceHold(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	req, err := bindReserve(c)
	if err != nil {
		return badRequest(c, "invalid JSON body")
	}
	res, err := h.svc.PlaceHold(c.Request().Context(), userID, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// GetHold handles GET /v1/reservations/hold/:id.  A hold that is gone,
// expired or owned by someone else is reported as 404.
func (h *ReservationHandler) GetHold(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	snap, err := h.svc.GetHold(c.Request().Context(), userID, c.Param("id"))
	if errors.Is(err, service.ErrHoldNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{Error: err.Error(), Code: service.ErrHoldNotFound.Code})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// ListMine handles GET /v1/my-reservations.
func (h *ReservationHandler) ListMine(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	items, err := h.svc.ListForUser(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetMine handles GET /v1/reservations/:id.
func (h *ReservationHandler) GetMine(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	res, err := h.svc.GetForUser(c.Request().Context(), userID, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
