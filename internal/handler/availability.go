package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/popup-slot-reservation/internal/service"
)

// AvailabilityHandler serves the public slot availability view.
type AvailabilityHandler struct {
	svc *service.AvailabilityService
}

// NewAvailabilityHandler constructs an AvailabilityHandler.
func NewAvailabilityHandler(svc *service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{svc: svc}
}

// Slots handles GET /v1/popups/:id/slots?date=YYYY-MM-DD.  Counts are for
// display only; a reservation may still be refused.
func (h *AvailabilityHandler) Slots(c echo.Context) error {
	popupID, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid popup id")
	}
	date := c.QueryParam("date")
	if date == "" {
		return badRequest(c, "date is required")
	}
	items, err := h.svc.ForDate(c.Request().Context(), popupID, date)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"popup_id": popupID, "date": date, "items": items})
}
