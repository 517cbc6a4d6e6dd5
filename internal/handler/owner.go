package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/popup-slot-reservation/internal/model"
	"github.com/iliyamo/popup-slot-reservation/internal/service"
)

// OwnerHandler lets popup operators manage schedules and inventory.  Routes
// are gated by JWTAuth and RequireRole("owner").
type OwnerHandler struct {
	svc *service.OwnerService
}

// NewOwnerHandler constructs an OwnerHandler.
func NewOwnerHandler(svc *service.OwnerService) *OwnerHandler {
	if svc == nil {
		panic("nil service passed to NewOwnerHandler")
	}
	return &OwnerHandler{svc: svc}
}

type createPopupRequest struct {
	Name            string `json:"name"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	UnitPrice       int64  `json:"unit_price"`
	RequiresPayment bool   `json:"requires_payment"`
}

// CreatePopup handles POST /v1/owner/popups.
func (h *OwnerHandler) CreatePopup(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req createPopupRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	p := &model.Popup{
		Name:            req.Name,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		UnitPrice:       req.UnitPrice,
		RequiresPayment: req.RequiresPayment,
	}
	if err := h.svc.CreatePopup(c.Request().Context(), ownerID, p); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

type addSlotRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Capacity  int    `json:"capacity"`
	Price     *int64 `json:"price,omitempty"`
}

// AddSlot handles POST /v1/owner/popups/:id/slots.
func (h *OwnerHandler) AddSlot(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	popupID, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid popup id")
	}
	var req addSlotRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	slot := &model.Slot{PopupID: popupID, StartTime: req.StartTime, EndTime: req.EndTime, Capacity: req.Capacity, Price: req.Price}
	if err := h.svc.AddSlot(c.Request().Context(), ownerID, slot); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, slot)
}

type provisionRequest struct {
	Date string `json:"date"`
}

// ProvisionInventory handles POST /v1/owner/popups/:id/inventory.  It is
// idempotent: slots already provisioned for the date report created=false.
func (h *OwnerHandler) ProvisionInventory(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	popupID, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid popup id")
	}
	var req provisionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	items, err := h.svc.ProvisionInventory(c.Request().Context(), ownerID, popupID, req.Date)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"popup_id": popupID, "date": req.Date, "items": items})
}

// ListReservations handles GET /v1/owner/popups/:id/reservations?date=YYYY-MM-DD.
func (h *OwnerHandler) ListReservations(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	popupID, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid popup id")
	}
	items, err := h.svc.ListReservations(c.Request().Context(), ownerID, popupID, c.QueryParam("date"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
