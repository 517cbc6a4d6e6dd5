package router // router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/popup-slot-reservation/internal/handler"
	"github.com/iliyamo/popup-slot-reservation/internal/middleware"
	"github.com/iliyamo/popup-slot-reservation/internal/service"
	"github.com/iliyamo/popup-slot-reservation/internal/utils"
)

// RegisterOwner registers owner-scoped endpoints under /v1.
// All routes require a valid JWT and the owner role.
func RegisterOwner(e *echo.Echo, o *handler.OwnerHandler, rec *service.Reconciler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleOwner),
	)

	// ---- Popups ----
	g.POST("/owner/popups", o.CreatePopup)
	g.POST("/owner/popups/:id/slots", o.AddSlot)
	g.POST("/owner/popups/:id/inventory", o.ProvisionInventory)
	g.GET("/owner/popups/:id/reservations", o.ListReservations)

	// ---- Operations ----
	g.GET("/admin/reconciler", handler.ReconcilerStats(rec))
}
