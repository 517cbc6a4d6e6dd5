package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/popup-slot-reservation/internal/service"
)

// ReconcilerStats handles GET /v1/admin/reconciler and reports the expiry
// sweep counters.
func ReconcilerStats(r *service.Reconciler) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, r.Stats())
	}
}
