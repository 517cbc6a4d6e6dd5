package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // Echo web framework
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/popup-slot-reservation/internal/handler"
)

// RegisterRoutes registers the operational endpoints that do not require
// authentication: liveness, readiness and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, ready echo.HandlerFunc) {
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterPublic registers unauthenticated browse endpoints.  Availability
// responses may be served from the response cache for a short time.
func RegisterPublic(e *echo.Echo, a *handler.AvailabilityHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/popups/:id/slots", a.Slots, cache)
}
