package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/popup-slot-reservation/internal/handler"
	"github.com/iliyamo/popup-slot-reservation/internal/middleware"
	"github.com/iliyamo/popup-slot-reservation/internal/utils"
)

// RegisterCustomer registers customer-scoped endpoints under /v1.  All routes
// require a valid JWT and the customer role.  The two routes that take
// capacity are additionally rate limited.
func RegisterCustomer(e *echo.Echo, h *handler.ReservationHandler, p *handler.PaymentHandler, limit echo.MiddlewareFunc, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleCustomer),
	)
	g.POST("/reservations", h.Reserve, limit)
	g.POST("/reservations/hold", h.PlaceHold, limit)
	g.GET("/reservations/hold/:id", h.GetHold)
	g.GET("/reservations/:id", h.GetMine)
	g.GET("/my-reservations", h.ListMine)

	g.POST("/payments/complete", p.Complete)
}

// RegisterWebhook registers the provider callback.  It carries no JWT; the
// provider signature is verified by the handler.
func RegisterWebhook(e *echo.Echo, p *handler.PaymentHandler) {
	e.POST("/v1/payments/webhook", p.Webhook)
}

// RegisterMockCheckout exposes the simulated checkout used with the mock
// payment provider.
func RegisterMockCheckout(e *echo.Echo, m *handler.MockCheckoutHandler, jwtSecret string) {
	e.POST("/v1/payments/mock/charge", m.Charge,
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleCustomer),
	)
}
