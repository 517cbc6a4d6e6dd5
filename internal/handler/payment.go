package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/popup-slot-reservation/internal/payment"
	"github.com/iliyamo/popup-slot-reservation/internal/service"
)

const maxWebhookBytes = 64 << 10

// PaymentHandler completes payments reported by clients or pushed by the
// provider.
type PaymentHandler struct {
	svc    *service.PaymentService
	parser payment.WebhookParser
	logger *log.Entry
}

// NewPaymentHandler constructs a PaymentHandler.  parser verifies webhook
// bodies of the configured provider.
func NewPaymentHandler(svc *service.PaymentService, parser payment.WebhookParser) *PaymentHandler {
	if svc == nil || parser == nil {
		panic("nil dependency passed to NewPaymentHandler")
	}
	return &PaymentHandler{svc: svc, parser: parser, logger: log.WithField("component", "payment-handler")}
}

type completeRequest struct {
	PaymentID string `json:"payment_id"`
}

// Complete handles POST /v1/payments/complete.  A payment that was already
// applied answers 409 HOLD_NOT_FOUND.
func (h *PaymentHandler) Complete(c echo.Context) error {
	if _, err := getUserID(c); err != nil {
		return unauthorized(c)
	}
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	res, err := h.svc.Complete(c.Request().Context(), req.PaymentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Webhook handles POST /v1/payments/webhook.  Business outcomes are final
// for the provider, so they are acknowledged with 200 and the outcome code;
// only gateway or server failures answer 5xx and invite a retry.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes))
	if err != nil {
		return badRequest(c, "failed to read request body")
	}
	sig := c.Request().Header.Get("Stripe-Signature")
	res, err := h.svc.HandleWebhook(c.Request().Context(), h.parser, payload, sig)
	if err != nil {
		code := service.ErrorCode(err)
		status := statusFor(code)
		if status == http.StatusBadRequest || status >= http.StatusInternalServerError {
			return respondError(c, err)
		}
		h.logger.WithFields(log.Fields{"code": code}).Info("webhook acknowledged without confirmation")
		return c.JSON(http.StatusOK, echo.Map{"received": true, "code": code})
	}
	if res == nil {
		return c.JSON(http.StatusOK, echo.Map{"received": true})
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true, "status": res.Status, "reservation_id": res.ReservationID})
}

// MockCheckoutHandler simulates the provider checkout page when the mock
// gateway is configured.
type MockCheckoutHandler struct {
	gateway      *payment.MockGateway
	reservations *service.ReservationService
}

// NewMockCheckoutHandler constructs a MockCheckoutHandler.
func NewMockCheckoutHandler(gw *payment.MockGateway, reservations *service.ReservationService) *MockCheckoutHandler {
	return &MockCheckoutHandler{gateway: gw, reservations: reservations}
}

type chargeRequest struct {
	HoldID string `json:"hold_id"`
	Amount *int64 `json:"amount,omitempty"` // overrides the hold amount, to simulate a wrong charge
}

// Charge handles POST /v1/payments/mock/charge.  It pays for one of the
// caller's holds and returns the payment id to pass to Complete.
func (h *MockCheckoutHandler) Charge(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req chargeRequest
	if err := c.Bind(&req); err != nil || req.HoldID == "" {
		return badRequest(c, "hold_id is required")
	}
	ctx := c.Request().Context()
	snap, err := h.reservations.GetHold(ctx, userID, req.HoldID)
	if err != nil {
		return respondError(c, err)
	}
	amount := snap.Amount
	if req.Amount != nil {
		amount = *req.Amount
	}
	p, err := h.gateway.Charge(ctx, snap.MerchantRef, amount)
	if err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(http.StatusCreated, echo.Map{"payment_id": p.ID, "amount": p.Amount, "merchant_reference": p.MerchantRef})
}
