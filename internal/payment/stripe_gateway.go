package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig holds configuration for the Stripe gateway.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// StripeGateway implements Gateway on top of Stripe PaymentIntents.  The
// checkout that creates the intent must put the hold's merchant reference
// into the intent metadata under MetadataMerchantRef.
type StripeGateway struct {
	webhookSecret string
}

// NewStripeGateway configures the Stripe client and returns the gateway.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	// Set Stripe API key globally
	stripe.Key = cfg.SecretKey
	return &StripeGateway{webhookSecret: cfg.WebhookSecret}, nil
}

// FetchPayment implements Gateway.
func (g *StripeGateway) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("payment id is required")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(paymentID, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == 404 {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return &Payment{
		ID:          pi.ID,
		Status:      intentStatus(pi.Status),
		Amount:      pi.AmountReceived,
		Currency:    string(pi.Currency),
		MerchantRef: pi.Metadata[MetadataMerchantRef],
	}, nil
}

// CancelPayment cancels an intent that has not been captured and refunds
// one that has.
func (g *StripeGateway) CancelPayment(ctx context.Context, paymentID, reason string) error {
	p, err := g.FetchPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	switch p.Status {
	case StatusCanceled:
		return nil
	case StatusPaid:
		params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentID)}
		params.Context = ctx
		params.AddMetadata("reason", reason)
		if _, err := refund.New(params); err != nil {
			return fmt.Errorf("failed to create refund: %w", err)
		}
		return nil
	default:
		params := &stripe.PaymentIntentCancelParams{
			CancellationReason: stripe.String("abandoned"),
		}
		params.Context = ctx
		if _, err := paymentintent.Cancel(paymentID, params); err != nil {
			return fmt.Errorf("failed to cancel payment intent: %w", err)
		}
		return nil
	}
}

// Name implements Gateway.
func (g *StripeGateway) Name() string { return "stripe" }

// ParseWebhook verifies a Stripe event and returns the PaymentIntent id for
// succeeded and failed payment events.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (string, error) {
	if g.webhookSecret == "" {
		return "", fmt.Errorf("stripe webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
	default:
		return "", ErrIgnoredEvent
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return "", fmt.Errorf("decode payment intent: %w", err)
	}
	if pi.ID == "" {
		return "", fmt.Errorf("event %s carries no payment intent id", event.ID)
	}
	return pi.ID, nil
}

func intentStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusPaid
	case stripe.PaymentIntentStatusCanceled:
		return StatusCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// a declined attempt returns the intent to this state
		return StatusFailed
	default:
		return StatusPending
	}
}
