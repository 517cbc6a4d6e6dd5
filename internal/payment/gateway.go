// Package payment adapts external payment providers to the two calls the
// reservation engine needs: read the authoritative state of a payment and
// cancel (or refund) it.
package payment

import (
	"context"
	"errors"
)

// Status is the provider-neutral state of a payment.
type Status string

const (
	StatusPaid     Status = "paid"
	StatusPending  Status = "pending"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// MetadataMerchantRef is the metadata key under which a payment carries
// the merchant reference of the hold it pays for.
const MetadataMerchantRef = "merchant_reference"

var (
	// ErrPaymentNotFound is returned when the provider does not know the payment id.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrIgnoredEvent is returned by webhook parsers for event types that
	// do not affect a payment's completion.
	ErrIgnoredEvent = errors.New("webhook event ignored")
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Payment is the authoritative view of one external payment.
type Payment struct {
	ID          string
	Status      Status
	Amount      int64 // minor currency units
	Currency    string
	MerchantRef string
}

// Paid reports whether the provider considers the payment settled.
func (p *Payment) Paid() bool { return p != nil && p.Status == StatusPaid }

// Gateway is implemented by every payment provider adapter.
type Gateway interface {
	// FetchPayment returns the current state of a payment.
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
	// CancelPayment voids an unsettled payment or refunds a settled one.
	CancelPayment(ctx context.Context, paymentID, reason string) error
	// Name identifies the provider in logs and metrics.
	Name() string
}

// WebhookParser turns a provider callback into the payment id it concerns.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (string, error)
}
