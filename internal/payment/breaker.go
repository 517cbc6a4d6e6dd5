package payment

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures BreakerGateway.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// CallTimeout bounds each provider call.
	CallTimeout time.Duration
}

// BreakerGateway guards a Gateway with a circuit breaker and a per-call
// timeout, so a slow or failing provider fails requests fast instead of
// piling them up.  Answers that are part of normal operation, such as an
// unknown payment id, do not count as failures.
type BreakerGateway struct {
	next    Gateway
	timeout time.Duration
	fetch   *gobreaker.CircuitBreaker[*Payment]
	cancel  *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerGateway wraps next.
func NewBreakerGateway(next Gateway, s BreakerSettings) *BreakerGateway {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	logger := log.WithField("component", "payment-breaker")
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:    next.Name() + "-" + name,
			Timeout: s.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= s.MaxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrPaymentNotFound)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
					Warn("payment gateway breaker state changed")
			},
		}
	}
	return &BreakerGateway{
		next:    next,
		timeout: s.CallTimeout,
		fetch:   gobreaker.NewCircuitBreaker[*Payment](settings("fetch")),
		cancel:  gobreaker.NewCircuitBreaker[struct{}](settings("cancel")),
	}
}

// FetchPayment implements Gateway.
func (b *BreakerGateway) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	return b.fetch.Execute(func() (*Payment, error) {
		cctx, done := b.withTimeout(ctx)
		defer done()
		return b.next.FetchPayment(cctx, paymentID)
	})
}

// CancelPayment implements Gateway.
func (b *BreakerGateway) CancelPayment(ctx context.Context, paymentID, reason string) error {
	_, err := b.cancel.Execute(func() (struct{}, error) {
		cctx, done := b.withTimeout(ctx)
		defer done()
		return struct{}{}, b.next.CancelPayment(cctx, paymentID, reason)
	})
	return err
}

// Name implements Gateway.
func (b *BreakerGateway) Name() string { return b.next.Name() }

// State reports the fetch breaker state for diagnostics.
func (b *BreakerGateway) State() gobreaker.State { return b.fetch.State() }

func (b *BreakerGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}
