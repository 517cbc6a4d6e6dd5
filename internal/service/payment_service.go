package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/popup-slot-reservation/internal/metrics"
	"github.com/iliyamo/popup-slot-reservation/internal/model"
	"github.com/iliyamo/popup-slot-reservation/internal/payment"
	"github.com/iliyamo/popup-slot-reservation/internal/repository"
)

// Reasons passed to the gateway when a payment is voided.
const (
	CancelReasonHoldExpired  = "hold_expired"
	CancelReasonPersistFail  = "confirmation_failed"
	CancelReasonAlreadyFinal = "duplicate_payment"
	CancelReasonSettledLate  = "settled_after_failure"
)

var errClaimLost = errors.New("payment row no longer claimable")

// CompletionResult is the outcome of a successful payment completion.
type CompletionResult struct {
	Status        model.PaymentStatus `json:"status"`
	ReservationID *uint64             `json:"reservation_id,omitempty"`
}

// PaymentService verifies payments with the gateway and converts paid
// holds into reservations.  It is the only writer of the PAID status.
type PaymentService struct {
	gateway      payment.Gateway
	payments     PaymentStore
	holds        *HoldManager
	reservations *ReservationService
	metrics      *metrics.Engine
	now          func() time.Time
	logger       *log.Entry
}

// NewPaymentService wires a PaymentService.  m may be nil.
func NewPaymentService(gw payment.Gateway, payments PaymentStore, holds *HoldManager,
	reservations *ReservationService, m *metrics.Engine) *PaymentService {
	return &PaymentService{
		gateway:      gw,
		payments:     payments,
		holds:        holds,
		reservations: reservations,
		metrics:      m,
		now:          time.Now,
		logger:       log.WithField("component", "payment-service"),
	}
}

// SetClock replaces the wall clock, for tests.
func (s *PaymentService) SetClock(now func() time.Time) { s.now = now }

// Complete verifies paymentID with the gateway and, when it is paid in
// full for a live hold, confirms the hold's reservation.  Calling it again
// for a payment that was already applied returns ErrHoldNotFound and never
// creates a second reservation.
func (s *PaymentService) Complete(ctx context.Context, paymentID string) (*CompletionResult, error) {
	res, err := s.complete(ctx, paymentID)
	s.metrics.PaymentOutcome(outcomeOf(err))
	return res, err
}

// HandleWebhook parses a provider callback and completes the payment it
// names.  Events that do not settle a payment are acknowledged with a nil
// result and nil error.
func (s *PaymentService) HandleWebhook(ctx context.Context, parser payment.WebhookParser, payload []byte, signature string) (*CompletionResult, error) {
	paymentID, err := parser.ParseWebhook(payload, signature)
	if errors.Is(err, payment.ErrIgnoredEvent) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return s.Complete(ctx, paymentID)
}

func (s *PaymentService) complete(ctx context.Context, paymentID string) (*CompletionResult, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment_id is required", ErrInvalidRequest)
	}
	p, err := s.gateway.FetchPayment(ctx, paymentID)
	if errors.Is(err, payment.ErrPaymentNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", paymentID).Warn("gateway fetch failed")
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	row, err := s.lookup(ctx, p)
	if errors.Is(err, repository.ErrNotFound) {
		if p.Paid() {
			// the hold was swept before the payment arrived
			s.cancel(ctx, p.ID, CancelReasonHoldExpired)
			return nil, ErrHoldExpired
		}
		return nil, ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	if row.ExternalPaymentID == nil {
		if err := s.payments.AttachExternalID(ctx, row.MerchantRef, p.ID); err != nil {
			s.logger.WithError(err).WithField("merchant_ref", row.MerchantRef).Warn("attach payment id failed")
		}
	}

	entry := s.logger.WithFields(log.Fields{"merchant_ref": row.MerchantRef, "payment_id": p.ID})
	switch row.Status {
	case model.PaymentPaid:
		return nil, ErrHoldNotFound
	case model.PaymentFailed:
		s.voidAfterFailure(ctx, row, p)
		return nil, ErrHoldNotFound
	}

	if !p.Paid() {
		s.markFailed(ctx, row.MerchantRef)
		return nil, ErrPaymentNotCompleted
	}
	if p.Amount != row.Amount {
		s.markFailed(ctx, row.MerchantRef)
		entry.WithFields(log.Fields{
			"expected_amount": row.Amount, "paid_amount": p.Amount,
		}).Error("payment amount mismatch, manual review required")
		return nil, ErrAmountMismatch
	}

	now := s.now()
	h, err := s.holds.ResolveHold(ctx, row.HoldID)
	if errors.Is(err, ErrHoldNotFound) || (err == nil && h.Expired(now)) {
		failed, ferr := s.payments.MarkFailed(ctx, row.MerchantRef)
		if ferr != nil {
			return nil, ferr
		}
		if !failed {
			// a concurrent completion or the reconciler got there first
			return nil, s.afterLostClaim(ctx, row.MerchantRef, p)
		}
		s.cancel(ctx, p.ID, CancelReasonHoldExpired)
		return nil, ErrHoldExpired
	}
	if err != nil {
		return nil, err
	}

	claim := func(ctx context.Context) error {
		ok, err := s.payments.ClaimPaid(ctx, row.MerchantRef, now)
		if err != nil {
			return err
		}
		if !ok {
			return errClaimLost
		}
		return nil
	}
	res, err := s.reservations.ConfirmFromHold(ctx, h.ID, row.UserID, claim)
	switch {
	case err == nil:
		entry.WithField("reservation_id", res.ID).Info("payment completed")
		id := res.ID
		return &CompletionResult{Status: model.PaymentPaid, ReservationID: &id}, nil
	case errors.Is(err, errClaimLost):
		return nil, s.afterLostClaim(ctx, row.MerchantRef, p)
	case errors.Is(err, ErrHoldNotFound):
		return nil, err
	default:
		entry.WithError(err).Error("confirmation failed, rolling back hold")
		s.rollback(ctx, row, p.ID)
		return nil, err
	}
}

// lookup finds the pending payment row for p, by the merchant reference it
// carries and otherwise by the external id recorded on an earlier call.
func (s *PaymentService) lookup(ctx context.Context, p *payment.Payment) (*model.PendingPayment, error) {
	if p.MerchantRef != "" {
		row, err := s.payments.GetByMerchantRef(ctx, p.MerchantRef)
		if !errors.Is(err, repository.ErrNotFound) {
			return row, err
		}
	}
	return s.payments.GetByExternalID(ctx, p.ID)
}

// afterLostClaim decides the outcome once another writer resolved the row
// first.  A PAID row means a concurrent completion confirmed the hold.  A
// FAILED row never confirms, so the payment is voided as voidAfterFailure
// decides.  A missing row was expired by the reconciler.
func (s *PaymentService) afterLostClaim(ctx context.Context, ref string, p *payment.Payment) error {
	row, err := s.payments.GetByMerchantRef(ctx, ref)
	switch {
	case err == nil && row.Status == model.PaymentPaid:
		return ErrHoldNotFound
	case err == nil:
		s.voidAfterFailure(ctx, row, p)
		return ErrHoldExpired
	case !errors.Is(err, repository.ErrNotFound):
		return err
	}
	s.cancel(ctx, p.ID, CancelReasonHoldExpired)
	return ErrHoldExpired
}

// voidAfterFailure handles a settled payment for a FAILED row.  A second
// payment for the reference is voided as a duplicate.  The row's own
// payment is voided when it settled after the row failed, for instance a
// 3-D Secure charge that was still pending on the first call.  A wrong
// amount stays captured for manual review.
func (s *PaymentService) voidAfterFailure(ctx context.Context, row *model.PendingPayment, p *payment.Payment) {
	switch {
	case !p.Paid():
	case row.ExternalPaymentID == nil || *row.ExternalPaymentID != p.ID:
		s.cancel(ctx, p.ID, CancelReasonAlreadyFinal)
	case p.Amount != row.Amount:
		s.logger.WithFields(log.Fields{
			"merchant_ref": row.MerchantRef, "payment_id": p.ID,
		}).Warn("mismatched payment left for manual review")
	default:
		s.cancel(ctx, p.ID, CancelReasonSettledLate)
	}
}

// rollback restores a hold whose confirmation could not be stored.  The
// conditional delete decides between this path and the reconciler so the
// capacity comes back once.
func (s *PaymentService) rollback(ctx context.Context, row *model.PendingPayment, paymentID string) {
	entry := s.logger.WithField("merchant_ref", row.MerchantRef)
	won, err := s.payments.DeleteUnpaid(ctx, row.MerchantRef)
	if err != nil {
		entry.WithError(err).Error("rollback: delete pending payment failed")
		return
	}
	if !won {
		return
	}
	if _, err := s.holds.ReleaseHold(ctx, row.HoldID); err != nil {
		entry.WithError(err).Error("rollback: release hold failed")
	}
	s.cancel(ctx, paymentID, CancelReasonPersistFail)
}

func (s *PaymentService) markFailed(ctx context.Context, ref string) {
	if _, err := s.payments.MarkFailed(ctx, ref); err != nil {
		s.logger.WithError(err).WithField("merchant_ref", ref).Warn("mark payment failed")
	}
}

func (s *PaymentService) cancel(ctx context.Context, paymentID, reason string) {
	if err := s.gateway.CancelPayment(ctx, paymentID, reason); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"payment_id": paymentID, "reason": reason,
		}).Error("gateway cancel failed")
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "paid"
	}
	return ErrorCode(err)
}
