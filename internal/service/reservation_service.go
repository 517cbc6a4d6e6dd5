package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/popup-slot-reservation/internal/metrics"
	"github.com/iliyamo/popup-slot-reservation/internal/model"
	"github.com/iliyamo/popup-slot-reservation/internal/queue"
	"github.com/iliyamo/popup-slot-reservation/internal/repository"
)

const dateLayout = "2006-01-02"

// ReserveRequest is the input of both reservation entry points.
type ReserveRequest struct {
	PopupID uint64 `json:"popup_id"`
	SlotID  uint64 `json:"slot_id"`
	Date    string `json:"date"`
	People  int    `json:"people"`
}

// HoldResult is returned to a client that placed a hold so it can drive
// the payment.
type HoldResult struct {
	HoldID      string    `json:"hold_id"`
	MerchantRef string    `json:"merchant_reference"`
	Amount      int64     `json:"amount"`
	TTLSeconds  int64     `json:"ttl_seconds"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// HoldSnapshot is the client view of an outstanding hold.
type HoldSnapshot struct {
	HoldID           string    `json:"hold_id"`
	PopupID          uint64    `json:"popup_id"`
	SlotID           uint64    `json:"slot_id"`
	Date             string    `json:"date"`
	People           int       `json:"people"`
	MerchantRef      string    `json:"merchant_reference"`
	Amount           int64     `json:"amount"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// ClaimFunc runs inside the confirmation transaction before the
// reservation row is written.  Returning an error aborts the confirmation.
type ClaimFunc func(ctx context.Context) error

// ReservationService confirms reservations directly or from holds.
type ReservationService struct {
	schedule     Schedule
	inventory    InventoryStore
	holds        *HoldManager
	reservations ReservationStore
	payments     PaymentStore
	tx           Transactor
	pricing      PricingFunc
	events       EventPublisher
	metrics      *metrics.Engine
	now          func() time.Time
	logger       *log.Entry
}

// ReservationOption configures a ReservationService.
type ReservationOption func(*ReservationService)

// WithPricing replaces DefaultPricing.
func WithPricing(fn PricingFunc) ReservationOption {
	return func(s *ReservationService) {
		if fn != nil {
			s.pricing = fn
		}
	}
}

// WithPublisher sets where domain events are sent.
func WithPublisher(p EventPublisher) ReservationOption {
	return func(s *ReservationService) {
		if p != nil {
			s.events = p
		}
	}
}

// WithReservationMetrics attaches engine metrics.
func WithReservationMetrics(e *metrics.Engine) ReservationOption {
	return func(s *ReservationService) { s.metrics = e }
}

// WithReservationClock replaces the wall clock, for tests.
func WithReservationClock(now func() time.Time) ReservationOption {
	return func(s *ReservationService) { s.now = now }
}

// NewReservationService wires a ReservationService.
func NewReservationService(schedule Schedule, inventory InventoryStore, holds *HoldManager,
	reservations ReservationStore, payments PaymentStore, tx Transactor, opts ...ReservationOption) *ReservationService {
	s := &ReservationService{
		schedule:     schedule,
		inventory:    inventory,
		holds:        holds,
		reservations: reservations,
		payments:     payments,
		tx:           tx,
		pricing:      DefaultPricing,
		events:       nopPublisher{},
		now:          time.Now,
		logger:       log.WithField("component", "reservation-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DirectConfirm reserves capacity and records a confirmed reservation in
// one step.  If the insert fails the capacity is released before the
// error is returned.
func (s *ReservationService) DirectConfirm(ctx context.Context, userID uint64, req ReserveRequest) (*model.Reservation, error) {
	popup, slot, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	if popup.RequiresPayment {
		return nil, ErrPaymentRequired
	}

	key := repository.InventoryKey(req.PopupID, req.Date, req.SlotID)
	ok, err := s.inventory.TryReserve(ctx, key, req.People)
	if err != nil {
		return nil, fmt.Errorf("reserve inventory: %w", err)
	}
	if !ok {
		s.metrics.ReserveRejected(metrics.PathDirect)
		return nil, ErrNotEnoughInventory
	}

	res := &model.Reservation{
		PopupID:   req.PopupID,
		SlotID:    req.SlotID,
		UserID:    userID,
		Date:      req.Date,
		StartTime: slot.StartTime,
		People:    req.People,
		Status:    model.ReservationConfirmed,
	}
	// a failed insert or commit leaves no row behind, so the capacity can
	// be handed back
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		return s.reservations.Create(ctx, res)
	})
	if err != nil {
		if rerr := s.inventory.Release(ctx, key, req.People); rerr != nil {
			s.logger.WithError(rerr).WithFields(log.Fields{
				"inventory_key": key, "people": req.People,
			}).Error("failed to release capacity after insert failure")
		} else {
			s.metrics.CapacityReleased(req.People)
		}
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	s.metrics.Confirmed(metrics.PathDirect)
	s.publishConfirmed(ctx, res, metrics.PathDirect, 0)
	return res, nil
}

// PlaceHold prices the request and creates a hold for it.
func (s *ReservationService) PlaceHold(ctx context.Context, userID uint64, req ReserveRequest) (*HoldResult, error) {
	popup, slot, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	amount := s.pricing(popup, slot, req.People)
	h, err := s.holds.CreateHold(ctx, HoldRequest{
		PopupID: req.PopupID,
		SlotID:  req.SlotID,
		UserID:  userID,
		Date:    req.Date,
		People:  req.People,
	}, amount)
	if err != nil {
		return nil, err
	}
	return &HoldResult{
		HoldID:      h.ID,
		MerchantRef: h.MerchantRef,
		Amount:      h.Amount,
		TTLSeconds:  int64(h.Remaining(h.CreatedAt) / time.Second),
		ExpiresAt:   h.ExpiresAt,
	}, nil
}

// GetHold returns the caller's hold.  Holds of other users and holds past
// their expiry are reported as not found.
func (s *ReservationService) GetHold(ctx context.Context, userID uint64, holdID string) (*HoldSnapshot, error) {
	h, err := s.holds.ResolveHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if h.UserID != userID || h.Expired(now) {
		return nil, ErrHoldNotFound
	}
	return &HoldSnapshot{
		HoldID:           h.ID,
		PopupID:          h.PopupID,
		SlotID:           h.SlotID,
		Date:             h.Date,
		People:           h.People,
		MerchantRef:      h.MerchantRef,
		Amount:           h.Amount,
		ExpiresAt:        h.ExpiresAt,
		RemainingSeconds: int64(h.Remaining(now) / time.Second),
	}, nil
}

// ConfirmFromHold turns a hold into a confirmed reservation without
// touching inventory again; the hold already owns the units.  claim runs
// in the same transaction as the insert and must succeed for the
// reservation to be written.  A hold that is already gone yields
// ErrHoldNotFound, and so does a second reservation for the same merchant
// reference.
func (s *ReservationService) ConfirmFromHold(ctx context.Context, holdID string, userID uint64, claim ClaimFunc) (*model.Reservation, error) {
	h, err := s.holds.ResolveHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if h.UserID != userID {
		return nil, ErrHoldNotFound
	}
	slot, err := s.schedule.GetSlot(ctx, h.PopupID, h.SlotID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}

	ref := h.MerchantRef
	res := &model.Reservation{
		PopupID:     h.PopupID,
		SlotID:      h.SlotID,
		UserID:      h.UserID,
		Date:        h.Date,
		StartTime:   slot.StartTime,
		People:      h.People,
		Status:      model.ReservationConfirmed,
		MerchantRef: &ref,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if claim != nil {
			if err := claim(ctx); err != nil {
				return err
			}
		}
		if err := s.reservations.Create(ctx, res); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrHoldNotFound
			}
			return fmt.Errorf("insert reservation: %w", err)
		}
		if claim == nil {
			return nil
		}
		return s.payments.LinkReservation(ctx, ref, res.ID)
	})
	if err != nil {
		return nil, err
	}

	// the reservation is durable; a leftover hold is dropped by the sweep
	// without releasing anything because its payment row is PAID
	if err := s.holds.DeleteHold(ctx, h.ID); err != nil {
		s.logger.WithError(err).WithField("hold_id", h.ID).Warn("failed to delete converted hold")
	}
	s.metrics.Confirmed(metrics.PathPayment)
	s.publishConfirmed(ctx, res, metrics.PathPayment, h.Amount)
	return res, nil
}

// GetForUser returns one of the user's reservations.
func (s *ReservationService) GetForUser(ctx context.Context, userID, reservationID uint64) (*model.Reservation, error) {
	res, err := s.reservations.GetByIDForUser(ctx, reservationID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrReservationNotFound
	}
	return res, err
}

// ListForUser returns the user's reservations, newest first.
func (s *ReservationService) ListForUser(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	return s.reservations.ListByUser(ctx, userID)
}

// validate checks that the popup and slot exist, that date is a valid day
// of the popup that has not passed, and that people is positive.
func (s *ReservationService) validate(ctx context.Context, req ReserveRequest) (*model.Popup, *model.Slot, error) {
	if req.PopupID == 0 || req.SlotID == 0 {
		return nil, nil, fmt.Errorf("%w: popup_id and slot_id are required", ErrInvalidRequest)
	}
	if req.People <= 0 {
		return nil, nil, fmt.Errorf("%w: people must be positive", ErrInvalidRequest)
	}
	day, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	if day.Format(dateLayout) < s.now().UTC().Format(dateLayout) {
		return nil, nil, fmt.Errorf("%w: date is in the past", ErrInvalidRequest)
	}
	popup, err := s.schedule.GetPopup(ctx, req.PopupID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrPopupNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if !popup.OpenOn(req.Date) {
		return nil, nil, fmt.Errorf("%w: popup is not open on %s", ErrInvalidRequest, req.Date)
	}
	slot, err := s.schedule.GetSlot(ctx, req.PopupID, req.SlotID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if req.People > slot.Capacity {
		return nil, nil, ErrNotEnoughInventory
	}
	return popup, slot, nil
}

func (s *ReservationService) publishConfirmed(ctx context.Context, res *model.Reservation, path string, amount int64) {
	ev := queue.ReservationConfirmedEvent{
		ReservationID: res.ID,
		PopupID:       res.PopupID,
		SlotID:        res.SlotID,
		UserID:        res.UserID,
		Date:          res.Date,
		StartTime:     res.StartTime,
		People:        res.People,
		Path:          path,
		AmountCents:   amount,
		ConfirmedAt:   s.now().UTC().Format(time.RFC3339),
	}
	if res.MerchantRef != nil {
		ev.MerchantRef = *res.MerchantRef
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.WithError(err).WithField("reservation_id", res.ID).Warn("publish reservation.confirmed failed")
	}
}
