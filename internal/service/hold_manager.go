package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/popup-slot-reservation/internal/metrics"
	"github.com/iliyamo/popup-slot-reservation/internal/model"
	"github.com/iliyamo/popup-slot-reservation/internal/repository"
)

const defaultHoldTTL = 10 * time.Minute

// MerchantReference derives the payment reference of a hold.  The mapping
// is fixed so a payment callback can find its row by key.
func MerchantReference(holdID string) string { return "popup-" + holdID }

// HoldRequest describes the capacity a hold should take.
type HoldRequest struct {
	PopupID uint64
	SlotID  uint64
	UserID  uint64
	Date    string
	People  int
}

// HoldManager creates, resolves and deletes holds.  A hold owns the units
// it took from inventory until it is converted into a reservation or the
// reconciler expires it.
type HoldManager struct {
	inventory InventoryStore
	holds     HoldStore
	payments  PaymentStore
	ttl       time.Duration
	now       func() time.Time
	newID     func() string
	metrics   *metrics.Engine
	logger    *log.Entry
}

// HoldManagerOption configures a HoldManager.
type HoldManagerOption func(*HoldManager)

// WithHoldTTL sets how long a hold lives before it may be expired.
func WithHoldTTL(ttl time.Duration) HoldManagerOption {
	return func(m *HoldManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithHoldClock replaces the wall clock, for tests.
func WithHoldClock(now func() time.Time) HoldManagerOption {
	return func(m *HoldManager) { m.now = now }
}

// WithHoldIDs replaces the hold id generator, for tests.
func WithHoldIDs(gen func() string) HoldManagerOption {
	return func(m *HoldManager) { m.newID = gen }
}

// WithHoldMetrics attaches engine metrics.
func WithHoldMetrics(e *metrics.Engine) HoldManagerOption {
	return func(m *HoldManager) { m.metrics = e }
}

// NewHoldManager builds a HoldManager over the given stores.
func NewHoldManager(inv InventoryStore, holds HoldStore, payments PaymentStore, opts ...HoldManagerOption) *HoldManager {
	m := &HoldManager{
		inventory: inv,
		holds:     holds,
		payments:  payments,
		ttl:       defaultHoldTTL,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    log.WithField("component", "hold-manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured hold lifetime.
func (m *HoldManager) TTL() time.Duration { return m.ttl }

// CreateHold takes req.People units from the slot's inventory and records
// a hold for them together with its PENDING payment row.  When inventory
// is short it returns ErrNotEnoughInventory and creates nothing.  When a
// later write fails the units are given back before the error is returned.
func (m *HoldManager) CreateHold(ctx context.Context, req HoldRequest, amount int64) (*model.Hold, error) {
	if req.People <= 0 {
		return nil, fmt.Errorf("%w: people must be positive", ErrInvalidRequest)
	}
	id := m.newID()
	key := repository.InventoryKey(req.PopupID, req.Date, req.SlotID)

	ok, err := m.inventory.TryReserve(ctx, key, req.People)
	if err != nil {
		return nil, fmt.Errorf("reserve inventory: %w", err)
	}
	if !ok {
		m.metrics.ReserveRejected(metrics.PathPayment)
		return nil, ErrNotEnoughInventory
	}

	now := m.now().UTC()
	h := &model.Hold{
		ID:           id,
		PopupID:      req.PopupID,
		SlotID:       req.SlotID,
		UserID:       req.UserID,
		Date:         req.Date,
		People:       req.People,
		InventoryKey: key,
		MerchantRef:  MerchantReference(id),
		Amount:       amount,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
	}
	if err := m.holds.Save(ctx, h); err != nil {
		m.undoHold(ctx, h, false)
		return nil, fmt.Errorf("save hold: %w", err)
	}
	pending := &model.PendingPayment{
		MerchantRef:  h.MerchantRef,
		HoldID:       h.ID,
		PopupID:      h.PopupID,
		SlotID:       h.SlotID,
		UserID:       h.UserID,
		Date:         h.Date,
		People:       h.People,
		InventoryKey: h.InventoryKey,
		Amount:       h.Amount,
		Status:       model.PaymentPending,
		CreatedAt:    h.CreatedAt,
		ExpiresAt:    h.ExpiresAt,
	}
	if err := m.payments.Create(ctx, pending); err != nil {
		m.undoHold(ctx, h, true)
		return nil, fmt.Errorf("create pending payment: %w", err)
	}

	m.metrics.HoldCreated()
	m.logger.WithFields(log.Fields{
		"hold_id": h.ID, "inventory_key": key, "people": h.People, "expires_at": h.ExpiresAt,
	}).Debug("hold created")
	return h, nil
}

// ResolveHold returns the hold with id or ErrHoldNotFound.  It never
// modifies anything.
func (m *HoldManager) ResolveHold(ctx context.Context, id string) (*model.Hold, error) {
	h, err := m.holds.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// DeleteHold removes a hold and its index entries.  Deleting an absent
// hold succeeds.
func (m *HoldManager) DeleteHold(ctx context.Context, id string) error {
	return m.holds.Delete(ctx, id)
}

// ReleaseHold returns a hold's units to inventory and deletes the hold.
// The hold record is the token for its units: whichever caller removes it
// releases them, so the release happens once however many callers race.
// The result is the number of units this call released, or -1 when the
// hold was already gone.
func (m *HoldManager) ReleaseHold(ctx context.Context, id string) (int, error) {
	n, err := m.holds.ReleaseAndDelete(ctx, id)
	if err != nil {
		return 0, err
	}
	m.metrics.CapacityReleased(n)
	return n, nil
}

// undoHold gives back the units of a hold that could not be fully created.
// paymentWritten says whether the pending payment insert was attempted; a
// failed insert may still have committed, so the row is claimed first to
// keep the reconciler from releasing the same units.
func (m *HoldManager) undoHold(ctx context.Context, h *model.Hold, paymentWritten bool) {
	entry := m.logger.WithField("hold_id", h.ID)
	if paymentWritten {
		if _, err := m.payments.DeleteUnpaid(ctx, h.MerchantRef); err != nil {
			// the reconciler releases the hold once it lapses
			entry.WithError(err).Error("undo hold: delete pending payment failed")
			return
		}
	}
	n, err := m.holds.ReleaseAndDelete(ctx, h.ID)
	if err == nil && n < 0 && !paymentWritten {
		// the hold never reached the store
		err = m.inventory.Release(ctx, h.InventoryKey, h.People)
	}
	if err != nil {
		entry.WithError(err).Error("failed to undo partially created hold")
	}
}
