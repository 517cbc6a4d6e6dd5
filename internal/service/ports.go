// Package service implements the reservation engine: holds, direct and
// payment-gated confirmation, payment verification, expiry reconciliation
// and the availability view.  Stores are reached through the small
// interfaces below so the engine can be exercised against in-memory
// Redis and mocked SQL in tests.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/popup-slot-reservation/internal/model"
	"github.com/iliyamo/popup-slot-reservation/internal/queue"
)

// InventoryStore is the authority on remaining slot capacity.
type InventoryStore interface {
	TryReserve(ctx context.Context, key string, count int) (bool, error)
	Release(ctx context.Context, key string, count int) error
	Provision(ctx context.Context, key string, capacity int) (bool, error)
}

// InventoryReader reads a live counter.  A missing key yields
// repository.ErrNotFound.
type InventoryReader interface {
	Remaining(ctx context.Context, key string) (int, error)
}

// HoldStore persists holds and the expiry index.
type HoldStore interface {
	Save(ctx context.Context, h *model.Hold) error
	Get(ctx context.Context, id string) (*model.Hold, error)
	Delete(ctx context.Context, id string) error
	ReleaseAndDelete(ctx context.Context, id string) (int, error)
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
	Unindex(ctx context.Context, id string) error
	IndexSize(ctx context.Context) (int64, error)
	ActivePeople(ctx context.Context, popupID uint64, date string, slotID uint64, now time.Time) (int, error)
}

// PaymentStore persists pending payments.  The boolean results report
// whether a conditional write matched exactly one row.
type PaymentStore interface {
	Create(ctx context.Context, p *model.PendingPayment) error
	GetByMerchantRef(ctx context.Context, ref string) (*model.PendingPayment, error)
	GetByExternalID(ctx context.Context, paymentID string) (*model.PendingPayment, error)
	AttachExternalID(ctx context.Context, ref, paymentID string) error
	ClaimPaid(ctx context.Context, ref string, now time.Time) (bool, error)
	LinkReservation(ctx context.Context, ref string, reservationID uint64) error
	MarkFailed(ctx context.Context, ref string) (bool, error)
	DeleteExpired(ctx context.Context, ref string, now time.Time) (bool, error)
	DeleteUnpaid(ctx context.Context, ref string) (bool, error)
}

// ReservationStore persists confirmed reservations.
type ReservationStore interface {
	Create(ctx context.Context, res *model.Reservation) error
	GetByIDForUser(ctx context.Context, reservationID, userID uint64) (*model.Reservation, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Reservation, error)
	ListBySlotDate(ctx context.Context, popupID uint64, date string) ([]model.Reservation, error)
	ConfirmedPeopleBySlot(ctx context.Context, popupID uint64, date string) (map[uint64]int, error)
}

// Schedule answers which popups and slots exist.
type Schedule interface {
	GetPopup(ctx context.Context, id uint64) (*model.Popup, error)
	GetSlot(ctx context.Context, popupID, slotID uint64) (*model.Slot, error)
	ListSlots(ctx context.Context, popupID uint64) ([]model.Slot, error)
}

// ScheduleWriter is the write side of the schedule used by operators.
type ScheduleWriter interface {
	Schedule
	CreatePopup(ctx context.Context, p *model.Popup) error
	CreateSlot(ctx context.Context, s *model.Slot) error
}

// Transactor runs fn inside one durable-store transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher emits domain events.  Failures never fail the caller.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, queue.Event) error { return nil }
