package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/popup-slot-reservation/internal/model"
	"github.com/iliyamo/popup-slot-reservation/internal/repository"
)

const timeLayout = "15:04"

// ProvisionResult reports, per slot, whether its counter was seeded by
// this call or already existed.
type ProvisionResult struct {
	SlotID   uint64 `json:"slot_id"`
	Capacity int    `json:"capacity"`
	Created  bool   `json:"created"`
}

// OwnerService lets popup operators manage their schedule and seed
// inventory.  Every operation checks that the popup belongs to the caller.
type OwnerService struct {
	schedule     ScheduleWriter
	inventory    InventoryStore
	reservations ReservationStore
	logger       *log.Entry
}

// NewOwnerService wires an OwnerService.
func NewOwnerService(schedule ScheduleWriter, inventory InventoryStore, reservations ReservationStore) *OwnerService {
	return &OwnerService{
		schedule:     schedule,
		inventory:    inventory,
		reservations: reservations,
		logger:       log.WithField("component", "owner-service"),
	}
}

// CreatePopup validates and stores a new popup owned by ownerID.
func (s *OwnerService) CreatePopup(ctx context.Context, ownerID uint64, p *model.Popup) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	start, err := time.Parse(dateLayout, p.StartDate)
	if err != nil {
		return fmt.Errorf("%w: start_date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	end, err := time.Parse(dateLayout, p.EndDate)
	if err != nil {
		return fmt.Errorf("%w: end_date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end_date is before start_date", ErrInvalidRequest)
	}
	if p.UnitPrice < 0 {
		return fmt.Errorf("%w: unit_price must not be negative", ErrInvalidRequest)
	}
	p.OwnerID = ownerID
	return s.schedule.CreatePopup(ctx, p)
}

// AddSlot adds a daily time slot to one of the owner's popups.
func (s *OwnerService) AddSlot(ctx context.Context, ownerID uint64, slot *model.Slot) error {
	if _, err := s.ownedPopup(ctx, ownerID, slot.PopupID); err != nil {
		return err
	}
	start, err := time.Parse(timeLayout, slot.StartTime)
	if err != nil {
		return fmt.Errorf("%w: start_time must be HH:MM", ErrInvalidRequest)
	}
	end, err := time.Parse(timeLayout, slot.EndTime)
	if err != nil {
		return fmt.Errorf("%w: end_time must be HH:MM", ErrInvalidRequest)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end_time must be after start_time", ErrInvalidRequest)
	}
	if slot.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidRequest)
	}
	if slot.Price != nil && *slot.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidRequest)
	}
	return s.schedule.CreateSlot(ctx, slot)
}

// ProvisionInventory seeds the counter of every slot of the popup on date
// with the slot capacity.  Counters that already exist are left untouched,
// so calling it again never resets live capacity.
func (s *OwnerService) ProvisionInventory(ctx context.Context, ownerID, popupID uint64, date string) ([]ProvisionResult, error) {
	popup, err := s.ownedPopup(ctx, ownerID, popupID)
	if err != nil {
		return nil, err
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	if !popup.OpenOn(date) {
		return nil, fmt.Errorf("%w: popup is not open on %s", ErrInvalidRequest, date)
	}
	slots, err := s.schedule.ListSlots(ctx, popupID)
	if err != nil {
		return nil, err
	}
	out := make([]ProvisionResult, 0, len(slots))
	for _, sl := range slots {
		created, err := s.inventory.Provision(ctx, repository.InventoryKey(popupID, date, sl.ID), sl.Capacity)
		if err != nil {
			return out, fmt.Errorf("provision slot %d: %w", sl.ID, err)
		}
		out = append(out, ProvisionResult{SlotID: sl.ID, Capacity: sl.Capacity, Created: created})
	}
	s.logger.WithFields(log.Fields{"popup_id": popupID, "date": date, "slots": len(out)}).Info("inventory provisioned")
	return out, nil
}

// ListReservations returns the confirmed reservations of a popup on date.
func (s *OwnerService) ListReservations(ctx context.Context, ownerID, popupID uint64, date string) ([]model.Reservation, error) {
	if _, err := s.ownedPopup(ctx, ownerID, popupID); err != nil {
		return nil, err
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	return s.reservations.ListBySlotDate(ctx, popupID, date)
}

func (s *OwnerService) ownedPopup(ctx context.Context, ownerID, popupID uint64) (*model.Popup, error) {
	p, err := s.schedule.GetPopup(ctx, popupID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPopupNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return p, nil
}
