package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/popup-slot-reservation/internal/model"
	"github.com/iliyamo/popup-slot-reservation/internal/repository"
)

// AvailabilityService computes display availability.  Its numbers are
// advisory; only the inventory store decides whether a reservation fits.
type AvailabilityService struct {
	schedule     Schedule
	reservations ReservationStore
	holds        HoldStore
	inventory    InventoryReader
	now          func() time.Time
}

// NewAvailabilityService wires an AvailabilityService.
func NewAvailabilityService(schedule Schedule, reservations ReservationStore, holds HoldStore,
	inventory InventoryReader) *AvailabilityService {
	return &AvailabilityService{
		schedule:     schedule,
		reservations: reservations,
		holds:        holds,
		inventory:    inventory,
		now:          time.Now,
	}
}

// SetClock replaces the wall clock, for tests.
func (s *AvailabilityService) SetClock(now func() time.Time) { s.now = now }

// ForDate returns every slot of the popup on date with
// capacity - confirmed - active holds, never below zero.  A hold stops
// counting at its expiry even if the reconciler has not swept it yet.
// A slot whose counter was never provisioned for date shows zero, since
// the inventory store rejects every reservation against it.
func (s *AvailabilityService) ForDate(ctx context.Context, popupID uint64, date string) ([]model.SlotAvailability, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	popup, err := s.schedule.GetPopup(ctx, popupID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPopupNotFound
	}
	if err != nil {
		return nil, err
	}
	if !popup.OpenOn(date) {
		return nil, fmt.Errorf("%w: popup is not open on %s", ErrInvalidRequest, date)
	}
	slots, err := s.schedule.ListSlots(ctx, popupID)
	if err != nil {
		return nil, err
	}
	confirmed, err := s.reservations.ConfirmedPeopleBySlot(ctx, popupID, date)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]model.SlotAvailability, 0, len(slots))
	for _, sl := range slots {
		remaining, err := s.remaining(ctx, popupID, date, sl, confirmed[sl.ID], now)
		if err != nil {
			return nil, err
		}
		out = append(out, model.SlotAvailability{
			SlotID:         sl.ID,
			StartTime:      sl.StartTime,
			EndTime:        sl.EndTime,
			Capacity:       sl.Capacity,
			RemainingCount: remaining,
		})
	}
	return out, nil
}

func (s *AvailabilityService) remaining(ctx context.Context, popupID uint64, date string, sl model.Slot,
	confirmed int, now time.Time) (int, error) {
	_, err := s.inventory.Remaining(ctx, repository.InventoryKey(popupID, date, sl.ID))
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read inventory: %w", err)
	}
	held, err := s.holds.ActivePeople(ctx, popupID, date, sl.ID, now)
	if err != nil {
		return 0, err
	}
	remaining := sl.Capacity - confirmed - held
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
