package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/iliyamo/popup-slot-reservation/internal/model"
)

// CachedSchedule keeps recently read popups and slots in process memory.
// Schedules change rarely while every reservation request reads them, so
// a short expiration keeps MySQL off the hot path.  Writes go straight to
// the underlying repository and evict the popup's entries.
type CachedSchedule struct {
	repo  *ScheduleRepo
	store *cache.Cache
}

// NewCachedSchedule wraps repo with an in-memory cache whose entries live
// for ttl.  A non-positive ttl disables caching.
func NewCachedSchedule(repo *ScheduleRepo, ttl time.Duration) *CachedSchedule {
	if ttl <= 0 {
		return &CachedSchedule{repo: repo}
	}
	return &CachedSchedule{repo: repo, store: cache.New(ttl, 2*ttl)}
}

func popupCacheKey(id uint64) string { return fmt.Sprintf("popup:%d", id) }
func slotsCacheKey(id uint64) string { return fmt.Sprintf("slots:%d", id) }

// GetPopup returns a cached popup or loads it.
func (c *CachedSchedule) GetPopup(ctx context.Context, id uint64) (*model.Popup, error) {
	if c.store != nil {
		if v, ok := c.store.Get(popupCacheKey(id)); ok {
			p := *v.(*model.Popup)
			return &p, nil
		}
	}
	p, err := c.repo.GetPopup(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.store != nil {
		cp := *p
		c.store.SetDefault(popupCacheKey(id), &cp)
	}
	return p, nil
}

// ListSlots returns the cached slot list of a popup or loads it.
func (c *CachedSchedule) ListSlots(ctx context.Context, popupID uint64) ([]model.Slot, error) {
	if c.store != nil {
		if v, ok := c.store.Get(slotsCacheKey(popupID)); ok {
			return copySlots(v.([]model.Slot)), nil
		}
	}
	slots, err := c.repo.ListSlots(ctx, popupID)
	if err != nil {
		return nil, err
	}
	if c.store != nil {
		c.store.SetDefault(slotsCacheKey(popupID), copySlots(slots))
	}
	return slots, nil
}

// copySlots clones slots including each price override, so neither the
// cache nor its callers can reach the other's memory.
func copySlots(slots []model.Slot) []model.Slot {
	out := make([]model.Slot, len(slots))
	for i, sl := range slots {
		if sl.Price != nil {
			price := *sl.Price
			sl.Price = &price
		}
		out[i] = sl
	}
	return out
}

// GetSlot looks the slot up in the popup's cached slot list.
func (c *CachedSchedule) GetSlot(ctx context.Context, popupID, slotID uint64) (*model.Slot, error) {
	slots, err := c.ListSlots(ctx, popupID)
	if err != nil {
		return nil, err
	}
	for i := range slots {
		if slots[i].ID == slotID {
			s := slots[i]
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

// CreatePopup stores p.
func (c *CachedSchedule) CreatePopup(ctx context.Context, p *model.Popup) error {
	return c.repo.CreatePopup(ctx, p)
}

// CreateSlot stores s and drops the popup's cached slot list.
func (c *CachedSchedule) CreateSlot(ctx context.Context, s *model.Slot) error {
	if err := c.repo.CreateSlot(ctx, s); err != nil {
		return err
	}
	c.Invalidate(s.PopupID)
	return nil
}

// Invalidate evicts everything cached for a popup.
func (c *CachedSchedule) Invalidate(popupID uint64) {
	if c.store == nil {
		return
	}
	c.store.Delete(popupCacheKey(popupID))
	c.store.Delete(slotsCacheKey(popupID))
}
