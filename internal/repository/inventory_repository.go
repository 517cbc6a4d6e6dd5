package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// reserveScript decrements KEYS[1] by ARGV[1] only when the counter exists
// and holds at least that many units.  It returns the new remaining value,
// or -1 when nothing was changed.
var reserveScript = redis.NewScript(`
local remaining = redis.call('GET', KEYS[1])
if not remaining then
    return -1
end
remaining = tonumber(remaining)
local count = tonumber(ARGV[1])
if remaining == nil or remaining < count then
    return -1
end
return redis.call('DECRBY', KEYS[1], count)
`)

// InventoryKey derives the counter key for one slot on one date.  Every
// (popup, date, slot) triple gets its own key so unrelated slots never
// contend.
func InventoryKey(popupID uint64, date string, slotID uint64) string {
	return fmt.Sprintf("inventory:%d:%s:%d", popupID, date, slotID)
}

// InventoryRepo keeps the remaining capacity of every slot/date in Redis.
// The counter is only ever changed through TryReserve and Release (and
// seeded once by Provision), so Redis is the single authority on how
// many units are still free.
type InventoryRepo struct {
	rdb *redis.Client
}

// NewInventoryRepo returns an InventoryRepo bound to rdb.
func NewInventoryRepo(rdb *redis.Client) *InventoryRepo { return &InventoryRepo{rdb: rdb} }

// TryReserve atomically takes count units from key.  It reports false
// without touching the counter when the key is missing or holds fewer
// than count units.
func (r *InventoryRepo) TryReserve(ctx context.Context, key string, count int) (bool, error) {
	if count <= 0 {
		return false, fmt.Errorf("reserve count must be positive, got %d", count)
	}
	left, err := reserveScript.Run(ctx, r.rdb, []string{key}, count).Int64()
	if err != nil {
		return false, fmt.Errorf("reserve %s: %w", key, err)
	}
	return left >= 0, nil
}

// Release gives count units back to key.  Callers must call it at most
// once per reservation they are compensating.
func (r *InventoryRepo) Release(ctx context.Context, key string, count int) error {
	if count <= 0 {
		return nil
	}
	if err := r.rdb.IncrBy(ctx, key, int64(count)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Provision seeds key with capacity when it does not exist yet.  It never
// overwrites a live counter and reports whether the key was created.
func (r *InventoryRepo) Provision(ctx context.Context, key string, capacity int) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key, capacity, 0).Result()
	if err != nil {
		return false, fmt.Errorf("provision %s: %w", key, err)
	}
	return ok, nil
}

// Remaining reads the counter.  A missing key yields ErrNotFound.
func (r *InventoryRepo) Remaining(ctx context.Context, key string) (int, error) {
	n, err := r.rdb.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
