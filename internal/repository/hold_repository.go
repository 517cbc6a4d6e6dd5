package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/popup-slot-reservation/internal/model"
)

const expiryIndexKey = "holds:expiry"

// saveHoldScript writes the hold hash, sets its lifetime and registers the
// hold in the expiry index and the per-slot index in one step.
//
//	KEYS[1] hold hash, KEYS[2] expiry index, KEYS[3] slot index
//	ARGV[1] hold id, ARGV[2] expires_at ms, ARGV[3] key ttl ms (0 keeps the
//	hash until it is released or deleted), ARGV[4..] field/value pairs
var saveHoldScript = redis.NewScript(`
for i = 4, #ARGV, 2 do
    redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
if tonumber(ARGV[3]) > 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
return 1
`)

// deleteHoldScript removes the hold hash and both index entries.  Missing
// entries are ignored so the script may run any number of times.
//
//	KEYS[1] hold hash, KEYS[2] expiry index, ARGV[1] hold id
var deleteHoldScript = redis.NewScript(`
local idx = redis.call('HGET', KEYS[1], 'slot_index')
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
if idx then
    redis.call('ZREM', idx, ARGV[1])
end
return 1
`)

// releaseHoldScript gives a hold's people back to its inventory counter
// and removes the hold in one step.  It only acts while the hold hash
// exists, so running it again after success releases nothing.  Returns the
// released count, or -1 when the hold was already gone.
//
//	KEYS[1] hold hash, KEYS[2] expiry index, ARGV[1] hold id
var releaseHoldScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'inventory_key', 'people', 'slot_index')
if not v[1] then
    redis.call('ZREM', KEYS[2], ARGV[1])
    return -1
end
local people = tonumber(v[2]) or 0
if people > 0 then
    redis.call('INCRBY', v[1], people)
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
if v[3] then
    redis.call('ZREM', v[3], ARGV[1])
end
return people
`)

func holdKey(id string) string { return "hold:" + id }

// SlotIndexKey names the sorted set of holds placed on one slot/date,
// scored by expiry.
func SlotIndexKey(popupID uint64, date string, slotID uint64) string {
	return fmt.Sprintf("holds:slot:%d:%s:%d", popupID, date, slotID)
}

// HoldRepo stores holds as Redis hashes together with the expiry index
// that the reconciler scans.  A hold hash outlives its expiry by the
// configured retention so a late sweep can still read what it held.
type HoldRepo struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewHoldRepo returns a HoldRepo.  retention is added to each hold's TTL
// when setting the lifetime of its hash; zero or less keeps hashes until
// the reconciler removes them.  The hash is what entitles a caller to
// release the hold's units, so a retention shorter than the worst sweep
// lag loses capacity.
func NewHoldRepo(rdb *redis.Client, retention time.Duration) *HoldRepo {
	return &HoldRepo{rdb: rdb, retention: retention}
}

// Save persists h and indexes it at h.ExpiresAt.
func (r *HoldRepo) Save(ctx context.Context, h *model.Hold) error {
	var ttl time.Duration
	if r.retention > 0 {
		ttl = h.ExpiresAt.Sub(h.CreatedAt) + r.retention
		if ttl < time.Second {
			ttl = time.Second
		}
	}
	slotIdx := SlotIndexKey(h.PopupID, h.Date, h.SlotID)
	expMs := h.ExpiresAt.UnixMilli()
	args := []interface{}{
		h.ID, expMs, ttl.Milliseconds(),
		"popup_id", h.PopupID,
		"slot_id", h.SlotID,
		"user_id", h.UserID,
		"date", h.Date,
		"people", h.People,
		"inventory_key", h.InventoryKey,
		"merchant_ref", h.MerchantRef,
		"amount", h.Amount,
		"created_at_ms", h.CreatedAt.UnixMilli(),
		"expires_at_ms", expMs,
		"slot_index", slotIdx,
	}
	keys := []string{holdKey(h.ID), expiryIndexKey, slotIdx}
	if err := saveHoldScript.Run(ctx, r.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("save hold %s: %w", h.ID, err)
	}
	return nil
}

// Get loads a hold.  It returns ErrNotFound once the hash is gone, which
// happens after deletion or when the retained record finally lapses.
func (r *HoldRepo) Get(ctx context.Context, id string) (*model.Hold, error) {
	vals, err := r.rdb.HGetAll(ctx, holdKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load hold %s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	h, err := parseHold(id, vals)
	if err != nil {
		return nil, fmt.Errorf("decode hold %s: %w", id, err)
	}
	return h, nil
}

// Delete removes the hold and its index entries.  Deleting an absent hold
// is not an error.
func (r *HoldRepo) Delete(ctx context.Context, id string) error {
	keys := []string{holdKey(id), expiryIndexKey}
	if err := deleteHoldScript.Run(ctx, r.rdb, keys, id).Err(); err != nil {
		return fmt.Errorf("delete hold %s: %w", id, err)
	}
	return nil
}

// ReleaseAndDelete returns the hold's capacity to inventory and deletes
// the hold atomically.  It reports the number of units released, or -1
// when the hold no longer exists and nothing was released.
func (r *HoldRepo) ReleaseAndDelete(ctx context.Context, id string) (int, error) {
	keys := []string{holdKey(id), expiryIndexKey}
	n, err := releaseHoldScript.Run(ctx, r.rdb, keys, id).Int()
	if err != nil {
		return 0, fmt.Errorf("release hold %s: %w", id, err)
	}
	return n, nil
}

// Due returns up to limit hold ids whose expiry is at or before now,
// oldest first.
func (r *HoldRepo) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, expiryIndexKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expiry index: %w", err)
	}
	return ids, nil
}

// Unindex drops id from the expiry index only.
func (r *HoldRepo) Unindex(ctx context.Context, id string) error {
	return r.rdb.ZRem(ctx, expiryIndexKey, id).Err()
}

// IndexSize reports how many holds are waiting in the expiry index.
func (r *HoldRepo) IndexSize(ctx context.Context) (int64, error) {
	return r.rdb.ZCard(ctx, expiryIndexKey).Result()
}

// ActivePeople sums the people of holds on a slot/date that have not
// expired at now.  Entries that already expired are trimmed from the slot
// index on the way.
func (r *HoldRepo) ActivePeople(ctx context.Context, popupID uint64, date string, slotID uint64, now time.Time) (int, error) {
	idx := SlotIndexKey(popupID, date, slotID)
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)
	if err := r.rdb.ZRemRangeByScore(ctx, idx, "-inf", nowMs).Err(); err != nil {
		return 0, err
	}
	ids, err := r.rdb.ZRangeByScore(ctx, idx, &redis.ZRangeBy{Min: "(" + nowMs, Max: "+inf"}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, holdKey(id), "people")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	total := 0
	for _, cmd := range cmds {
		n, err := cmd.Int()
		if err != nil {
			// deleted between the range read and the pipeline
			continue
		}
		total += n
	}
	return total, nil
}

func parseHold(id string, v map[string]string) (*model.Hold, error) {
	h := &model.Hold{
		ID:           id,
		Date:         v["date"],
		InventoryKey: v["inventory_key"],
		MerchantRef:  v["merchant_ref"],
	}
	var err error
	if h.PopupID, err = strconv.ParseUint(v["popup_id"], 10, 64); err != nil {
		return nil, fmt.Errorf("popup_id: %w", err)
	}
	if h.SlotID, err = strconv.ParseUint(v["slot_id"], 10, 64); err != nil {
		return nil, fmt.Errorf("slot_id: %w", err)
	}
	if h.UserID, err = strconv.ParseUint(v["user_id"], 10, 64); err != nil {
		return nil, fmt.Errorf("user_id: %w", err)
	}
	if h.People, err = strconv.Atoi(v["people"]); err != nil {
		return nil, fmt.Errorf("people: %w", err)
	}
	if h.Amount, err = strconv.ParseInt(v["amount"], 10, 64); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	created, err := strconv.ParseInt(v["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("created_at_ms: %w", err)
	}
	expires, err := strconv.ParseInt(v["expires_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("expires_at_ms: %w", err)
	}
	h.CreatedAt = time.UnixMilli(created).UTC()
	h.ExpiresAt = time.UnixMilli(expires).UTC()
	return h, nil
}
