package model

import "time"

// Hold is a time-boxed claim on slot capacity taken before payment
// completes.  The capacity units it reserved belong to the hold until it
// is either converted into a Reservation or expires.
//
// Fields:
//  ID           – opaque unique token handed to the client.
//  PopupID      – popup the hold belongs to.
//  SlotID       – slot being held.
//  UserID       – user who created the hold.
//  Date         – slot date (YYYY-MM-DD).
//  People       – number of capacity units reserved.
//  InventoryKey – inventory counter the units were taken from.
//  MerchantRef  – payment reference derived from ID.
//  Amount       – amount the payment must match, in minor units.
//  CreatedAt    – creation time.
//  ExpiresAt    – absolute expiry; after it the hold is eligible for sweep.
type Hold struct {
	ID           string
	PopupID      uint64
	SlotID       uint64
	UserID       uint64
	Date         string
	People       int
	InventoryKey string
	MerchantRef  string
	Amount       int64
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the hold's TTL has elapsed at now.
func (h *Hold) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// Remaining returns the TTL left at now, never negative.
func (h *Hold) Remaining(now time.Time) time.Duration {
	if d := h.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
