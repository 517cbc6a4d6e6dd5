package model

import "time"

// Popup is a time-boxed event that accepts reservations for a set of
// recurring daily time slots between StartDate and EndDate (inclusive).
//
// Fields:
//  ID              – primary key identifier.
//  OwnerID         – operator account that manages the popup.
//  Name            – display name of the popup.
//  StartDate       – first bookable day (YYYY-MM-DD).
//  EndDate         – last bookable day (YYYY-MM-DD).
//  UnitPrice       – default price per person in minor currency units.
//  RequiresPayment – when true reservations must go through a hold and
//                    online payment; direct confirmation is refused.
//  CreatedAt       – creation timestamp.
type Popup struct {
	ID              uint64    `json:"id"`               // popups.id
	OwnerID         uint64    `json:"owner_id"`         // popups.owner_id
	Name            string    `json:"name"`             // popups.name
	StartDate       string    `json:"start_date"`       // popups.start_date
	EndDate         string    `json:"end_date"`         // popups.end_date
	UnitPrice       int64     `json:"unit_price"`       // popups.unit_price
	RequiresPayment bool      `json:"requires_payment"` // popups.requires_payment
	CreatedAt       time.Time `json:"created_at"`       // popups.created_at
}

// OpenOn reports whether date (YYYY-MM-DD) falls inside the popup's
// running period.  Dates compare lexically in that layout.
func (p *Popup) OpenOn(date string) bool {
	return date >= p.StartDate && date <= p.EndDate
}

// Slot is a bookable time window of a popup.  The same slot repeats on
// every day the popup is open and carries a fixed capacity per day.
//
// Fields:
//  ID        – primary key identifier.
//  PopupID   – owning popup.
//  StartTime – local start time (HH:MM).
//  EndTime   – local end time (HH:MM).
//  Capacity  – number of people the slot admits per day.
//  Price     – optional per-person price overriding the popup default.
type Slot struct {
	ID        uint64 `json:"id"`              // popup_slots.id
	PopupID   uint64 `json:"popup_id"`        // popup_slots.popup_id
	StartTime string `json:"start_time"`      // popup_slots.start_time
	EndTime   string `json:"end_time"`        // popup_slots.end_time
	Capacity  int    `json:"capacity"`        // popup_slots.capacity
	Price     *int64 `json:"price,omitempty"` // popup_slots.price (nullable)
}
