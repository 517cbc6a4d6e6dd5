package model

import "time"

// ReservationConfirmed is the only status a stored reservation carries
// in this service.
const ReservationConfirmed = "CONFIRMED"

// Reservation records a confirmed booking of People units of a slot on a
// given date.  It is created exactly once per successful confirmation,
// either directly or from a paid hold.
//
// Fields:
//  ID          – primary key identifier.
//  PopupID     – popup being reserved.
//  SlotID      – slot being reserved.
//  UserID      – user who owns the reservation.
//  Date        – slot date (YYYY-MM-DD).
//  StartTime   – slot start time copied at confirmation (HH:MM).
//  People      – number of people admitted.
//  Status      – CONFIRMED.
//  MerchantRef – payment reference for the payment path, nil otherwise.
//  CreatedAt   – creation timestamp.
type Reservation struct {
	ID          uint64    `json:"id"`                           // reservations.id
	PopupID     uint64    `json:"popup_id"`                     // reservations.popup_id
	SlotID      uint64    `json:"slot_id"`                      // reservations.slot_id
	UserID      uint64    `json:"user_id"`                      // reservations.user_id
	Date        string    `json:"date"`                         // reservations.slot_date
	StartTime   string    `json:"start_time"`                   // reservations.start_time
	People      int       `json:"people"`                       // reservations.people
	Status      string    `json:"status"`                       // reservations.status
	MerchantRef *string   `json:"merchant_reference,omitempty"` // reservations.merchant_ref (nullable)
	CreatedAt   time.Time `json:"created_at"`                   // reservations.created_at
}

// SlotAvailability is the display view of one slot on one date.
type SlotAvailability struct {
	SlotID         uint64 `json:"slot_id"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	Capacity       int    `json:"capacity"`
	RemainingCount int    `json:"remaining_count"`
}
