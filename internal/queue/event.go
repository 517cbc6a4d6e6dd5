// Package queue defines message payloads exchanged over the message broker
// together with the publisher and the audit consumer that use them.
package queue

// Event types, carried in the AMQP message Type property.
const (
	TypeReservationConfirmed = "reservation.confirmed"
	TypeHoldExpired          = "hold.expired"
)

// Event is implemented by every payload published to the broker.
type Event interface {
	EventType() string
}

// ReservationConfirmedEvent is published when a reservation is confirmed,
// either directly or after a verified payment.  It carries enough data for
// consumers to log or notify without querying the primary database.
type ReservationConfirmedEvent struct {
	ReservationID uint64 `json:"reservation_id"`
	PopupID       uint64 `json:"popup_id"`
	SlotID        uint64 `json:"slot_id"`
	UserID        uint64 `json:"user_id"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	People        int    `json:"people"`
	Path          string `json:"path"`
	MerchantRef   string `json:"merchant_reference,omitempty"`
	AmountCents   int64  `json:"amount_cents,omitempty"`
	ConfirmedAt   string `json:"confirmed_at"`
}

// EventType implements Event.
func (ReservationConfirmedEvent) EventType() string { return TypeReservationConfirmed }

// HoldExpiredEvent is published when the reconciler expires an unpaid hold
// and returns its capacity.
type HoldExpiredEvent struct {
	HoldID      string `json:"hold_id"`
	MerchantRef string `json:"merchant_reference"`
	PopupID     uint64 `json:"popup_id"`
	SlotID      uint64 `json:"slot_id"`
	UserID      uint64 `json:"user_id"`
	Date        string `json:"date"`
	People      int    `json:"people"`
	ExpiredAt   string `json:"expired_at"`
}

// EventType implements Event.
func (HoldExpiredEvent) EventType() string { return TypeHoldExpired }
