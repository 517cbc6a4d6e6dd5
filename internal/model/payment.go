package model

import "time"

// PaymentStatus enumerates the lifecycle of a pending payment row.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

// PendingPayment is the durable record created next to every hold.  It
// links the hold to the external payment and is the row that the payment
// adapter and the expiry reconciler race for through conditional writes.
//
// Fields:
//  MerchantRef       – primary key, derived from HoldID.
//  HoldID            – hold this payment belongs to.
//  ExternalPaymentID – gateway payment id once known.
//  PopupID, SlotID   – reserved slot.
//  UserID            – paying user.
//  Date              – slot date (YYYY-MM-DD).
//  People            – units held; lets the sweep restore capacity even
//                      when the hold record itself is gone.
//  InventoryKey      – counter the units were taken from.
//  Amount            – amount recorded at hold creation, minor units.
//  Status            – PENDING, PAID or FAILED.
//  ReservationID     – confirmed reservation once PAID.
//  CreatedAt         – creation time.
//  ExpiresAt         – hold expiry copied from the hold.
//  UpdatedAt         – last update.
type PendingPayment struct {
	MerchantRef       string        // pending_payments.merchant_ref
	HoldID            string        // pending_payments.hold_id
	ExternalPaymentID *string       // pending_payments.external_payment_id (nullable)
	PopupID           uint64        // pending_payments.popup_id
	SlotID            uint64        // pending_payments.slot_id
	UserID            uint64        // pending_payments.user_id
	Date              string        // pending_payments.slot_date
	People            int           // pending_payments.people
	InventoryKey      string        // pending_payments.inventory_key
	Amount            int64         // pending_payments.amount
	Status            PaymentStatus // pending_payments.status
	ReservationID     *uint64       // pending_payments.reservation_id (nullable)
	CreatedAt         time.Time     // pending_payments.created_at
	ExpiresAt         time.Time     // pending_payments.expires_at
	UpdatedAt         time.Time     // pending_payments.updated_at
}
