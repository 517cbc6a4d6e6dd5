package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/popup-slot-reservation/internal/database"
	"github.com/iliyamo/popup-slot-reservation/internal/model"
)

// PaymentRepo provides access to the pending_payments table.  Every
// status transition is a conditional write; the affected row count tells
// the caller whether it won the row.  Methods run inside the transaction
// carried by ctx when there is one.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `merchant_ref, hold_id, external_payment_id, popup_id, slot_id, user_id,
DATE_FORMAT(slot_date, '%Y-%m-%d'), people, inventory_key, amount, status, reservation_id,
created_at, expires_at, updated_at`

// Create inserts a PENDING row for a freshly created hold.  A duplicate
// merchant reference yields ErrConflict.
func (r *PaymentRepo) Create(ctx context.Context, p *model.PendingPayment) error {
	const q = `INSERT INTO pending_payments
(merchant_ref, hold_id, popup_id, slot_id, user_id, slot_date, people, inventory_key, amount, status, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := database.Conn(ctx, r.db).ExecContext(ctx, q,
		p.MerchantRef, p.HoldID, p.PopupID, p.SlotID, p.UserID, p.Date, p.People,
		p.InventoryKey, p.Amount, string(model.PaymentPending), p.CreatedAt.UTC(), p.ExpiresAt.UTC(),
	)
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}

// GetByMerchantRef returns the row for ref or ErrNotFound.
func (r *PaymentRepo) GetByMerchantRef(ctx context.Context, ref string) (*model.PendingPayment, error) {
	q := `SELECT ` + paymentColumns + ` FROM pending_payments WHERE merchant_ref = ?`
	return r.scanOne(database.Conn(ctx, r.db).QueryRowContext(ctx, q, ref))
}

// GetByExternalID returns the row already linked to a gateway payment id.
func (r *PaymentRepo) GetByExternalID(ctx context.Context, paymentID string) (*model.PendingPayment, error) {
	q := `SELECT ` + paymentColumns + ` FROM pending_payments WHERE external_payment_id = ?`
	return r.scanOne(database.Conn(ctx, r.db).QueryRowContext(ctx, q, paymentID))
}

// AttachExternalID records the gateway payment id on a row that has none.
func (r *PaymentRepo) AttachExternalID(ctx context.Context, ref, paymentID string) error {
	const q = `UPDATE pending_payments SET external_payment_id = ?
WHERE merchant_ref = ? AND external_payment_id IS NULL`
	_, err := database.Conn(ctx, r.db).ExecContext(ctx, q, paymentID, ref)
	return err
}

// ClaimPaid moves a PENDING row whose hold has not expired at now to PAID.
// It reports false when the row is missing, already resolved or expired.
func (r *PaymentRepo) ClaimPaid(ctx context.Context, ref string, now time.Time) (bool, error) {
	const q = `UPDATE pending_payments SET status = 'PAID'
WHERE merchant_ref = ? AND status = 'PENDING' AND expires_at > ?`
	return r.execOne(ctx, q, ref, now.UTC())
}

// LinkReservation stores the confirmed reservation id on a PAID row.
func (r *PaymentRepo) LinkReservation(ctx context.Context, ref string, reservationID uint64) error {
	const q = `UPDATE pending_payments SET reservation_id = ? WHERE merchant_ref = ? AND status = 'PAID'`
	ok, err := r.execOne(ctx, q, reservationID, ref)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// MarkFailed moves a PENDING row to FAILED.  Rows in any other state are
// left alone.
func (r *PaymentRepo) MarkFailed(ctx context.Context, ref string) (bool, error) {
	const q = `UPDATE pending_payments SET status = 'FAILED' WHERE merchant_ref = ? AND status = 'PENDING'`
	return r.execOne(ctx, q, ref)
}

// DeleteExpired removes the row for ref when it is not PAID and its hold
// expired at or before now.  Only the caller that gets true may restore the
// hold's capacity.
func (r *PaymentRepo) DeleteExpired(ctx context.Context, ref string, now time.Time) (bool, error) {
	const q = `DELETE FROM pending_payments WHERE merchant_ref = ? AND status <> 'PAID' AND expires_at <= ?`
	return r.execOne(ctx, q, ref, now.UTC())
}

// DeleteUnpaid removes the row for ref when it is not PAID regardless of
// expiry.  It backs the rollback of a hold whose confirmation could not be
// stored.
func (r *PaymentRepo) DeleteUnpaid(ctx context.Context, ref string) (bool, error) {
	const q = `DELETE FROM pending_payments WHERE merchant_ref = ? AND status <> 'PAID'`
	return r.execOne(ctx, q, ref)
}

func (r *PaymentRepo) execOne(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PaymentRepo) scanOne(row *sql.Row) (*model.PendingPayment, error) {
	var (
		p      model.PendingPayment
		extID  sql.NullString
		resID  sql.NullInt64
		status string
	)
	err := row.Scan(&p.MerchantRef, &p.HoldID, &extID, &p.PopupID, &p.SlotID, &p.UserID,
		&p.Date, &p.People, &p.InventoryKey, &p.Amount, &status, &resID,
		&p.CreatedAt, &p.ExpiresAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	if extID.Valid {
		s := extID.String
		p.ExternalPaymentID = &s
	}
	if resID.Valid {
		id := uint64(resID.Int64)
		p.ReservationID = &id
	}
	return &p, nil
}

// isDuplicate reports whether err is a MySQL duplicate key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
