package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/popup-slot-reservation/internal/database"
	"github.com/iliyamo/popup-slot-reservation/internal/model"
)

// ReservationRepo provides access to confirmed reservations.  A row is
// written once per successful confirmation and never updated afterwards.
// All timestamp fields are assumed to be stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, popup_id, slot_id, user_id, DATE_FORMAT(slot_date, '%Y-%m-%d'),
start_time, people, status, merchant_ref, created_at`

// Create inserts res and fills in its generated ID.  The creation time is
// stamped here rather than read back, so a successful INSERT is the whole
// write.  It joins the transaction carried by ctx.  A second reservation
// for the same merchant reference yields ErrConflict.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
	if res.Status == "" {
		res.Status = model.ReservationConfirmed
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	const q = `INSERT INTO reservations (popup_id, slot_id, user_id, slot_date, start_time, people, status, merchant_ref, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, q,
		res.PopupID, res.SlotID, res.UserID, res.Date, res.StartTime, res.People, res.Status, res.MerchantRef, res.CreatedAt)
	if isDuplicate(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// GetByIDForUser returns a reservation owned by userID.  A reservation
// that does not exist or belongs to someone else yields ErrNotFound.
func (r *ReservationRepo) GetByIDForUser(ctx context.Context, reservationID, userID uint64) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ? AND user_id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, reservationID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// ListByUser returns the reservations of a user, newest first.
func (r *ReservationRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	return r.list(ctx, q, userID)
}

// ListBySlotDate returns every reservation of a popup on a date ordered by
// slot start time, for the popup operator's door list.
func (r *ReservationRepo) ListBySlotDate(ctx context.Context, popupID uint64, date string) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations
WHERE popup_id = ? AND slot_date = ? ORDER BY start_time, id`
	return r.list(ctx, q, popupID, date)
}

// ConfirmedPeopleBySlot sums reserved people per slot for a popup/date.
// Slots without reservations are absent from the map.
func (r *ReservationRepo) ConfirmedPeopleBySlot(ctx context.Context, popupID uint64, date string) (map[uint64]int, error) {
	const q = `SELECT slot_id, COALESCE(SUM(people), 0) FROM reservations
WHERE popup_id = ? AND slot_date = ? AND status = 'CONFIRMED'
GROUP BY slot_id`
	rows, err := r.db.QueryContext(ctx, q, popupID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uint64]int)
	for rows.Next() {
		var slotID uint64
		var people int
		if err := rows.Scan(&slotID, &people); err != nil {
			return nil, err
		}
		out[slotID] = people
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ReservationRepo) list(ctx context.Context, q string, args ...any) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var res model.Reservation
	var ref sql.NullString
	if err := s.Scan(&res.ID, &res.PopupID, &res.SlotID, &res.UserID, &res.Date,
		&res.StartTime, &res.People, &res.Status, &ref, &res.CreatedAt); err != nil {
		return nil, err
	}
	if ref.Valid {
		v := ref.String
		res.MerchantRef = &v
	}
	return &res, nil
}
