package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/popup-slot-reservation/internal/model"
)

// ScheduleRepo reads and writes popups and their recurring slots.  The
// reservation engine treats it as its timetable: it answers which slots
// exist, what they hold and on which dates a popup is open.  It never
// touches capacity counters.
type ScheduleRepo struct {
	db *sql.DB
}

// NewScheduleRepo returns a new ScheduleRepo bound to the given database.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

// GetPopup returns the popup with id or ErrNotFound.
func (r *ScheduleRepo) GetPopup(ctx context.Context, id uint64) (*model.Popup, error) {
	const q = `SELECT id, owner_id, name, DATE_FORMAT(start_date, '%Y-%m-%d'), DATE_FORMAT(end_date, '%Y-%m-%d'),
unit_price, requires_payment, created_at
FROM popups WHERE id = ?`
	var p model.Popup
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.StartDate, &p.EndDate, &p.UnitPrice, &p.RequiresPayment, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetSlot returns one slot of a popup.  A slot that exists under a
// different popup is reported as ErrNotFound.
func (r *ScheduleRepo) GetSlot(ctx context.Context, popupID, slotID uint64) (*model.Slot, error) {
	const q = `SELECT id, popup_id, start_time, end_time, capacity, price
FROM popup_slots WHERE id = ? AND popup_id = ?`
	s, err := scanSlot(r.db.QueryRowContext(ctx, q, slotID, popupID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ListSlots returns the slots of a popup ordered by start time.
func (r *ScheduleRepo) ListSlots(ctx context.Context, popupID uint64) ([]model.Slot, error) {
	const q = `SELECT id, popup_id, start_time, end_time, capacity, price
FROM popup_slots WHERE popup_id = ? ORDER BY start_time, id`
	rows, err := r.db.QueryContext(ctx, q, popupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	slots := make([]model.Slot, 0)
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

// CreatePopup inserts p and populates its ID and creation time.
func (r *ScheduleRepo) CreatePopup(ctx context.Context, p *model.Popup) error {
	const q = `INSERT INTO popups (owner_id, name, start_date, end_date, unit_price, requires_payment)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, p.OwnerID, p.Name, p.StartDate, p.EndDate, p.UnitPrice, p.RequiresPayment)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return r.db.QueryRowContext(ctx, `SELECT created_at FROM popups WHERE id = ?`, p.ID).Scan(&p.CreatedAt)
}

// CreateSlot inserts s under its popup and populates its ID.
func (r *ScheduleRepo) CreateSlot(ctx context.Context, s *model.Slot) error {
	const q = `INSERT INTO popup_slots (popup_id, start_time, end_time, capacity, price) VALUES (?, ?, ?, ?, ?)`
	var price sql.NullInt64
	if s.Price != nil {
		price = sql.NullInt64{Int64: *s.Price, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, q, s.PopupID, s.StartTime, s.EndTime, s.Capacity, price)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

func scanSlot(s rowScanner) (*model.Slot, error) {
	var slot model.Slot
	var price sql.NullInt64
	if err := s.Scan(&slot.ID, &slot.PopupID, &slot.StartTime, &slot.EndTime, &slot.Capacity, &price); err != nil {
		return nil, err
	}
	if price.Valid {
		v := price.Int64
		slot.Price = &v
	}
	return &slot, nil
}
