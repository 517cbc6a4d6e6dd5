package handler

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/popup-slot-reservation/internal/model"
	"github.com/iliyamo/popup-slot-reservation/internal/repository"
)

// memTables backs the SQL-side stores for handler tests.  Transactions
// run fn directly; the handler flows exercised here never roll back.
type memTables struct {
	mu           sync.Mutex
	popups       map[uint64]model.Popup
	slots        map[uint64][]model.Slot
	payments     map[string]model.PendingPayment
	reservations []model.Reservation
	nextID       uint64
}

func newMemTables() *memTables {
	return &memTables{
		popups:   make(map[uint64]model.Popup),
		slots:    make(map[uint64][]model.Slot),
		payments: make(map[string]model.PendingPayment),
	}
}

func (m *memTables) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *memTables) id() uint64 {
	m.nextID++
	return m.nextID
}

type memSchedule struct{ *memTables }

func (s memSchedule) GetPopup(_ context.Context, id uint64) (*model.Popup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.popups[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s memSchedule) GetSlot(_ context.Context, popupID, slotID uint64) (*model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots[popupID] {
		if sl.ID == slotID {
			return &sl, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s memSchedule) ListSlots(_ context.Context, popupID uint64) ([]model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Slot(nil), s.slots[popupID]...), nil
}

func (s memSchedule) CreatePopup(_ context.Context, p *model.Popup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	s.popups[p.ID] = *p
	return nil
}

func (s memSchedule) CreateSlot(_ context.Context, sl *model.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.ID = s.id()
	s.slots[sl.PopupID] = append(s.slots[sl.PopupID], *sl)
	return nil
}

type memPayments struct{ *memTables }

func (s memPayments) Create(_ context.Context, p *model.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.MerchantRef]; ok {
		return repository.ErrConflict
	}
	s.payments[p.MerchantRef] = *p
	return nil
}

func (s memPayments) GetByMerchantRef(_ context.Context, ref string) (*model.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s memPayments) GetByExternalID(_ context.Context, paymentID string) (*model.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ExternalPaymentID != nil && *p.ExternalPaymentID == paymentID {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s memPayments) AttachExternalID(_ context.Context, ref, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[ref]; ok && p.ExternalPaymentID == nil {
		p.ExternalPaymentID = &paymentID
		s.payments[ref] = p
	}
	return nil
}

func (s memPayments) ClaimPaid(_ context.Context, ref string, now time.Time) (bool, error) {
	return s.transition(ref, func(p model.PendingPayment) bool {
		return p.Status == model.PaymentPending && p.ExpiresAt.After(now)
	}, model.PaymentPaid), nil
}

func (s memPayments) MarkFailed(_ context.Context, ref string) (bool, error) {
	return s.transition(ref, func(p model.PendingPayment) bool {
		return p.Status == model.PaymentPending
	}, model.PaymentFailed), nil
}

func (s memPayments) transition(ref string, when func(model.PendingPayment) bool, to model.PaymentStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ref]
	if !ok || !when(p) {
		return false
	}
	p.Status = to
	s.payments[ref] = p
	return true
}

func (s memPayments) LinkReservation(_ context.Context, ref string, reservationID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ref]
	if !ok || p.Status != model.PaymentPaid {
		return repository.ErrNotFound
	}
	p.ReservationID = &reservationID
	s.payments[ref] = p
	return nil
}

func (s memPayments) DeleteExpired(_ context.Context, ref string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ref]
	if !ok || p.Status == model.PaymentPaid || p.ExpiresAt.After(now) {
		return false, nil
	}
	delete(s.payments, ref)
	return true, nil
}

func (s memPayments) DeleteUnpaid(_ context.Context, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ref]
	if !ok || p.Status == model.PaymentPaid {
		return false, nil
	}
	delete(s.payments, ref)
	return true, nil
}

type memReservations struct{ *memTables }

func (s memReservations) Create(_ context.Context, res *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.MerchantRef != nil {
		for _, r := range s.reservations {
			if r.MerchantRef != nil && *r.MerchantRef == *res.MerchantRef {
				return repository.ErrConflict
			}
		}
	}
	res.ID = s.id()
	res.CreatedAt = time.Now().UTC()
	s.reservations = append(s.reservations, *res)
	return nil
}

func (s memReservations) GetByIDForUser(_ context.Context, reservationID, userID uint64) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if r.ID == reservationID && r.UserID == userID {
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s memReservations) ListByUser(_ context.Context, userID uint64) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Reservation
	for i := len(s.reservations) - 1; i >= 0; i-- {
		if s.reservations[i].UserID == userID {
			out = append(out, s.reservations[i])
		}
	}
	return out, nil
}

func (s memReservations) ListBySlotDate(_ context.Context, popupID uint64, date string) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Reservation
	for _, r := range s.reservations {
		if r.PopupID == popupID && r.Date == date {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s memReservations) ConfirmedPeopleBySlot(_ context.Context, popupID uint64, date string) (map[uint64]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]int)
	for _, r := range s.reservations {
		if r.PopupID == popupID && r.Date == date {
			out[r.SlotID] += r.People
		}
	}
	return out, nil
}
