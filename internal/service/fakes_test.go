package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/popup-slot-reservation/internal/model"
	"github.com/iliyamo/popup-slot-reservation/internal/payment"
	"github.com/iliyamo/popup-slot-reservation/internal/queue"
	"github.com/iliyamo/popup-slot-reservation/internal/repository"
)

// memDB is an in-memory stand-in for the MySQL tables.  One lock
// serialises transactions with standalone statements, which is stronger
// than InnoDB row locking but gives the same outcome for single-row
// conditional writes.
type memDB struct {
	mu           sync.Mutex
	payments     map[string]model.PendingPayment
	reservations []model.Reservation
	nextID       uint64

	failPaymentCreate error
	failReservation   error
}

type memTxKey struct{}

func newMemDB() *memDB {
	return &memDB{payments: make(map[string]model.PendingPayment)}
}

func (db *memDB) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	db.mu.Lock()
	return db.mu.Unlock
}

// WithTx implements Transactor; changes are discarded when fn fails.
func (db *memDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	payments := make(map[string]model.PendingPayment, len(db.payments))
	for k, v := range db.payments {
		payments[k] = v
	}
	reservations := append([]model.Reservation(nil), db.reservations...)
	nextID := db.nextID
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		db.payments, db.reservations, db.nextID = payments, reservations, nextID
		return err
	}
	return nil
}

func (db *memDB) row(ref string) (model.PendingPayment, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.payments[ref]
	return p, ok
}

func (db *memDB) reservationCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.reservations)
}

type fakePayments struct{ db *memDB }

func (f fakePayments) Create(ctx context.Context, p *model.PendingPayment) error {
	defer f.db.lock(ctx)()
	if f.db.failPaymentCreate != nil {
		return f.db.failPaymentCreate
	}
	if _, ok := f.db.payments[p.MerchantRef]; ok {
		return repository.ErrConflict
	}
	f.db.payments[p.MerchantRef] = *p
	return nil
}

func (f fakePayments) GetByMerchantRef(ctx context.Context, ref string) (*model.PendingPayment, error) {
	defer f.db.lock(ctx)()
	p, ok := f.db.payments[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (f fakePayments) GetByExternalID(ctx context.Context, paymentID string) (*model.PendingPayment, error) {
	defer f.db.lock(ctx)()
	for _, p := range f.db.payments {
		if p.ExternalPaymentID != nil && *p.ExternalPaymentID == paymentID {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f fakePayments) AttachExternalID(ctx context.Context, ref, paymentID string) error {
	defer f.db.lock(ctx)()
	p, ok := f.db.payments[ref]
	if ok && p.ExternalPaymentID == nil {
		id := paymentID
		p.ExternalPaymentID = &id
		f.db.payments[ref] = p
	}
	return nil
}

func (f fakePayments) ClaimPaid(ctx context.Context, ref string, now time.Time) (bool, error) {
	defer f.db.lock(ctx)()
	p, ok := f.db.payments[ref]
	if !ok || p.Status != model.PaymentPending || !p.ExpiresAt.After(now) {
		return false, nil
	}
	p.Status = model.PaymentPaid
	f.db.payments[ref] = p
	return true, nil
}

func (f fakePayments) LinkReservation(ctx context.Context, ref string, reservationID uint64) error {
	defer f.db.lock(ctx)()
	p, ok := f.db.payments[ref]
	if !ok || p.Status != model.PaymentPaid {
		return repository.ErrNotFound
	}
	p.ReservationID = &reservationID
	f.db.payments[ref] = p
	return nil
}

func (f fakePayments) MarkFailed(ctx context.Context, ref string) (bool, error) {
	defer f.db.lock(ctx)()
	p, ok := f.db.payments[ref]
	if !ok || p.Status != model.PaymentPending {
		return false, nil
	}
	p.Status = model.PaymentFailed
	f.db.payments[ref] = p
	return true, nil
}

func (f fakePayments) DeleteExpired(ctx context.Context, ref string, now time.Time) (bool, error) {
	defer f.db.lock(ctx)()
	p, ok := f.db.payments[ref]
	if !ok || p.Status == model.PaymentPaid || p.ExpiresAt.After(now) {
		return false, nil
	}
	delete(f.db.payments, ref)
	return true, nil
}

func (f fakePayments) DeleteUnpaid(ctx context.Context, ref string) (bool, error) {
	defer f.db.lock(ctx)()
	p, ok := f.db.payments[ref]
	if !ok || p.Status == model.PaymentPaid {
		return false, nil
	}
	delete(f.db.payments, ref)
	return true, nil
}

type fakeReservations struct{ db *memDB }

func (f fakeReservations) Create(ctx context.Context, res *model.Reservation) error {
	defer f.db.lock(ctx)()
	if f.db.failReservation != nil {
		return f.db.failReservation
	}
	if res.MerchantRef != nil {
		for _, r := range f.db.reservations {
			if r.MerchantRef != nil && *r.MerchantRef == *res.MerchantRef {
				return repository.ErrConflict
			}
		}
	}
	f.db.nextID++
	res.ID = f.db.nextID
	f.db.reservations = append(f.db.reservations, *res)
	return nil
}

func (f fakeReservations) GetByIDForUser(ctx context.Context, reservationID, userID uint64) (*model.Reservation, error) {
	defer f.db.lock(ctx)()
	for _, r := range f.db.reservations {
		if r.ID == reservationID && r.UserID == userID {
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f fakeReservations) ListByUser(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	defer f.db.lock(ctx)()
	var out []model.Reservation
	for _, r := range f.db.reservations {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f fakeReservations) ListBySlotDate(ctx context.Context, popupID uint64, date string) ([]model.Reservation, error) {
	defer f.db.lock(ctx)()
	var out []model.Reservation
	for _, r := range f.db.reservations {
		if r.PopupID == popupID && r.Date == date {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f fakeReservations) ConfirmedPeopleBySlot(ctx context.Context, popupID uint64, date string) (map[uint64]int, error) {
	defer f.db.lock(ctx)()
	out := make(map[uint64]int)
	for _, r := range f.db.reservations {
		if r.PopupID == popupID && r.Date == date {
			out[r.SlotID] += r.People
		}
	}
	return out, nil
}

type fakeSchedule struct {
	mu     sync.Mutex
	popups map[uint64]model.Popup
	slots  map[uint64][]model.Slot
	nextID uint64
}

func newFakeSchedule() *fakeSchedule {
	return &fakeSchedule{popups: make(map[uint64]model.Popup), slots: make(map[uint64][]model.Slot), nextID: 100}
}

func (f *fakeSchedule) GetPopup(_ context.Context, id uint64) (*model.Popup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.popups[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (f *fakeSchedule) GetSlot(_ context.Context, popupID, slotID uint64) (*model.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.slots[popupID] {
		if s.ID == slotID {
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSchedule) ListSlots(_ context.Context, popupID uint64) ([]model.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Slot(nil), f.slots[popupID]...), nil
}

func (f *fakeSchedule) CreatePopup(_ context.Context, p *model.Popup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == 0 {
		f.nextID++
		p.ID = f.nextID
	}
	f.popups[p.ID] = *p
	return nil
}

func (f *fakeSchedule) CreateSlot(_ context.Context, s *model.Slot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == 0 {
		f.nextID++
		s.ID = f.nextID
	}
	f.slots[s.PopupID] = append(f.slots[s.PopupID], *s)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.EventType() == eventType {
			n++
		}
	}
	return n
}

const (
	testPopupID = uint64(1)
	testSlotID  = uint64(10)
	testUserID  = uint64(42)
	testDate    = "2030-06-10"
	testPrice   = int64(5000)
	testHoldTTL = 10 * time.Minute
)

// testEngine wires every component over miniredis and the in-memory
// tables with one shared fake clock.
type testEngine struct {
	mr           *miniredis.Miniredis
	clock        *fakeClock
	db           *memDB
	schedule     *fakeSchedule
	inventory    *repository.InventoryRepo
	holdRepo     *repository.HoldRepo
	holds        *HoldManager
	reservations *ReservationService
	payments     *PaymentService
	reconciler   *Reconciler
	availability *AvailabilityService
	gateway      *payment.MockGateway
	events       *recordingPublisher
}

func newTestEngine(t *testing.T, capacity int, requiresPayment bool) *testEngine {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := &testEngine{
		mr:       mr,
		clock:    &fakeClock{now: time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)},
		db:       newMemDB(),
		schedule: newFakeSchedule(),
		gateway:  payment.NewMockGateway(),
		events:   &recordingPublisher{},
	}
	e.inventory = repository.NewInventoryRepo(rdb)
	e.holdRepo = repository.NewHoldRepo(rdb, 0)
	pays := fakePayments{db: e.db}
	res := fakeReservations{db: e.db}

	e.holds = NewHoldManager(e.inventory, e.holdRepo, pays, WithHoldTTL(testHoldTTL), WithHoldClock(e.clock.Now))
	e.reservations = NewReservationService(e.schedule, e.inventory, e.holds, res, pays, e.db,
		WithPublisher(e.events), WithReservationClock(e.clock.Now))
	e.payments = NewPaymentService(e.gateway, pays, e.holds, e.reservations, nil)
	e.payments.SetClock(e.clock.Now)
	e.reconciler = NewReconciler(e.holdRepo, pays, WithClock(e.clock.Now), WithEvents(e.events), WithBatchSize(50))
	e.availability = NewAvailabilityService(e.schedule, res, e.holdRepo, e.inventory)
	e.availability.SetClock(e.clock.Now)

	ctx := context.Background()
	require.NoError(t, e.schedule.CreatePopup(ctx, &model.Popup{
		ID: testPopupID, OwnerID: 7, Name: "Matcha Bar", StartDate: "2030-06-01", EndDate: "2030-06-30",
		UnitPrice: testPrice, RequiresPayment: requiresPayment,
	}))
	require.NoError(t, e.schedule.CreateSlot(ctx, &model.Slot{
		ID: testSlotID, PopupID: testPopupID, StartTime: "11:00", EndTime: "12:00", Capacity: capacity,
	}))
	_, err := e.inventory.Provision(ctx, repository.InventoryKey(testPopupID, testDate, testSlotID), capacity)
	require.NoError(t, err)
	return e
}

func (e *testEngine) remaining(t *testing.T) int {
	t.Helper()
	n, err := e.inventory.Remaining(context.Background(), repository.InventoryKey(testPopupID, testDate, testSlotID))
	require.NoError(t, err)
	return n
}

func (e *testEngine) indexSize(t *testing.T) int64 {
	t.Helper()
	n, err := e.holdRepo.IndexSize(context.Background())
	require.NoError(t, err)
	return n
}

func request(people int) ReserveRequest {
	return ReserveRequest{PopupID: testPopupID, SlotID: testSlotID, Date: testDate, People: people}
}

// paidFor registers a settled gateway payment for a hold.
func (e *testEngine) paidFor(h *HoldResult, amount int64) string {
	id := "pay_" + h.HoldID[:8]
	e.gateway.Put(payment.Payment{
		ID: id, Status: payment.StatusPaid, Amount: amount, Currency: "usd", MerchantRef: h.MerchantRef,
	})
	return id
}

// failingPayments lets a test break one read path of the payment store.
type failingPayments struct {
	PaymentStore
	getErr error
}

func (f failingPayments) GetByMerchantRef(ctx context.Context, ref string) (*model.PendingPayment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.PaymentStore.GetByMerchantRef(ctx, ref)
}

var errBoom = errors.New("boom")
