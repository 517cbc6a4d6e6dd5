package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/popup-slot-reservation/internal/database"
	"github.com/iliyamo/popup-slot-reservation/internal/model"
)

var paymentRowColumns = []string{
	"merchant_ref", "hold_id", "external_payment_id", "popup_id", "slot_id", "user_id",
	"slot_date", "people", "inventory_key", "amount", "status", "reservation_id",
	"created_at", "expires_at", "updated_at",
}

func TestPaymentRepo_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepo(db)
	now := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)
	p := &model.PendingPayment{
		MerchantRef: "popup-h1", HoldID: "h1", PopupID: 1, SlotID: 10, UserID: 42,
		Date: "2030-06-10", People: 2, InventoryKey: "inventory:1:2030-06-10:10",
		Amount: 10000, CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute),
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO pending_payments`)).
		WithArgs("popup-h1", "h1", uint64(1), uint64(10), uint64(42), "2030-06-10", 2,
			"inventory:1:2030-06-10:10", int64(10000), "PENDING", now, now.Add(10*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), p))

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO pending_payments`)).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	assert.ErrorIs(t, repo.Create(context.Background(), p), ErrConflict)
}

func TestPaymentRepo_GetByMerchantRef(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepo(db)
	now := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM pending_payments WHERE merchant_ref = ?`)).
		WithArgs("popup-h1").
		WillReturnRows(sqlmock.NewRows(paymentRowColumns).AddRow(
			"popup-h1", "h1", "pay_1", 1, 10, 42, "2030-06-10", 2, "inventory:1:2030-06-10:10",
			10000, "PAID", 77, now, now.Add(10*time.Minute), now))

	p, err := repo.GetByMerchantRef(context.Background(), "popup-h1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, p.Status)
	require.NotNil(t, p.ExternalPaymentID)
	assert.Equal(t, "pay_1", *p.ExternalPaymentID)
	require.NotNil(t, p.ReservationID)
	assert.EqualValues(t, 77, *p.ReservationID)
	assert.Equal(t, 2, p.People)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM pending_payments WHERE merchant_ref = ?`)).
		WithArgs("popup-h2").
		WillReturnRows(sqlmock.NewRows(paymentRowColumns).AddRow(
			"popup-h2", "h2", nil, 1, 10, 42, "2030-06-10", 1, "inventory:1:2030-06-10:10",
			5000, "PENDING", nil, now, now.Add(10*time.Minute), now))
	p, err = repo.GetByMerchantRef(context.Background(), "popup-h2")
	require.NoError(t, err)
	assert.Nil(t, p.ExternalPaymentID)
	assert.Nil(t, p.ReservationID)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM pending_payments WHERE external_payment_id = ?`)).
		WithArgs("pay_x").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByExternalID(context.Background(), "pay_x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPaymentRepo_ConditionalWrites(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepo(db)
	ctx := context.Background()
	now := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'PAID'`)).
		WithArgs("popup-h1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.ClaimPaid(ctx, "popup-h1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'PAID'`)).
		WithArgs("popup-h1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.ClaimPaid(ctx, "popup-h1", now)
	require.NoError(t, err)
	assert.False(t, ok, "a second claim loses")

	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'FAILED'`)).
		WithArgs("popup-h1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err = repo.MarkFailed(ctx, "popup-h1")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(regexp.QuoteMeta(`status <> 'PAID' AND expires_at <= ?`)).
		WithArgs("popup-h1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.DeleteExpired(ctx, "popup-h1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM pending_payments WHERE merchant_ref = ? AND status <> 'PAID'`)).
		WithArgs("popup-h1").
		WillReturnError(errors.New("connection reset"))
	_, err = repo.DeleteUnpaid(ctx, "popup-h1")
	assert.Error(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`external_payment_id IS NULL`)).
		WithArgs("pay_1", "popup-h1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.AttachExternalID(ctx, "popup-h1", "pay_1"))
}

func TestPaymentRepo_LinkReservation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`SET reservation_id = ?`)).
		WithArgs(uint64(5), "popup-h1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.LinkReservation(context.Background(), "popup-h1", 5))

	mock.ExpectExec(regexp.QuoteMeta(`SET reservation_id = ?`)).
		WithArgs(uint64(5), "popup-h2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.LinkReservation(context.Background(), "popup-h2", 5), ErrNotFound)
}

func TestPaymentRepo_JoinsContextTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepo(db)
	txm := database.NewTxManager(db)
	now := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'PAID'`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SET reservation_id = ?`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := txm.WithTx(context.Background(), func(ctx context.Context) error {
		ok, err := repo.ClaimPaid(ctx, "popup-h1", now)
		if err != nil || !ok {
			return errors.New("claim failed")
		}
		return repo.LinkReservation(ctx, "popup-h1", 9)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
