package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGateway_ChargeFetchCancel(t *testing.T) {
	g := NewMockGateway()
	ctx := context.Background()

	p, err := g.Charge(ctx, "popup-h1", 10000)
	require.NoError(t, err)
	assert.True(t, p.Paid())

	got, err := g.FetchPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "popup-h1", got.MerchantRef)
	assert.EqualValues(t, 10000, got.Amount)

	require.NoError(t, g.CancelPayment(ctx, p.ID, "hold_expired"))
	got, err = g.FetchPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)
	reason, ok := g.CancelReason(p.ID)
	assert.True(t, ok)
	assert.Equal(t, "hold_expired", reason)

	_, err = g.FetchPayment(ctx, "missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
	assert.ErrorIs(t, g.CancelPayment(ctx, "missing", "x"), ErrPaymentNotFound)
}

func TestMockGateway_ChargeValidation(t *testing.T) {
	g := NewMockGateway()
	_, err := g.Charge(context.Background(), "", 100)
	assert.Error(t, err)
	_, err = g.Charge(context.Background(), "popup-h1", -1)
	assert.Error(t, err)
}

func TestMockGateway_ParseWebhook(t *testing.T) {
	g := NewMockGateway()

	id, err := g.ParseWebhook([]byte(`{"payment_id":"mock_pay_1"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "mock_pay_1", id)

	_, err = g.ParseWebhook([]byte(`{}`), "")
	assert.Error(t, err)
	_, err = g.ParseWebhook([]byte(`not json`), "")
	assert.Error(t, err)
}

func TestPaymentPaid(t *testing.T) {
	var nilPayment *Payment
	assert.False(t, nilPayment.Paid())
	assert.False(t, (&Payment{Status: StatusPending}).Paid())
	assert.True(t, (&Payment{Status: StatusPaid}).Paid())
}
