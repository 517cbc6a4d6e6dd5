package payment

import (
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test_secret"

func signedEvent(t *testing.T, eventType, intentID string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{
  "id": "evt_1",
  "object": "event",
  "type": %q,
  "data": {"object": {"id": %q, "object": "payment_intent", "status": "succeeded"}}
}`, eventType, intentID))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestStripeGateway_ParseWebhook(t *testing.T) {
	g := &StripeGateway{webhookSecret: testWebhookSecret}

	payload, sig := signedEvent(t, "payment_intent.succeeded", "pi_123")
	id, err := g.ParseWebhook(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", id)

	payload, sig = signedEvent(t, "charge.refunded", "pi_123")
	_, err = g.ParseWebhook(payload, sig)
	assert.ErrorIs(t, err, ErrIgnoredEvent)

	_, err = g.ParseWebhook(payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeGateway_RequiresSecrets(t *testing.T) {
	_, err := NewStripeGateway(StripeConfig{})
	assert.Error(t, err)

	g := &StripeGateway{}
	_, err = g.ParseWebhook([]byte(`{}`), "sig")
	assert.Error(t, err)
}

func TestIntentStatus(t *testing.T) {
	cases := map[stripe.PaymentIntentStatus]Status{
		stripe.PaymentIntentStatusSucceeded:             StatusPaid,
		stripe.PaymentIntentStatusCanceled:              StatusCanceled,
		stripe.PaymentIntentStatusRequiresPaymentMethod: StatusFailed,
		stripe.PaymentIntentStatusProcessing:            StatusPending,
		stripe.PaymentIntentStatusRequiresAction:        StatusPending,
	}
	for in, want := range cases {
		assert.Equal(t, want, intentStatus(in), string(in))
	}
}
