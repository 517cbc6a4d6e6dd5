package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockGateway is an in-memory provider used for local development and
// tests.  Payments are created through Charge or Put and settle
// immediately.
type MockGateway struct {
	mu       sync.RWMutex
	payments map[string]*Payment
	canceled map[string]string
}

// NewMockGateway returns an empty mock provider.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		payments: make(map[string]*Payment),
		canceled: make(map[string]string),
	}
}

// Charge records a settled payment of amount for merchantRef and returns
// its id, the way a checkout page would after the customer pays.
func (g *MockGateway) Charge(_ context.Context, merchantRef string, amount int64) (*Payment, error) {
	if merchantRef == "" {
		return nil, fmt.Errorf("merchant reference is required")
	}
	if amount < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	p := &Payment{
		ID:          fmt.Sprintf("mock_pay_%s", uuid.New().String()[:8]),
		Status:      StatusPaid,
		Amount:      amount,
		Currency:    "usd",
		MerchantRef: merchantRef,
	}
	g.Put(*p)
	return p, nil
}

// Put stores p as is, replacing any payment with the same id.
func (g *MockGateway) Put(p Payment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[p.ID] = &p
}

// FetchPayment implements Gateway.
func (g *MockGateway) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

// CancelPayment implements Gateway.
func (g *MockGateway) CancelPayment(_ context.Context, paymentID, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	p.Status = StatusCanceled
	g.canceled[paymentID] = reason
	return nil
}

// CancelReason returns the reason a payment was canceled with.
func (g *MockGateway) CancelReason(paymentID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.canceled[paymentID]
	return r, ok
}

// Name implements Gateway.
func (g *MockGateway) Name() string { return "mock" }

// ParseWebhook accepts an unsigned {"payment_id": "..."} body.
func (g *MockGateway) ParseWebhook(payload []byte, _ string) (string, error) {
	var body struct {
		PaymentID string `json:"payment_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", fmt.Errorf("decode webhook: %w", err)
	}
	if body.PaymentID == "" {
		return "", fmt.Errorf("payment_id is required")
	}
	return body.PaymentID, nil
}
