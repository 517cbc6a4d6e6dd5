package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEngine_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngine(reg)

	m.HoldCreated()
	m.HoldCreated()
	m.ReserveRejected(PathDirect)
	m.Confirmed(PathPayment)
	m.PaymentOutcome("PAID")
	m.CapacityReleased(3)
	m.HoldExpired()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.holdsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reserveRejected.WithLabelValues(PathDirect)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.confirmations.WithLabelValues(PathPayment)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.confirmations.WithLabelValues(PathDirect)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentOutcomes.WithLabelValues("PAID")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.capacityReleased))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.holdsExpired))
}

func TestEngine_SweepFinished(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngine(reg)

	m.SweepFinished(20*time.Millisecond, nil, 4)
	m.SweepFinished(time.Millisecond, errors.New("boom"), -1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepRuns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepRuns.WithLabelValues("error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.expiryBacklog))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sweepDuration))
}

func TestEngine_RegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewEngine(reg)
	second := NewEngine(reg)

	first.HoldCreated()
	second.HoldCreated()

	assert.Equal(t, 2.0, testutil.ToFloat64(first.holdsCreated))
}

func TestEngine_NilIsNoop(t *testing.T) {
	var m *Engine
	assert.NotPanics(t, func() {
		m.HoldCreated()
		m.ReserveRejected(PathDirect)
		m.Confirmed(PathDirect)
		m.PaymentOutcome("FAILED")
		m.CapacityReleased(1)
		m.HoldExpired()
		m.SweepFinished(time.Second, nil, 0)
	})
}
