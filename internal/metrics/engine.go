// Package metrics exposes prometheus collectors for the reservation engine.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Confirmation paths.
const (
	PathDirect  = "direct"
	PathPayment = "payment"
)

// Engine holds the counters and histograms of the reservation engine.  A
// nil *Engine is valid and records nothing, so components can be built
// without metrics in tests.
type Engine struct {
	holdsCreated     prometheus.Counter
	reserveRejected  *prometheus.CounterVec
	confirmations    *prometheus.CounterVec
	paymentOutcomes  *prometheus.CounterVec
	holdsExpired     prometheus.Counter
	capacityReleased prometheus.Counter
	sweepRuns        *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	expiryBacklog    prometheus.Gauge
}

// NewEngine registers the engine collectors on registerer, or on the
// default registerer when it is nil.  Registering twice reuses the
// existing collectors.
func NewEngine(registerer prometheus.Registerer) *Engine {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Engine{
		holdsCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "popup_holds_created_total",
			Help: "Total number of holds created",
		})),
		reserveRejected: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "popup_reserve_rejected_total",
			Help: "Reservation attempts refused for lack of capacity, by path",
		}, []string{"path"})),
		confirmations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "popup_reservations_confirmed_total",
			Help: "Confirmed reservations, by path",
		}, []string{"path"})),
		paymentOutcomes: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "popup_payment_completions_total",
			Help: "Payment completion attempts, by outcome code",
		}, []string{"outcome"})),
		holdsExpired: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "popup_holds_expired_total",
			Help: "Holds expired by the reconciler with capacity restored",
		})),
		capacityReleased: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "popup_capacity_released_total",
			Help: "Capacity units returned to inventory",
		})),
		sweepRuns: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "popup_reconciler_runs_total",
			Help: "Reconciler sweeps, by result",
		}, []string{"result"})),
		sweepDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "popup_reconciler_sweep_duration_seconds",
			Help:    "Duration of reconciler sweeps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		})),
		expiryBacklog: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "popup_expiry_index_size",
			Help: "Holds waiting in the expiry index after the last sweep",
		})),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	if err := registerer.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := are.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type: %T", are.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return c
}

// HoldCreated counts a new hold.
func (m *Engine) HoldCreated() {
	if m == nil {
		return
	}
	m.holdsCreated.Inc()
}

// ReserveRejected counts a capacity refusal on path.
func (m *Engine) ReserveRejected(path string) {
	if m == nil {
		return
	}
	m.reserveRejected.WithLabelValues(path).Inc()
}

// Confirmed counts a confirmed reservation on path.
func (m *Engine) Confirmed(path string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(path).Inc()
}

// PaymentOutcome counts a payment completion by its outcome code.
func (m *Engine) PaymentOutcome(outcome string) {
	if m == nil {
		return
	}
	m.paymentOutcomes.WithLabelValues(outcome).Inc()
}

// CapacityReleased counts units given back to inventory.
func (m *Engine) CapacityReleased(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.capacityReleased.Add(float64(units))
}

// HoldExpired counts a hold whose capacity the reconciler restored.
func (m *Engine) HoldExpired() {
	if m == nil {
		return
	}
	m.holdsExpired.Inc()
}

// SweepFinished records one reconciler sweep.
func (m *Engine) SweepFinished(d time.Duration, err error, backlog int64) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(d.Seconds())
	if backlog >= 0 {
		m.expiryBacklog.Set(float64(backlog))
	}
}
