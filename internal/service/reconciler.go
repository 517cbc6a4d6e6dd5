package service

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/popup-slot-reservation/internal/metrics"
	"github.com/iliyamo/popup-slot-reservation/internal/model"
	"github.com/iliyamo/popup-slot-reservation/internal/queue"
	"github.com/iliyamo/popup-slot-reservation/internal/repository"
)

const (
	defaultSweepInterval  = 30 * time.Second
	defaultSweepBatchSize = 100
)

// ReconcilerOptions configures the expiry reconciler.
type ReconcilerOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
	Publisher EventPublisher
	Metrics   *metrics.Engine
}

// ReconcilerOption customises ReconcilerOptions.
type ReconcilerOption func(*ReconcilerOptions)

// WithLogger sets the reconciler logger.
func WithLogger(logger *log.Entry) ReconcilerOption {
	return func(o *ReconcilerOptions) { o.Logger = logger }
}

// WithInterval sets the time between sweeps.
func WithInterval(interval time.Duration) ReconcilerOption {
	return func(o *ReconcilerOptions) { o.Interval = interval }
}

// WithBatchSize bounds how many due holds one sweep handles.
func WithBatchSize(n int) ReconcilerOption {
	return func(o *ReconcilerOptions) { o.BatchSize = n }
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(o *ReconcilerOptions) { o.Clock = now }
}

// WithEvents sets where hold.expired events go.
func WithEvents(p EventPublisher) ReconcilerOption {
	return func(o *ReconcilerOptions) { o.Publisher = p }
}

// WithMetrics attaches engine metrics.
func WithMetrics(m *metrics.Engine) ReconcilerOption {
	return func(o *ReconcilerOptions) { o.Metrics = m }
}

// SweepResult counts what one sweep did with its batch.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Dropped int `json:"dropped"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ReconcilerStats summarises the reconciler since start.
type ReconcilerStats struct {
	Running       bool        `json:"running"`
	Interval      string      `json:"interval"`
	BatchSize     int         `json:"batch_size"`
	Runs          int64       `json:"runs"`
	TotalExpired  int64       `json:"total_expired"`
	TotalReleased int64       `json:"total_released"`
	TotalFailed   int64       `json:"total_failed"`
	LastRunAt     *time.Time  `json:"last_run_at,omitempty"`
	LastResult    SweepResult `json:"last_result"`
	LastError     string      `json:"last_error,omitempty"`
	Backlog       int64       `json:"backlog"`
}

// Reconciler expires holds whose payment never arrived and gives their
// capacity back.  Every restore is gated on a conditional delete of the
// pending payment row, so duplicate or concurrent sweeps and a racing
// payment completion can never release the same hold twice.
type Reconciler struct {
	holds     HoldStore
	payments  PaymentStore
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
	events    EventPublisher
	metrics   *metrics.Engine

	mu      sync.Mutex
	running bool
	stats   ReconcilerStats
}

// NewReconciler builds a reconciler over the hold and payment stores.
// Capacity is restored through the hold store's atomic release.
func NewReconciler(holds HoldStore, payments PaymentStore, options ...ReconcilerOption) *Reconciler {
	opts := ReconcilerOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "expiry-reconciler")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	return &Reconciler{
		holds:     holds,
		payments:  payments,
		logger:    opts.Logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		now:       opts.Clock,
		events:    opts.Publisher,
		metrics:   opts.Metrics,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Warn("reconciler already running")
		return
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	r.logger.WithFields(log.Fields{"interval": r.interval, "batch_size": r.batchSize}).Info("reconciler started")
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	res, err := r.Sweep(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.WithError(err).Warn("sweep failed")
		return
	}
	if res.Expired > 0 || res.Failed > 0 {
		r.logger.WithFields(log.Fields{
			"scanned": res.Scanned, "expired": res.Expired, "dropped": res.Dropped, "failed": res.Failed,
		}).Info("sweep completed")
	}
}

// Sweep processes one batch of holds whose expiry is due.  A failure on
// one hold is counted and logged; its index entry stays so the next sweep
// retries it.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	now := r.now()
	var res SweepResult

	ids, err := r.holds.Due(ctx, now, r.batchSize)
	if err != nil {
		r.finish(start, res, 0, err)
		return res, err
	}
	res.Scanned = len(ids)
	released := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			r.finish(start, res, released, err)
			return res, err
		}
		outcome, n, err := r.reconcile(ctx, id, now)
		if err != nil {
			res.Failed++
			r.logger.WithError(err).WithField("hold_id", id).Warn("reconcile hold failed")
			continue
		}
		released += n
		switch outcome {
		case outcomeExpired:
			res.Expired++
		case outcomeDropped:
			res.Dropped++
		default:
			res.Skipped++
		}
	}
	r.finish(start, res, released, nil)
	return res, nil
}

type sweepOutcome int

const (
	outcomeSkipped sweepOutcome = iota
	outcomeExpired
	outcomeDropped
)

// reconcile settles one due hold and reports how many units it released.
func (r *Reconciler) reconcile(ctx context.Context, holdID string, now time.Time) (sweepOutcome, int, error) {
	hold, err := r.holds.Get(ctx, holdID)
	if errors.Is(err, repository.ErrNotFound) {
		hold = nil
	} else if err != nil {
		return outcomeSkipped, 0, err
	}
	if hold != nil && !hold.Expired(now) {
		return outcomeSkipped, 0, nil
	}

	ref := MerchantReference(holdID)
	row, err := r.payments.GetByMerchantRef(ctx, ref)
	if errors.Is(err, repository.ErrNotFound) {
		return r.reconcileWithoutRow(ctx, holdID, hold)
	}
	if err != nil {
		return outcomeSkipped, 0, err
	}

	if row.Status == model.PaymentPaid {
		// converted; the hold record is stale
		if err := r.holds.Delete(ctx, holdID); err != nil {
			return outcomeSkipped, 0, err
		}
		return outcomeDropped, 0, nil
	}
	if row.ExpiresAt.After(now) {
		return outcomeSkipped, 0, nil
	}

	won, err := r.payments.DeleteExpired(ctx, ref, now)
	if err != nil {
		return outcomeSkipped, 0, err
	}
	if !won {
		// a concurrent sweep or a payment completion resolved the row; the
		// index entry is left for the winner or the next sweep
		return outcomeSkipped, 0, nil
	}

	n, err := r.holds.ReleaseAndDelete(ctx, holdID)
	if err != nil {
		// the hold record still guards the units; the next sweep finds the
		// row gone and releases through reconcileWithoutRow
		return outcomeSkipped, 0, err
	}
	if n < 0 {
		n = 0
		if hold == nil {
			r.logger.WithFields(log.Fields{
				"hold_id": holdID, "inventory_key": row.InventoryKey, "people": row.People,
			}).Error("hold record lapsed before its expiry was swept, capacity not restored")
		}
	}

	r.metrics.HoldExpired()
	r.metrics.CapacityReleased(n)
	r.publishExpired(ctx, row, now)
	return outcomeExpired, n, nil
}

// reconcileWithoutRow handles a due hold whose payment row does not exist:
// either an earlier restore stopped halfway or the hold was never fully
// created.  The hold record itself guards the release.
func (r *Reconciler) reconcileWithoutRow(ctx context.Context, holdID string, hold *model.Hold) (sweepOutcome, int, error) {
	if hold == nil {
		if err := r.holds.Unindex(ctx, holdID); err != nil {
			return outcomeSkipped, 0, err
		}
		return outcomeDropped, 0, nil
	}
	n, err := r.holds.ReleaseAndDelete(ctx, holdID)
	if err != nil {
		return outcomeSkipped, 0, err
	}
	if n < 0 {
		return outcomeDropped, 0, r.holds.Unindex(ctx, holdID)
	}
	r.metrics.CapacityReleased(n)
	return outcomeDropped, n, nil
}

func (r *Reconciler) publishExpired(ctx context.Context, row *model.PendingPayment, now time.Time) {
	ev := queue.HoldExpiredEvent{
		HoldID:      row.HoldID,
		MerchantRef: row.MerchantRef,
		PopupID:     row.PopupID,
		SlotID:      row.SlotID,
		UserID:      row.UserID,
		Date:        row.Date,
		People:      row.People,
		ExpiredAt:   now.UTC().Format(time.RFC3339),
	}
	if err := r.events.Publish(ctx, ev); err != nil {
		r.logger.WithError(err).WithField("hold_id", row.HoldID).Warn("publish hold.expired failed")
	}
}

func (r *Reconciler) finish(start time.Time, res SweepResult, released int, err error) {
	backlog, berr := r.holds.IndexSize(context.Background())
	if berr != nil {
		backlog = -1
	}
	r.metrics.SweepFinished(time.Since(start), err, backlog)

	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.now()
	r.stats.Runs++
	r.stats.TotalExpired += int64(res.Expired)
	r.stats.TotalReleased += int64(released)
	r.stats.TotalFailed += int64(res.Failed)
	r.stats.LastRunAt = &at
	r.stats.LastResult = res
	r.stats.LastError = ""
	if err != nil {
		r.stats.LastError = err.Error()
	}
	if backlog >= 0 {
		r.stats.Backlog = backlog
	}
}

// Stats returns a snapshot of the reconciler counters.
func (r *Reconciler) Stats() ReconcilerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Running = r.running
	s.Interval = r.interval.String()
	s.BatchSize = r.batchSize
	return s
}
