// Package scheduler runs the periodic jobs of the engine: reaping expired
// holds, reconciling payments whose customer never came back, and
// generating the previous day's deposits.
//
// Every job is idempotent.  When several instances run, a Redis lock lets
// only one of them execute each tick; without Redis they all run.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/booking"
	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/model"
)

// HoldReaper deletes expired holds.
type HoldReaper interface {
	Reap(ctx context.Context) (int64, error)
}

// PaymentReconciler finalizes stale pending payments.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, age time.Duration, limit int) (booking.ReconcileReport, error)
}

// DepositGenerator recomputes every deposit of a date.
type DepositGenerator interface {
	GenerateAll(ctx context.Context, date time.Time) ([]model.DepositRecord, error)
}

// Config holds job intervals.
type Config struct {
	ReapEvery      time.Duration
	ReconcileEvery time.Duration
	// ReconcileAfter is how old a pending payment must be before the
	// reconciler touches it, leaving time for the customer's own return.
	ReconcileAfter time.Duration
	ReconcileBatch int
	// DepositsAt is the local time of day the previous day's deposits are
	// generated.
	DepositsAt model.TimeOfDay
	// Location is the zone of DepositsAt and of booking dates.  Nil means
	// UTC.
	Location *time.Location
}

// Scheduler owns the background goroutines.
type Scheduler struct {
	holds    HoldReaper
	payments PaymentReconciler
	deposits DepositGenerator
	locker   Locker
	clock    clock.Clock
	cfg      Config
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New returns a Scheduler.  locker may be nil.
func New(holds HoldReaper, payments PaymentReconciler, deposits DepositGenerator, locker Locker, clk clock.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.ReconcileBatch <= 0 {
		cfg.ReconcileBatch = 100
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		holds:    holds,
		payments: payments,
		deposits: deposits,
		locker:   locker,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start launches the jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting background scheduler",
		zap.Duration("reap_every", s.cfg.ReapEvery),
		zap.Duration("reconcile_every", s.cfg.ReconcileEvery),
		zap.Stringer("deposits_at", s.cfg.DepositsAt),
		zap.Stringer("location", s.cfg.Location),
	)
	s.every(ctx, "reap-holds", s.cfg.ReapEvery, s.reapHolds)
	s.every(ctx, "reconcile-payments", s.cfg.ReconcileEvery, s.reconcilePayments)
	s.wg.Add(1)
	go s.runDaily(ctx)
}

// Stop signals every job to finish and waits for them.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping background scheduler")
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	if interval <= 0 {
		s.logger.Info("job disabled", zap.String("job", name))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.guarded(ctx, name, interval, job)
			case <-s.stopChan:
				s.logger.Info("job stopped", zap.String("job", name))
				return
			case <-ctx.Done():
				s.logger.Info("job cancelled", zap.String("job", name))
				return
			}
		}
	}()
}

func (s *Scheduler) runDaily(ctx context.Context) {
	defer s.wg.Done()
	for {
		now := s.clock.Now()
		timer := time.NewTimer(nextRun(now, s.cfg.DepositsAt, s.cfg.Location).Sub(now))
		select {
		case <-timer.C:
			s.guarded(ctx, "generate-deposits", time.Hour, s.generateDeposits)
		case <-s.stopChan:
			timer.Stop()
			s.logger.Info("job stopped", zap.String("job", "generate-deposits"))
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// guarded runs job when this instance wins the lock for name.  A lock
// error runs the job anyway.
func (s *Scheduler) guarded(ctx context.Context, name string, ttl time.Duration, job func(context.Context)) {
	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx, name, ttl)
		switch {
		case err != nil:
			s.logger.Warn("scheduler lock unavailable, running unguarded", zap.String("job", name), zap.Error(err))
		case !ok:
			s.logger.Debug("job skipped, another instance holds the lock", zap.String("job", name))
			return
		}
	}
	job(ctx)
}

func (s *Scheduler) reapHolds(ctx context.Context) {
	if _, err := s.holds.Reap(ctx); err != nil {
		s.logger.Error("failed to reap holds", zap.Error(err))
	}
}

func (s *Scheduler) reconcilePayments(ctx context.Context) {
	rep, err := s.payments.Reconcile(ctx, s.cfg.ReconcileAfter, s.cfg.ReconcileBatch)
	if err != nil {
		s.logger.Error("failed to reconcile payments", zap.Error(err))
		return
	}
	if rep.Checked > 0 {
		s.logger.Info("payments reconciled",
			zap.Int("checked", rep.Checked),
			zap.Int("approved", rep.Approved),
			zap.Int("rejected", rep.Rejected),
			zap.Int("expired", rep.Expired),
			zap.Int("pending", rep.Pending),
			zap.Int("failed", rep.Failed),
		)
	}
}

func (s *Scheduler) generateDeposits(ctx context.Context) {
	yesterday := model.LocalDate(s.clock.Now(), s.cfg.Location).AddDate(0, 0, -1)
	if _, err := s.deposits.GenerateAll(ctx, yesterday); err != nil {
		s.logger.Error("failed to generate deposits",
			zap.String("date", yesterday.Format(model.DateLayout)), zap.Error(err))
	}
}

// nextRun returns the first instant strictly after now whose wall-clock
// time in loc is at.
func nextRun(now time.Time, at model.TimeOfDay, loc *time.Location) time.Time {
	today := model.LocalDate(now, loc)
	next := model.At(today, at, loc)
	if !next.After(now) {
		next = model.At(today.AddDate(0, 0, 1), at, loc)
	}
	return next
}
