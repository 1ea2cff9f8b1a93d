// Package deposit aggregates a complex's paid reservations into the daily
// amount owed to it.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/commission"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

var (
	// ErrDepositNotFound means no deposit exists for the key.
	ErrDepositNotFound = errors.New("deposit not found")
	// ErrDepositAlreadyPaid is returned when marking a paid deposit again.
	ErrDepositAlreadyPaid = errors.New("deposit already paid")
	// ErrInvalidPayout rejects payouts without a method.
	ErrInvalidPayout = errors.New("payout method is required")
)

// Store is the persistence the aggregator needs.
type Store interface {
	GetComplex(ctx context.Context, id uint64) (model.Complex, error)
	ListReservations(ctx context.Context, f repository.ReservationFilter) ([]model.Reservation, error)
	ListComplexesWithReservations(ctx context.Context, date time.Time) ([]uint64, error)
	UpsertDeposit(ctx context.Context, d model.DepositRecord) (model.DepositRecord, error)
	GetDeposit(ctx context.Context, complexID uint64, date time.Time) (model.DepositRecord, error)
	GetDepositByID(ctx context.Context, id uint64) (model.DepositRecord, error)
	MarkDepositPaid(ctx context.Context, id uint64, p model.Payout, at time.Time) (bool, error)
}

// Aggregator computes deposits from reservations.
type Aggregator struct {
	store Store
	calc  *commission.Calculator
	clock clock.Clock
	log   *zap.Logger
}

// NewAggregator returns an Aggregator.
func NewAggregator(store Store, calc *commission.Calculator, clk clock.Clock, log *zap.Logger) *Aggregator {
	return &Aggregator{store: store, calc: calc, clock: clk, log: log}
}

// GenerateForDate recomputes the deposit of one complex for one settlement
// date from its confirmed, fully paid reservations.  Commission is computed
// again per reservation with the current table; stored per-reservation
// figures are not trusted.  Running it twice over the same reservations
// yields the same figures.  Status and payout of an existing deposit are
// left alone.
func (a *Aggregator) GenerateForDate(ctx context.Context, complexID uint64, date time.Time) (model.DepositRecord, error) {
	date = model.DateOf(date)
	cx, err := a.store.GetComplex(ctx, complexID)
	if err != nil {
		return model.DepositRecord{}, fmt.Errorf("load complex %d: %w", complexID, err)
	}
	rs, err := a.store.ListReservations(ctx, repository.ReservationFilter{
		ComplexID: &complexID,
		From:      &date,
		To:        &date,
		Status:    model.ReservationConfirmed,
		Payment:   model.SettlementPaid,
	})
	if err != nil {
		return model.DepositRecord{}, fmt.Errorf("list reservations: %w", err)
	}

	rec := model.DepositRecord{
		ComplexID:        complexID,
		SettlementDate:   date,
		ReservationCount: len(rs),
		UpdatedAt:        a.clock.Now(),
	}
	for _, r := range rs {
		b, err := a.calc.Compute(r.PriceTotal, r.Channel, cx.CommissionExemptUntil, r.Date)
		if err != nil {
			return model.DepositRecord{}, fmt.Errorf("reservation %s: %w", r.Code, err)
		}
		rec.GrossReservationsTotal += r.PriceTotal
		rec.CommissionExclTax += b.ExclTax
		rec.Tax += b.Tax
		rec.CommissionTotal += b.Total
	}
	rec.NetPayable = rec.GrossReservationsTotal - rec.CommissionTotal
	rec.CommissionRate = commission.EffectiveRate(rec.CommissionExclTax, rec.GrossReservationsTotal)

	prev, err := a.store.GetDeposit(ctx, complexID, date)
	switch {
	case err == nil:
		if prev.Status == model.DepositPaid && !prev.SameAmounts(rec) {
			a.log.Warn("paid deposit amounts changed on recompute",
				zap.Uint64("deposit_id", prev.ID),
				zap.Int64("old_net", prev.NetPayable),
				zap.Int64("new_net", rec.NetPayable),
			)
		}
	case !errors.Is(err, repository.ErrNotFound):
		return model.DepositRecord{}, err
	}

	out, err := a.store.UpsertDeposit(ctx, rec)
	if err != nil {
		return model.DepositRecord{}, fmt.Errorf("upsert deposit: %w", err)
	}
	return out, nil
}

// GenerateAll recomputes the deposits of every complex with reservations
// on date.  Failures are collected and do not stop the run.
func (a *Aggregator) GenerateAll(ctx context.Context, date time.Time) ([]model.DepositRecord, error) {
	ids, err := a.store.ListComplexesWithReservations(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list complexes: %w", err)
	}
	var (
		out  []model.DepositRecord
		errs []error
	)
	for _, id := range ids {
		d, err := a.GenerateForDate(ctx, id, date)
		if err != nil {
			errs = append(errs, fmt.Errorf("complex %d: %w", id, err))
			continue
		}
		out = append(out, d)
	}
	a.log.Info("deposits generated",
		zap.String("date", model.DateOf(date).Format(model.DateLayout)),
		zap.Int("count", len(out)),
		zap.Int("failed", len(errs)),
	)
	return out, errors.Join(errs...)
}

// Get returns the deposit of a complex for a date.
func (a *Aggregator) Get(ctx context.Context, complexID uint64, date time.Time) (model.DepositRecord, error) {
	d, err := a.store.GetDeposit(ctx, complexID, date)
	if errors.Is(err, repository.ErrNotFound) {
		return model.DepositRecord{}, ErrDepositNotFound
	}
	return d, err
}

// MarkPaid records the payout of a pending deposit.
func (a *Aggregator) MarkPaid(ctx context.Context, id uint64, p model.Payout) (model.DepositRecord, error) {
	if strings.TrimSpace(p.Method) == "" {
		return model.DepositRecord{}, ErrInvalidPayout
	}
	d, err := a.store.GetDepositByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.DepositRecord{}, ErrDepositNotFound
	}
	if err != nil {
		return model.DepositRecord{}, err
	}
	if !d.Status.CanTransitionTo(model.DepositPaid) {
		return model.DepositRecord{}, ErrDepositAlreadyPaid
	}
	now := a.clock.Now()
	p.ProcessedAt = &now
	won, err := a.store.MarkDepositPaid(ctx, id, p, now)
	if err != nil {
		return model.DepositRecord{}, fmt.Errorf("mark deposit %d paid: %w", id, err)
	}
	if !won {
		return model.DepositRecord{}, ErrDepositAlreadyPaid
	}
	a.log.Info("deposit paid", zap.Uint64("deposit_id", id), zap.String("method", p.Method))
	return a.store.GetDepositByID(ctx, id)
}
