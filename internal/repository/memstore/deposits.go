package memstore

import (
	"context"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

// UpsertDeposit writes the derived figures of d and returns the stored row.
// Status and payout of an existing row are preserved.
func (s *Store) UpsertDeposit(ctx context.Context, in model.DepositRecord) (model.DepositRecord, error) {
	var out model.DepositRecord
	err := s.do(ctx, func(d *data) error {
		date := model.DateOf(in.SettlementDate)
		for id, o := range d.deposits {
			if o.ComplexID != in.ComplexID || !o.SettlementDate.Equal(date) {
				continue
			}
			o.ReservationCount = in.ReservationCount
			o.GrossReservationsTotal = in.GrossReservationsTotal
			o.CommissionRate = in.CommissionRate
			o.CommissionExclTax = in.CommissionExclTax
			o.Tax = in.Tax
			o.CommissionTotal = in.CommissionTotal
			o.NetPayable = in.NetPayable
			o.UpdatedAt = in.UpdatedAt
			d.deposits[id] = o
			out = o
			return nil
		}
		in.ID = d.nextID()
		in.SettlementDate = date
		in.Status = model.DepositPending
		in.Payout = model.Payout{}
		in.CreatedAt = in.UpdatedAt
		d.deposits[in.ID] = in
		out = in
		return nil
	})
	return out, err
}

// GetDeposit returns the deposit of a complex for a settlement date.
func (s *Store) GetDeposit(ctx context.Context, complexID uint64, date time.Time) (model.DepositRecord, error) {
	var out model.DepositRecord
	err := s.do(ctx, func(d *data) error {
		for _, o := range d.deposits {
			if o.ComplexID == complexID && sameDate(o.SettlementDate, date) {
				out = o
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

// GetDepositByID returns a deposit by ID.
func (s *Store) GetDepositByID(ctx context.Context, id uint64) (model.DepositRecord, error) {
	var out model.DepositRecord
	err := s.do(ctx, func(d *data) error {
		var ok bool
		if out, ok = d.deposits[id]; !ok {
			return repository.ErrNotFound
		}
		return nil
	})
	return out, err
}

// MarkDepositPaid moves a pending deposit to paid.  It reports false when
// the deposit was not pending.
func (s *Store) MarkDepositPaid(ctx context.Context, id uint64, p model.Payout, at time.Time) (bool, error) {
	var won bool
	err := s.do(ctx, func(d *data) error {
		o, ok := d.deposits[id]
		if !ok || o.Status != model.DepositPending {
			return nil
		}
		o.Status = model.DepositPaid
		o.Payout = p
		o.UpdatedAt = at
		d.deposits[id] = o
		won = true
		return nil
	})
	return won, err
}
