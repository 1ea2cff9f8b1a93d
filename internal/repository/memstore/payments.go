package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

// InsertPayment stores a new session and fills in its ID.
func (s *Store) InsertPayment(ctx context.Context, p *model.PaymentSession) error {
	return s.do(ctx, func(d *data) error {
		for _, o := range d.payments {
			if o.Token == p.Token || o.OrderID == p.OrderID || o.ReservationCode == p.ReservationCode {
				return repository.ErrDuplicate
			}
		}
		p.ID = d.nextID()
		d.payments[p.ID] = *p
		return nil
	})
}

func (s *Store) findPayment(ctx context.Context, match func(model.PaymentSession) bool) (model.PaymentSession, error) {
	var out model.PaymentSession
	err := s.do(ctx, func(d *data) error {
		for _, p := range d.payments {
			if match(p) {
				out = p
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

// GetPaymentByToken returns the session for a gateway token.
func (s *Store) GetPaymentByToken(ctx context.Context, token string) (model.PaymentSession, error) {
	return s.findPayment(ctx, func(p model.PaymentSession) bool { return p.Token == token })
}

// GetPaymentByOrderID returns the session for a merchant order ID.
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID string) (model.PaymentSession, error) {
	return s.findPayment(ctx, func(p model.PaymentSession) bool { return p.OrderID == orderID })
}

// ResolvePayment moves a pending session to a terminal outcome.  It reports
// false when the session was no longer pending.
func (s *Store) ResolvePayment(ctx context.Context, token string, out model.PaymentOutcome, now time.Time) (bool, error) {
	var won bool
	err := s.do(ctx, func(d *data) error {
		for id, p := range d.payments {
			if p.Token != token {
				continue
			}
			if p.Status != model.PaymentPending {
				return nil
			}
			p.Status = out.Status
			p.AuthorizationCode = out.AuthorizationCode
			p.ResponseCode = out.ResponseCode
			p.PaidAmount = out.PaidAmount
			p.PaymentTypeCode = out.PaymentTypeCode
			p.InstallmentsNumber = out.InstallmentsNumber
			p.TransactionDate = out.TransactionDate
			p.UpdatedAt = now
			d.payments[id] = p
			won = true
			return nil
		}
		return nil
	})
	return won, err
}

// ListPendingPayments returns up to limit pending sessions created before
// the cutoff, oldest first.
func (s *Store) ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]model.PaymentSession, error) {
	var out []model.PaymentSession
	err := s.do(ctx, func(d *data) error {
		for _, p := range d.payments {
			if p.Status == model.PaymentPending && p.CreatedAt.Before(createdBefore) {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// CodeInUse reports whether a reservation code is already taken.
func (s *Store) CodeInUse(ctx context.Context, code string) (bool, error) {
	var used bool
	err := s.do(ctx, func(d *data) error {
		for _, p := range d.payments {
			if p.ReservationCode == code {
				used = true
				return nil
			}
		}
		for _, r := range d.reservations {
			if r.Code == code {
				used = true
				return nil
			}
		}
		return nil
	})
	return used, err
}

// InsertAnomaly records an anomaly unless the same order and kind exist.
func (s *Store) InsertAnomaly(ctx context.Context, a model.PaymentAnomaly) error {
	return s.do(ctx, func(d *data) error {
		for _, o := range d.anomalies {
			if o.OrderID == a.OrderID && o.Kind == a.Kind {
				return nil
			}
		}
		a.ID = d.nextID()
		d.anomalies[a.ID] = a
		return nil
	})
}

// ResolveAnomalies marks every open anomaly of an order as resolved.
func (s *Store) ResolveAnomalies(ctx context.Context, orderID string, at time.Time) error {
	return s.do(ctx, func(d *data) error {
		for id, a := range d.anomalies {
			if a.OrderID == orderID && a.ResolvedAt == nil {
				t := at
				a.ResolvedAt = &t
				d.anomalies[id] = a
			}
		}
		return nil
	})
}

// ListAnomalies returns anomalies, optionally only unresolved ones, newest
// first.
func (s *Store) ListAnomalies(ctx context.Context, openOnly bool) ([]model.PaymentAnomaly, error) {
	var out []model.PaymentAnomaly
	err := s.do(ctx, func(d *data) error {
		for _, a := range d.anomalies {
			if openOnly && a.ResolvedAt != nil {
				continue
			}
			out = append(out, a)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, err
}

// ListPaymentsByHold returns every session opened against a hold, oldest
// first.
func (s *Store) ListPaymentsByHold(ctx context.Context, holdID string) ([]model.PaymentSession, error) {
	var out []model.PaymentSession
	err := s.do(ctx, func(d *data) error {
		for _, p := range d.payments {
			if p.HoldID == holdID {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// ListPaymentsByCode returns every session opened for a reservation code,
// oldest first.
func (s *Store) ListPaymentsByCode(ctx context.Context, code string) ([]model.PaymentSession, error) {
	var out []model.PaymentSession
	err := s.do(ctx, func(d *data) error {
		for _, p := range d.payments {
			if p.ReservationCode == code {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// InsertRefund records a refund and fills in its ID.
func (s *Store) InsertRefund(ctx context.Context, f *model.PaymentRefund) error {
	return s.do(ctx, func(d *data) error {
		f.ID = d.nextID()
		d.refunds[f.ID] = *f
		return nil
	})
}

// ListRefunds returns the refunds of an order, oldest first.
func (s *Store) ListRefunds(ctx context.Context, orderID string) ([]model.PaymentRefund, error) {
	var out []model.PaymentRefund
	err := s.do(ctx, func(d *data) error {
		for _, f := range d.refunds {
			if f.OrderID == orderID {
				out = append(out, f)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}
