package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

// InsertReservation stores a new reservation and fills in its ID.
func (s *Store) InsertReservation(ctx context.Context, r *model.Reservation) error {
	return s.do(ctx, func(d *data) error {
		for _, o := range d.reservations {
			if o.Code == r.Code {
				return repository.ErrDuplicate
			}
			if r.OrderID != nil && o.OrderID != nil && *o.OrderID == *r.OrderID {
				return repository.ErrDuplicate
			}
		}
		r.ID = d.nextID()
		r.Date = model.DateOf(r.Date)
		d.reservations[r.ID] = *r
		return nil
	})
}

// GetReservation returns a reservation by ID.
func (s *Store) GetReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	var r model.Reservation
	err := s.do(ctx, func(d *data) error {
		var ok bool
		if r, ok = d.reservations[id]; !ok {
			return repository.ErrNotFound
		}
		return nil
	})
	return r, err
}

// GetReservationByCode returns a reservation by its short code.
func (s *Store) GetReservationByCode(ctx context.Context, code string) (model.Reservation, error) {
	var r model.Reservation
	err := s.do(ctx, func(d *data) error {
		for _, o := range d.reservations {
			if o.Code == code {
				r = o
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return r, err
}

// ListActiveReservations returns the confirmed reservations on a court and
// date.
func (s *Store) ListActiveReservations(ctx context.Context, courtID uint64, date time.Time) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.do(ctx, func(d *data) error {
		for _, r := range d.reservations {
			if r.CourtID == courtID && sameDate(r.Date, date) && r.Status == model.ReservationConfirmed {
				out = append(out, r)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, err
}

// ListReservations returns reservations matching f ordered by date and ID.
func (s *Store) ListReservations(ctx context.Context, f repository.ReservationFilter) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.do(ctx, func(d *data) error {
		for _, r := range d.reservations {
			switch {
			case f.ComplexID != nil && r.ComplexID != *f.ComplexID:
			case f.From != nil && r.Date.Before(model.DateOf(*f.From)):
			case f.To != nil && r.Date.After(model.DateOf(*f.To)):
			case f.Status != "" && r.Status != f.Status:
			case f.Payment != "" && r.PaymentStatus != f.Payment:
			default:
				out = append(out, r)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// ListComplexesWithReservations returns the distinct complexes that have at
// least one reservation on date.
func (s *Store) ListComplexesWithReservations(ctx context.Context, date time.Time) ([]uint64, error) {
	seen := map[uint64]bool{}
	err := s.do(ctx, func(d *data) error {
		for _, r := range d.reservations {
			if sameDate(r.Date, date) {
				seen[r.ComplexID] = true
			}
		}
		return nil
	})
	ids := make([]uint64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, err
}

// UpdateReservationStatus sets the status of a reservation.
func (s *Store) UpdateReservationStatus(ctx context.Context, id uint64, status model.ReservationStatus) error {
	return s.do(ctx, func(d *data) error {
		r, ok := d.reservations[id]
		if !ok {
			return repository.ErrNotFound
		}
		r.Status = status
		d.reservations[id] = r
		return nil
	})
}
