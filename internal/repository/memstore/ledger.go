package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

// EnsureCategory returns the named category of a complex, creating it when
// missing.
func (s *Store) EnsureCategory(ctx context.Context, complexID uint64, name string, kind model.LedgerKind) (model.LedgerCategory, error) {
	var c model.LedgerCategory
	err := s.do(ctx, func(d *data) error {
		for _, o := range d.categories {
			if o.ComplexID == complexID && o.Name == name {
				c = o
				return nil
			}
		}
		c = model.LedgerCategory{ID: d.nextID(), ComplexID: complexID, Name: name, Kind: kind}
		d.categories[c.ID] = c
		return nil
	})
	return c, err
}

// GetLedgerEntry returns the entry of one kind for a reservation.
func (s *Store) GetLedgerEntry(ctx context.Context, reservationID uint64, kind model.LedgerKind) (model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := s.do(ctx, func(d *data) error {
		for _, o := range d.entries {
			if o.ReservationID == reservationID && o.Kind == kind {
				e = o
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return e, err
}

// InsertLedgerEntry stores a new entry and fills in its ID.
func (s *Store) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	return s.do(ctx, func(d *data) error {
		for _, o := range d.entries {
			if o.ReservationID == e.ReservationID && o.Kind == e.Kind {
				return repository.ErrDuplicate
			}
		}
		e.ID = d.nextID()
		e.Date = model.DateOf(e.Date)
		d.entries[e.ID] = *e
		return nil
	})
}

// CorrectLedgerEntry overwrites an entry's amount and records why.
func (s *Store) CorrectLedgerEntry(ctx context.Context, id uint64, amount int64, note string, at time.Time) error {
	return s.do(ctx, func(d *data) error {
		e, ok := d.entries[id]
		if !ok {
			return repository.ErrNotFound
		}
		e.Amount = amount
		e.CorrectionNote = note
		t := at
		e.CorrectedAt = &t
		d.entries[id] = e
		return nil
	})
}

// ListLedgerEntries returns a complex's entries between two dates inclusive.
func (s *Store) ListLedgerEntries(ctx context.Context, complexID uint64, from, to time.Time) ([]model.LedgerEntry, error) {
	from, to = model.DateOf(from), model.DateOf(to)
	var out []model.LedgerEntry
	err := s.do(ctx, func(d *data) error {
		for _, e := range d.entries {
			if e.ComplexID == complexID && !e.Date.Before(from) && !e.Date.After(to) {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}
