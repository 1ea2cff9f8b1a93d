package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

// InsertHold stores a new hold.
func (s *Store) InsertHold(ctx context.Context, h model.Hold) error {
	return s.do(ctx, func(d *data) error {
		if _, ok := d.holds[h.ID]; ok {
			return repository.ErrDuplicate
		}
		h.Date = model.DateOf(h.Date)
		d.holds[h.ID] = h
		return nil
	})
}

// GetHold returns a hold by ID regardless of whether it is still live.
func (s *Store) GetHold(ctx context.Context, id string) (model.Hold, error) {
	var h model.Hold
	err := s.do(ctx, func(d *data) error {
		var ok bool
		if h, ok = d.holds[id]; !ok {
			return repository.ErrNotFound
		}
		return nil
	})
	return h, err
}

// ListLiveHolds returns holds on a court and date that are live at now.
func (s *Store) ListLiveHolds(ctx context.Context, courtID uint64, date, now time.Time) ([]model.Hold, error) {
	var out []model.Hold
	err := s.do(ctx, func(d *data) error {
		for _, h := range d.holds {
			if h.CourtID == courtID && sameDate(h.Date, date) && h.Live(now) {
				out = append(out, h)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, err
}

// UpdateHoldExpiry moves a hold's expiry.
func (s *Store) UpdateHoldExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	return s.do(ctx, func(d *data) error {
		h, ok := d.holds[id]
		if !ok {
			return repository.ErrNotFound
		}
		h.ExpiresAt = expiresAt
		d.holds[id] = h
		return nil
	})
}

// DeleteHold removes a hold.  Deleting a missing hold is not an error.
func (s *Store) DeleteHold(ctx context.Context, id string) error {
	return s.do(ctx, func(d *data) error {
		delete(d.holds, id)
		return nil
	})
}

// DeleteExpiredHolds removes every hold with expiry at or before now.
func (s *Store) DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.do(ctx, func(d *data) error {
		for id, h := range d.holds {
			if !h.Live(now) {
				delete(d.holds, id)
				n++
			}
		}
		return nil
	})
	return n, err
}
