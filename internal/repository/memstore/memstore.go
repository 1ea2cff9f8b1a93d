// Package memstore is an in-memory implementation of the repository
// methods the booking engine depends on.  It backs the tests and
// STORAGE=memory development runs.
//
// Transactions are serialized by a single mutex and roll back by restoring
// a copy of the data taken when they began.  Calls made outside WithTx take
// the same mutex, so readers never observe a half-applied transaction.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

type txKey struct{}

type data struct {
	complexes    map[uint64]model.Complex
	courts       map[uint64]model.Court
	holds        map[string]model.Hold
	payments     map[uint64]model.PaymentSession
	reservations map[uint64]model.Reservation
	anomalies    map[uint64]model.PaymentAnomaly
	refunds      map[uint64]model.PaymentRefund
	categories   map[uint64]model.LedgerCategory
	entries      map[uint64]model.LedgerEntry
	deposits     map[uint64]model.DepositRecord
	seq          uint64
}

func newData() *data {
	return &data{
		complexes:    map[uint64]model.Complex{},
		courts:       map[uint64]model.Court{},
		holds:        map[string]model.Hold{},
		payments:     map[uint64]model.PaymentSession{},
		reservations: map[uint64]model.Reservation{},
		anomalies:    map[uint64]model.PaymentAnomaly{},
		refunds:      map[uint64]model.PaymentRefund{},
		categories:   map[uint64]model.LedgerCategory{},
		entries:      map[uint64]model.LedgerEntry{},
		deposits:     map[uint64]model.DepositRecord{},
	}
}

func (d *data) clone() *data {
	c := &data{seq: d.seq}
	c.complexes = copyMap(d.complexes)
	c.courts = copyMap(d.courts)
	c.holds = copyMap(d.holds)
	c.payments = copyMap(d.payments)
	c.reservations = copyMap(d.reservations)
	c.anomalies = copyMap(d.anomalies)
	c.refunds = copyMap(d.refunds)
	c.categories = copyMap(d.categories)
	c.entries = copyMap(d.entries)
	c.deposits = copyMap(d.deposits)
	return c
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *data) nextID() uint64 {
	d.seq++
	return d.seq
}

// Store is safe for concurrent use.
type Store struct {
	mu sync.Mutex
	d  *data
}

// New returns an empty Store.
func New() *Store { return &Store{d: newData()} }

// WithTx runs fn with exclusive access to the store.  If fn returns an
// error every change it made is discarded.  Nested calls join the outer
// transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := s.d.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.d = saved
		return err
	}
	return nil
}

// do runs fn under the store lock unless ctx is already inside WithTx.
func (s *Store) do(ctx context.Context, fn func(d *data) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(s.d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.d)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// AddComplex stores a complex and returns it with its ID set.  Zero opening
// hours default to 08:00-23:00.
func (s *Store) AddComplex(c model.Complex) model.Complex {
	_ = s.do(context.Background(), func(d *data) error {
		if c.ID == 0 {
			c.ID = d.nextID()
		}
		if c.OpensAt == 0 && c.ClosesAt == 0 {
			c.OpensAt, c.ClosesAt = model.MustTimeOfDay("08:00"), model.MustTimeOfDay("23:00")
		}
		d.complexes[c.ID] = c
		return nil
	})
	return c
}

// AddCourt stores a court and returns it with its ID set.
func (s *Store) AddCourt(c model.Court) model.Court {
	_ = s.do(context.Background(), func(d *data) error {
		if c.ID == 0 {
			c.ID = d.nextID()
		}
		d.courts[c.ID] = c
		return nil
	})
	return c
}

// GetCourt returns a court by ID.
func (s *Store) GetCourt(ctx context.Context, id uint64) (model.Court, error) {
	var c model.Court
	err := s.do(ctx, func(d *data) error {
		var ok bool
		if c, ok = d.courts[id]; !ok {
			return repository.ErrNotFound
		}
		return nil
	})
	return c, err
}

// LockCourt is GetCourt; the store lock already serializes transactions.
func (s *Store) LockCourt(ctx context.Context, id uint64) (model.Court, error) {
	return s.GetCourt(ctx, id)
}

// GetComplex returns a complex by ID.
func (s *Store) GetComplex(ctx context.Context, id uint64) (model.Complex, error) {
	var c model.Complex
	err := s.do(ctx, func(d *data) error {
		var ok bool
		if c, ok = d.complexes[id]; !ok {
			return repository.ErrNotFound
		}
		return nil
	})
	return c, err
}

func sameDate(a, b time.Time) bool { return model.DateOf(a).Equal(model.DateOf(b)) }
