// Package ledger mirrors confirmed reservations into the per-complex income
// and expense ledger.
//
// Every reservation contributes at most one income entry (the amount paid)
// and at most one expense entry (the platform commission).  Entries are
// keyed by (reservation, kind): syncing is a pure function of reservation
// state and may run any number of times, at commit or later in bulk.
// Existing entries are never overwritten by a sync; Correct is the only way
// to change an amount.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

var (
	// ErrEntryNotFound means the reservation has no entry of that kind.
	ErrEntryNotFound = errors.New("ledger entry not found")
	// ErrInvalidCorrection rejects negative amounts and empty notes.
	ErrInvalidCorrection = errors.New("invalid ledger correction")
)

// Store is the persistence the syncer needs.
type Store interface {
	EnsureCategory(ctx context.Context, complexID uint64, name string, kind model.LedgerKind) (model.LedgerCategory, error)
	GetLedgerEntry(ctx context.Context, reservationID uint64, kind model.LedgerKind) (model.LedgerEntry, error)
	InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
	CorrectLedgerEntry(ctx context.Context, id uint64, amount int64, note string, at time.Time) error
	ListLedgerEntries(ctx context.Context, complexID uint64, from, to time.Time) ([]model.LedgerEntry, error)
	ListReservations(ctx context.Context, f repository.ReservationFilter) ([]model.Reservation, error)
}

// SyncResult tells which entries a sync created.  An entry that already
// existed is reported but not flagged as created.
type SyncResult struct {
	Income         *model.LedgerEntry `json:"income,omitempty"`
	Expense        *model.LedgerEntry `json:"expense,omitempty"`
	IncomeCreated  bool               `json:"income_created"`
	ExpenseCreated bool               `json:"expense_created"`
}

// BackfillFilter selects the reservations a backfill re-syncs.
type BackfillFilter struct {
	ComplexID *uint64
	From      *time.Time
	To        *time.Time
}

// BackfillReport summarises a backfill run.
type BackfillReport struct {
	Scanned        int      `json:"scanned"`
	IncomeCreated  int      `json:"income_created"`
	ExpenseCreated int      `json:"expense_created"`
	Failed         int      `json:"failed"`
	FailedCodes    []string `json:"failed_codes,omitempty"`
}

// Syncer writes ledger entries for reservations.
type Syncer struct {
	store Store
	clock clock.Clock
	log   *zap.Logger
}

// NewSyncer returns a Syncer.
func NewSyncer(store Store, clk clock.Clock, log *zap.Logger) *Syncer {
	return &Syncer{store: store, clock: clk, log: log}
}

// SyncReservation creates the missing entries of r.  Cancelled reservations
// produce nothing.
func (s *Syncer) SyncReservation(ctx context.Context, r model.Reservation) (SyncResult, error) {
	var res SyncResult
	if r.Status != model.ReservationConfirmed {
		return res, nil
	}
	if r.AmountPaid > 0 {
		e, created, err := s.ensure(ctx, r, model.LedgerIncome, incomeCategory(r.Channel), r.AmountPaid,
			fmt.Sprintf("Reservation %s income (%s)", r.Code, r.Channel))
		if err != nil {
			return res, err
		}
		res.Income, res.IncomeCreated = &e, created
	}
	if r.CommissionApplied > 0 {
		e, created, err := s.ensure(ctx, r, model.LedgerExpense, model.CategoryPlatformCommission, r.CommissionApplied,
			fmt.Sprintf("Reservation %s platform commission", r.Code))
		if err != nil {
			return res, err
		}
		res.Expense, res.ExpenseCreated = &e, created
	}
	return res, nil
}

// Backfill re-syncs every confirmed reservation matching f.  One failing
// reservation does not stop the run.
func (s *Syncer) Backfill(ctx context.Context, f BackfillFilter) (BackfillReport, error) {
	var rep BackfillReport
	rs, err := s.store.ListReservations(ctx, repository.ReservationFilter{
		ComplexID: f.ComplexID,
		From:      f.From,
		To:        f.To,
		Status:    model.ReservationConfirmed,
	})
	if err != nil {
		return rep, fmt.Errorf("list reservations: %w", err)
	}
	for _, r := range rs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Scanned++
		res, err := s.SyncReservation(ctx, r)
		if err != nil {
			rep.Failed++
			rep.FailedCodes = append(rep.FailedCodes, r.Code)
			s.log.Error("ledger backfill", zap.String("code", r.Code), zap.Error(err))
			continue
		}
		if res.IncomeCreated {
			rep.IncomeCreated++
		}
		if res.ExpenseCreated {
			rep.ExpenseCreated++
		}
	}
	s.log.Info("ledger backfill finished",
		zap.Int("scanned", rep.Scanned),
		zap.Int("income_created", rep.IncomeCreated),
		zap.Int("expense_created", rep.ExpenseCreated),
		zap.Int("failed", rep.Failed),
	)
	return rep, nil
}

// Correct overwrites the amount of an existing entry and records why.
func (s *Syncer) Correct(ctx context.Context, reservationID uint64, kind model.LedgerKind, amount int64, note string) (model.LedgerEntry, error) {
	if !kind.Valid() || amount < 0 || strings.TrimSpace(note) == "" {
		return model.LedgerEntry{}, ErrInvalidCorrection
	}
	e, err := s.store.GetLedgerEntry(ctx, reservationID, kind)
	if errors.Is(err, repository.ErrNotFound) {
		return model.LedgerEntry{}, ErrEntryNotFound
	}
	if err != nil {
		return model.LedgerEntry{}, err
	}
	if err := s.store.CorrectLedgerEntry(ctx, e.ID, amount, note, s.clock.Now()); err != nil {
		return model.LedgerEntry{}, fmt.Errorf("correct entry %d: %w", e.ID, err)
	}
	s.log.Info("ledger entry corrected",
		zap.Uint64("entry_id", e.ID),
		zap.Int64("old_amount", e.Amount),
		zap.Int64("new_amount", amount),
	)
	return s.store.GetLedgerEntry(ctx, reservationID, kind)
}

// Entries lists a complex's entries between two dates inclusive.
func (s *Syncer) Entries(ctx context.Context, complexID uint64, from, to time.Time) ([]model.LedgerEntry, error) {
	return s.store.ListLedgerEntries(ctx, complexID, from, to)
}

func (s *Syncer) ensure(ctx context.Context, r model.Reservation, kind model.LedgerKind, category string, amount int64, desc string) (model.LedgerEntry, bool, error) {
	existing, err := s.store.GetLedgerEntry(ctx, r.ID, kind)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return model.LedgerEntry{}, false, err
	}
	cat, err := s.store.EnsureCategory(ctx, r.ComplexID, category, kind)
	if err != nil {
		return model.LedgerEntry{}, false, fmt.Errorf("ensure category %q: %w", category, err)
	}
	e := model.LedgerEntry{
		ComplexID:     r.ComplexID,
		CategoryID:    cat.ID,
		ReservationID: r.ID,
		Kind:          kind,
		Amount:        amount,
		Date:          model.DateOf(r.Date),
		Description:   desc,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.store.InsertLedgerEntry(ctx, &e); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// A concurrent sync got there first.
			existing, err := s.store.GetLedgerEntry(ctx, r.ID, kind)
			return existing, false, err
		}
		return model.LedgerEntry{}, false, err
	}
	return e, true, nil
}

func incomeCategory(ch model.Channel) string {
	if ch == model.ChannelAdministrative {
		return model.CategoryDirectReservations
	}
	return model.CategoryWebReservations
}
