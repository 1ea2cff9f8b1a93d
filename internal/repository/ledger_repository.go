package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
)

// LedgerRepo provides data access to ledger_categories and ledger_entries.
// Entries are keyed by (reservation_id, kind); the unique index, not a text
// search over descriptions, is what keeps re-syncs idempotent.
type LedgerRepo struct {
	db *sql.DB
}

// NewLedgerRepo returns a new LedgerRepo bound to the provided database.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

// EnsureCategory returns the named category of a complex, creating it when
// it does not exist yet.
func (r *LedgerRepo) EnsureCategory(ctx context.Context, complexID uint64, name string, kind model.LedgerKind) (model.LedgerCategory, error) {
	q := conn(ctx, r.db)
	if _, err := q.ExecContext(ctx,
		`INSERT IGNORE INTO ledger_categories (complex_id, name, kind) VALUES (?, ?, ?)`,
		complexID, name, kind); err != nil {
		return model.LedgerCategory{}, err
	}
	c := model.LedgerCategory{ComplexID: complexID, Name: name}
	err := q.QueryRowContext(ctx,
		`SELECT id, kind FROM ledger_categories WHERE complex_id = ? AND name = ?`, complexID, name,
	).Scan(&c.ID, &c.Kind)
	return c, err
}

const ledgerColumns = `id, complex_id, category_id, reservation_id, kind, amount, entry_date, description,
	corrected_at, correction_note, created_at`

func scanLedgerEntry(s rowScanner) (model.LedgerEntry, error) {
	var (
		e         model.LedgerEntry
		corrected sql.NullTime
	)
	err := s.Scan(&e.ID, &e.ComplexID, &e.CategoryID, &e.ReservationID, &e.Kind, &e.Amount, &e.Date, &e.Description,
		&corrected, &e.CorrectionNote, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LedgerEntry{}, ErrNotFound
	}
	if err != nil {
		return model.LedgerEntry{}, err
	}
	e.Date = model.DateOf(e.Date)
	e.CorrectedAt = timePtr(corrected)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// GetLedgerEntry returns the entry of one kind for a reservation.
func (r *LedgerRepo) GetLedgerEntry(ctx context.Context, reservationID uint64, kind model.LedgerKind) (model.LedgerEntry, error) {
	return scanLedgerEntry(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE reservation_id = ? AND kind = ?`, reservationID, kind))
}

// InsertLedgerEntry stores a new entry and fills in its ID.  An existing
// entry for the same reservation and kind yields ErrDuplicate.
func (r *LedgerRepo) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO ledger_entries (complex_id, category_id, reservation_id, kind, amount, entry_date, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ComplexID, e.CategoryID, e.ReservationID, e.Kind, e.Amount, dateArg(e.Date), e.Description, e.CreatedAt.UTC(),
	)
	if err != nil {
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// CorrectLedgerEntry overwrites an entry's amount and records why.
func (r *LedgerRepo) CorrectLedgerEntry(ctx context.Context, id uint64, amount int64, note string, at time.Time) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE ledger_entries SET amount = ?, correction_note = ?, corrected_at = ? WHERE id = ?`,
		amount, note, at.UTC(), id)
	if err != nil {
		return err
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// ListLedgerEntries returns a complex's entries between two dates inclusive.
func (r *LedgerRepo) ListLedgerEntries(ctx context.Context, complexID uint64, from, to time.Time) ([]model.LedgerEntry, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		 WHERE complex_id = ? AND entry_date BETWEEN ? AND ? ORDER BY entry_date, id`,
		complexID, dateArg(from), dateArg(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
