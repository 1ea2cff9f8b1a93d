package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
)

// CourtRepo reads courts and complexes.  Both are maintained by the
// surrounding administration layer; the booking flow only reads them and
// locks court rows to serialize admission.
type CourtRepo struct {
	db *sql.DB
}

// NewCourtRepo returns a new CourtRepo bound to the provided database.
func NewCourtRepo(db *sql.DB) *CourtRepo { return &CourtRepo{db: db} }

const courtColumns = `id, complex_id, name, price_per_hour`

func scanCourt(s rowScanner) (model.Court, error) {
	var c model.Court
	err := s.Scan(&c.ID, &c.ComplexID, &c.Name, &c.PricePerHour)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Court{}, ErrNotFound
	}
	return c, err
}

// GetCourt returns a court by ID.
func (r *CourtRepo) GetCourt(ctx context.Context, id uint64) (model.Court, error) {
	return scanCourt(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+courtColumns+` FROM courts WHERE id = ?`, id))
}

// LockCourt reads a court with SELECT ... FOR UPDATE.  It must run inside a
// transaction; concurrent admissions for the same court queue on this row
// lock until the holder commits or rolls back.
func (r *CourtRepo) LockCourt(ctx context.Context, id uint64) (model.Court, error) {
	return scanCourt(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+courtColumns+` FROM courts WHERE id = ? FOR UPDATE`, id))
}

// GetComplex returns a complex by ID.
func (r *CourtRepo) GetComplex(ctx context.Context, id uint64) (model.Complex, error) {
	var (
		c      model.Complex
		exempt sql.NullTime
	)
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name, commission_exempt_until, opens_at, closes_at FROM complexes WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &exempt, &c.OpensAt, &c.ClosesAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Complex{}, ErrNotFound
	}
	if err != nil {
		return model.Complex{}, err
	}
	c.CommissionExemptUntil = timePtr(exempt)
	return c, nil
}

func dateArg(t time.Time) string { return model.DateOf(t).Format(model.DateLayout) }
