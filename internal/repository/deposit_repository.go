package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/court-reservation/internal/model"
)

// DepositRepo provides data access to the deposits table.  One row exists
// per (complex_id, settlement_date).  The monetary columns are owned by the
// aggregator and rewritten on every run; status and the payout columns are
// owned by the payout flow and never touched by an upsert.
type DepositRepo struct {
	db *sql.DB
}

// NewDepositRepo returns a new DepositRepo bound to the provided database.
func NewDepositRepo(db *sql.DB) *DepositRepo { return &DepositRepo{db: db} }

const depositColumns = `id, complex_id, settlement_date, reservation_count, gross_total, commission_rate,
	commission_excl_tax, tax, commission_total, net_payable, status,
	payout_method, transaction_number, destination_bank, notes, processed_by, processed_at,
	created_at, updated_at`

func scanDeposit(s rowScanner) (model.DepositRecord, error) {
	var (
		d           model.DepositRecord
		rate        decimal.Decimal
		processedBy sql.NullInt64
		processedAt sql.NullTime
	)
	err := s.Scan(&d.ID, &d.ComplexID, &d.SettlementDate, &d.ReservationCount, &d.GrossReservationsTotal, &rate,
		&d.CommissionExclTax, &d.Tax, &d.CommissionTotal, &d.NetPayable, &d.Status,
		&d.Payout.Method, &d.Payout.TransactionNumber, &d.Payout.DestinationBank, &d.Payout.Notes, &processedBy, &processedAt,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DepositRecord{}, ErrNotFound
	}
	if err != nil {
		return model.DepositRecord{}, err
	}
	d.CommissionRate = rate
	d.SettlementDate = model.DateOf(d.SettlementDate)
	d.Payout.ProcessedBy = uintPtr(processedBy)
	d.Payout.ProcessedAt = timePtr(processedAt)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}

// UpsertDeposit writes the derived figures of d and returns the stored row.
// On an existing (complex, date) only the monetary columns and updated_at
// change.
func (r *DepositRepo) UpsertDeposit(ctx context.Context, d model.DepositRecord) (model.DepositRecord, error) {
	q := conn(ctx, r.db)
	_, err := q.ExecContext(ctx,
		`INSERT INTO deposits (complex_id, settlement_date, reservation_count, gross_total, commission_rate,
			commission_excl_tax, tax, commission_total, net_payable, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
			reservation_count = VALUES(reservation_count),
			gross_total = VALUES(gross_total),
			commission_rate = VALUES(commission_rate),
			commission_excl_tax = VALUES(commission_excl_tax),
			tax = VALUES(tax),
			commission_total = VALUES(commission_total),
			net_payable = VALUES(net_payable),
			updated_at = VALUES(updated_at)`,
		d.ComplexID, dateArg(d.SettlementDate), d.ReservationCount, d.GrossReservationsTotal, d.CommissionRate,
		d.CommissionExclTax, d.Tax, d.CommissionTotal, d.NetPayable, model.DepositPending, d.UpdatedAt.UTC(), d.UpdatedAt.UTC(),
	)
	if err != nil {
		return model.DepositRecord{}, err
	}
	return r.GetDeposit(ctx, d.ComplexID, d.SettlementDate)
}

// GetDeposit returns the deposit of a complex for a settlement date.
func (r *DepositRepo) GetDeposit(ctx context.Context, complexID uint64, date time.Time) (model.DepositRecord, error) {
	return scanDeposit(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE complex_id = ? AND settlement_date = ?`,
		complexID, dateArg(date)))
}

// GetDepositByID returns a deposit by ID.
func (r *DepositRepo) GetDepositByID(ctx context.Context, id uint64) (model.DepositRecord, error) {
	return scanDeposit(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE id = ?`, id))
}

// MarkDepositPaid moves a pending deposit to paid with its payout details.
// It reports false when the deposit was not pending.
func (r *DepositRepo) MarkDepositPaid(ctx context.Context, id uint64, p model.Payout, at time.Time) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE deposits
		 SET status = ?, payout_method = ?, transaction_number = ?, destination_bank = ?, notes = ?,
			processed_by = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		model.DepositPaid, p.Method, p.TransactionNumber, p.DestinationBank, p.Notes,
		nullUint(p.ProcessedBy), nullTime(p.ProcessedAt), at.UTC(),
		id, model.DepositPending,
	)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}
