package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
)

// PaymentRepo provides data access to the payments table.  Each row is one
// gateway transaction.  Status only ever moves out of "pending" through
// ResolvePayment, whose WHERE clause makes the transition a compare and
// swap.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the provided database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `id, token, order_id, session_id, hold_id, reservation_code, amount, status,
	authorization_code, response_code, paid_amount, payment_type_code, installments_number, transaction_date,
	snapshot, created_at, updated_at`

func scanPayment(s rowScanner) (model.PaymentSession, error) {
	var (
		p        model.PaymentSession
		respCode sql.NullInt64
		txDate   sql.NullTime
		snapshot []byte
	)
	err := s.Scan(&p.ID, &p.Token, &p.OrderID, &p.SessionID, &p.HoldID, &p.ReservationCode, &p.Amount, &p.Status,
		&p.AuthorizationCode, &respCode, &p.PaidAmount, &p.PaymentTypeCode, &p.InstallmentsNumber, &txDate,
		&snapshot, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PaymentSession{}, ErrNotFound
	}
	if err != nil {
		return model.PaymentSession{}, err
	}
	if respCode.Valid {
		rc := int(respCode.Int64)
		p.ResponseCode = &rc
	}
	p.TransactionDate = timePtr(txDate)
	if err := json.Unmarshal(snapshot, &p.Snapshot); err != nil {
		return model.PaymentSession{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// InsertPayment stores a new session and fills in its ID.  A clash on
// token, order_id or reservation_code yields ErrDuplicate.
func (r *PaymentRepo) InsertPayment(ctx context.Context, p *model.PaymentSession) error {
	snapshot, err := json.Marshal(p.Snapshot)
	if err != nil {
		return err
	}
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO payments (token, order_id, session_id, hold_id, reservation_code, amount, status,
			authorization_code, response_code, paid_amount, payment_type_code, installments_number, transaction_date,
			snapshot, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Token, p.OrderID, p.SessionID, p.HoldID, p.ReservationCode, p.Amount, p.Status,
		p.AuthorizationCode, nullInt(p.ResponseCode), p.PaidAmount, p.PaymentTypeCode, p.InstallmentsNumber, nullTime(p.TransactionDate),
		snapshot, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

// GetPaymentByToken returns the session for a gateway token.
func (r *PaymentRepo) GetPaymentByToken(ctx context.Context, token string) (model.PaymentSession, error) {
	return scanPayment(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE token = ?`, token))
}

// GetPaymentByOrderID returns the session for a merchant order ID.
func (r *PaymentRepo) GetPaymentByOrderID(ctx context.Context, orderID string) (model.PaymentSession, error) {
	return scanPayment(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = ?`, orderID))
}

// ListPaymentsByCode returns every session opened for a reservation code,
// oldest first.  A code belongs to one session, but a lookup by code is
// how operators reach a reservation's payment history.
func (r *PaymentRepo) ListPaymentsByCode(ctx context.Context, code string) ([]model.PaymentSession, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE reservation_code = ? ORDER BY id`, code)
	if err != nil {
		return nil, err
	}
	return scanPayments(rows)
}

// ResolvePayment moves a pending session to a terminal outcome.  It reports
// false when the session was no longer pending, meaning another caller
// resolved it first.
func (r *PaymentRepo) ResolvePayment(ctx context.Context, token string, out model.PaymentOutcome, now time.Time) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE payments
		 SET status = ?, authorization_code = ?, response_code = ?, paid_amount = ?,
		     payment_type_code = ?, installments_number = ?, transaction_date = ?, updated_at = ?
		 WHERE token = ? AND status = ?`,
		out.Status, out.AuthorizationCode, nullInt(out.ResponseCode), out.PaidAmount,
		out.PaymentTypeCode, out.InstallmentsNumber, nullTime(out.TransactionDate), now.UTC(),
		token, model.PaymentPending,
	)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// ListPendingPayments returns up to limit pending sessions created before
// the cutoff, oldest first.
func (r *PaymentRepo) ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]model.PaymentSession, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = ? AND created_at < ?
		 ORDER BY created_at LIMIT ?`,
		model.PaymentPending, createdBefore.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	return scanPayments(rows)
}

// CodeInUse reports whether a reservation code is already taken by a
// payment session or a reservation.
func (r *PaymentRepo) CodeInUse(ctx context.Context, code string) (bool, error) {
	var n int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM payments WHERE reservation_code = ?)
		      + (SELECT COUNT(*) FROM reservations WHERE code = ?)`,
		code, code,
	).Scan(&n)
	return n > 0, err
}

// ListPaymentsByHold returns every session opened against a hold, oldest
// first.
func (r *PaymentRepo) ListPaymentsByHold(ctx context.Context, holdID string) ([]model.PaymentSession, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE hold_id = ? ORDER BY id`, holdID)
	if err != nil {
		return nil, err
	}
	return scanPayments(rows)
}

func scanPayments(rows *sql.Rows) ([]model.PaymentSession, error) {
	defer rows.Close()
	var out []model.PaymentSession
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertRefund records a refund the gateway accepted and fills in its ID.
func (r *PaymentRepo) InsertRefund(ctx context.Context, f *model.PaymentRefund) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO payment_refunds (order_id, token, amount, type, authorization_code, response_code,
			balance, reason, requested_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.Token, f.Amount, f.Type, f.AuthorizationCode, nullInt(f.ResponseCode),
		f.Balance, f.Reason, nullUint(f.RequestedBy), f.CreatedAt.UTC(),
	)
	if err != nil {
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	f.ID = uint64(id)
	return nil
}

// ListRefunds returns the refunds of an order, oldest first.
func (r *PaymentRepo) ListRefunds(ctx context.Context, orderID string) ([]model.PaymentRefund, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, order_id, token, amount, type, authorization_code, response_code, balance, reason, requested_by, created_at
		 FROM payment_refunds WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PaymentRefund
	for rows.Next() {
		var (
			f        model.PaymentRefund
			respCode sql.NullInt64
			by       sql.NullInt64
		)
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Token, &f.Amount, &f.Type, &f.AuthorizationCode, &respCode,
			&f.Balance, &f.Reason, &by, &f.CreatedAt); err != nil {
			return nil, err
		}
		if respCode.Valid {
			rc := int(respCode.Int64)
			f.ResponseCode = &rc
		}
		f.RequestedBy = uintPtr(by)
		f.CreatedAt = f.CreatedAt.UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}
