package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
)

// ReservationRepo provides data access to the reservations table.  Rows are
// inserted once and afterwards only their status changes.  All timestamp
// fields are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// ReservationFilter narrows ListReservations.  Zero fields match anything.
type ReservationFilter struct {
	ComplexID *uint64
	From      *time.Time
	To        *time.Time
	Status    model.ReservationStatus
	Payment   model.SettlementStatus
}

const reservationColumns = `id, code, court_id, complex_id, booking_date, start_time, end_time,
	customer_name, customer_email, customer_phone, price_total, amount_paid, paid_percentage,
	payment_method, commission_applied, channel, status, payment_status, order_id, admin_id, created_at`

func scanReservation(s rowScanner) (model.Reservation, error) {
	var (
		res     model.Reservation
		orderID sql.NullString
		adminID sql.NullInt64
	)
	err := s.Scan(&res.ID, &res.Code, &res.CourtID, &res.ComplexID, &res.Date, &res.Start, &res.End,
		&res.Customer.Name, &res.Customer.Email, &res.Customer.Phone, &res.PriceTotal, &res.AmountPaid, &res.PaidPercentage,
		&res.PaymentMethod, &res.CommissionApplied, &res.Channel, &res.Status, &res.PaymentStatus, &orderID, &adminID, &res.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, ErrNotFound
	}
	if err != nil {
		return model.Reservation{}, err
	}
	if orderID.Valid {
		o := orderID.String
		res.OrderID = &o
	}
	res.AdminID = uintPtr(adminID)
	res.Date = model.DateOf(res.Date)
	res.CreatedAt = res.CreatedAt.UTC()
	return res, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// InsertReservation stores a new reservation and fills in its ID.  A clash
// on code or order_id yields ErrDuplicate.
func (r *ReservationRepo) InsertReservation(ctx context.Context, res *model.Reservation) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO reservations (code, court_id, complex_id, booking_date, start_time, end_time,
			customer_name, customer_email, customer_phone, price_total, amount_paid, paid_percentage,
			payment_method, commission_applied, channel, status, payment_status, order_id, admin_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.Code, res.CourtID, res.ComplexID, dateArg(res.Date), res.Start, res.End,
		res.Customer.Name, res.Customer.Email, res.Customer.Phone, res.PriceTotal, res.AmountPaid, res.PaidPercentage,
		res.PaymentMethod, res.CommissionApplied, res.Channel, res.Status, res.PaymentStatus,
		nullString(res.OrderID), nullUint(res.AdminID), res.CreatedAt.UTC(),
	)
	if err != nil {
		return translate(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// GetReservation returns a reservation by ID.
func (r *ReservationRepo) GetReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	return scanReservation(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
}

// GetReservationByCode returns a reservation by its short code.
func (r *ReservationRepo) GetReservationByCode(ctx context.Context, code string) (model.Reservation, error) {
	return scanReservation(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE code = ?`, code))
}

// ListActiveReservations returns the confirmed reservations on a court and
// date.
func (r *ReservationRepo) ListActiveReservations(ctx context.Context, courtID uint64, date time.Time) ([]model.Reservation, error) {
	return r.list(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE court_id = ? AND booking_date = ? AND status = ? ORDER BY start_time`,
		courtID, dateArg(date), model.ReservationConfirmed)
}

// ListReservations returns reservations matching f ordered by date and ID.
func (r *ReservationRepo) ListReservations(ctx context.Context, f ReservationFilter) ([]model.Reservation, error) {
	var (
		where []string
		args  []any
	)
	if f.ComplexID != nil {
		where = append(where, "complex_id = ?")
		args = append(args, *f.ComplexID)
	}
	if f.From != nil {
		where = append(where, "booking_date >= ?")
		args = append(args, dateArg(*f.From))
	}
	if f.To != nil {
		where = append(where, "booking_date <= ?")
		args = append(args, dateArg(*f.To))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Payment != "" {
		where = append(where, "payment_status = ?")
		args = append(args, f.Payment)
	}
	q := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY booking_date, id"
	return r.list(ctx, q, args...)
}

// ListComplexesWithReservations returns the distinct complexes that have at
// least one reservation on date.
func (r *ReservationRepo) ListComplexesWithReservations(ctx context.Context, date time.Time) ([]uint64, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT DISTINCT complex_id FROM reservations WHERE booking_date = ? ORDER BY complex_id`, dateArg(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateReservationStatus sets the status of a reservation.
func (r *ReservationRepo) UpdateReservationStatus(ctx context.Context, id uint64, status model.ReservationStatus) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE reservations SET status = ? WHERE id = ?`, status, id)
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

func (r *ReservationRepo) list(ctx context.Context, q string, args ...any) ([]model.Reservation, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
