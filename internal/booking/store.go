package booking

import (
	"context"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
)

// Transactor runs fn atomically.  Store calls made with the context handed
// to fn take part in the transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CourtStore reads courts and complexes.
type CourtStore interface {
	GetCourt(ctx context.Context, id uint64) (model.Court, error)
	// LockCourt reads the court and holds an exclusive lock on it until the
	// surrounding transaction ends.
	LockCourt(ctx context.Context, id uint64) (model.Court, error)
	GetComplex(ctx context.Context, id uint64) (model.Complex, error)
}

// HoldStore persists holds.
type HoldStore interface {
	InsertHold(ctx context.Context, h model.Hold) error
	GetHold(ctx context.Context, id string) (model.Hold, error)
	ListLiveHolds(ctx context.Context, courtID uint64, date, now time.Time) ([]model.Hold, error)
	UpdateHoldExpiry(ctx context.Context, id string, expiresAt time.Time) error
	DeleteHold(ctx context.Context, id string) error
	DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error)
}

// PaymentStore persists payment sessions, their anomalies and refunds.
type PaymentStore interface {
	InsertPayment(ctx context.Context, p *model.PaymentSession) error
	GetPaymentByToken(ctx context.Context, token string) (model.PaymentSession, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (model.PaymentSession, error)
	ListPaymentsByHold(ctx context.Context, holdID string) ([]model.PaymentSession, error)
	ListPaymentsByCode(ctx context.Context, code string) ([]model.PaymentSession, error)
	ResolvePayment(ctx context.Context, token string, out model.PaymentOutcome, now time.Time) (bool, error)
	ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]model.PaymentSession, error)
	CodeInUse(ctx context.Context, code string) (bool, error)
	InsertAnomaly(ctx context.Context, a model.PaymentAnomaly) error
	ResolveAnomalies(ctx context.Context, orderID string, at time.Time) error
	InsertRefund(ctx context.Context, f *model.PaymentRefund) error
	ListRefunds(ctx context.Context, orderID string) ([]model.PaymentRefund, error)
}

// ReservationStore persists reservations.
type ReservationStore interface {
	InsertReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id uint64) (model.Reservation, error)
	GetReservationByCode(ctx context.Context, code string) (model.Reservation, error)
	ListActiveReservations(ctx context.Context, courtID uint64, date time.Time) ([]model.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id uint64, status model.ReservationStatus) error
}

// Store is everything the engine needs from persistence.  Both the MySQL
// repository and the in-memory store satisfy it.
type Store interface {
	Transactor
	CourtStore
	HoldStore
	PaymentStore
	ReservationStore
}
