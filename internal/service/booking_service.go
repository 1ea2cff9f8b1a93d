// Package service exposes the booking engine to the HTTP layer as a single
// facade and wires its components together.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/booking"
	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/commission"
	"github.com/iliyamo/court-reservation/internal/deposit"
	"github.com/iliyamo/court-reservation/internal/gateway"
	"github.com/iliyamo/court-reservation/internal/ledger"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

// Store is everything the engine persists.  repository.Store and
// memstore.Store both satisfy it.
type Store interface {
	booking.Store
	ledger.Store
	deposit.Store
	ListAnomalies(ctx context.Context, openOnly bool) ([]model.PaymentAnomaly, error)
	Ping(ctx context.Context) error
}

// Options tunes the engine.  Zero values fall back to package defaults.
type Options struct {
	HoldTTL        time.Duration
	GatewayTimeout time.Duration
	NotifyTimeout  time.Duration
	ReturnURL      string
	Commission     commission.Table
	// Location is the zone of booking dates and slot times.  Nil means
	// UTC.
	Location *time.Location
}

// BookingService is the engine's public surface.
type BookingService struct {
	store     Store
	calendar  *booking.SlotCalendar
	holds     *booking.HoldManager
	payments  *booking.PaymentManager
	committer *booking.Committer
	ledger    *ledger.Syncer
	deposits  *deposit.Aggregator
	log       *zap.Logger
}

// NewBookingService wires the engine over store and gw.
func NewBookingService(store Store, gw gateway.Gateway, notifier booking.Notifier, clk clock.Clock, opts Options, log *zap.Logger) *BookingService {
	table := opts.Commission
	if len(table.Rates) == 0 {
		table = commission.DefaultTable()
	}
	calc := commission.NewCalculator(table)
	syncer := ledger.NewSyncer(store, clk, log.Named("ledger"))

	calendar := booking.NewSlotCalendar(store, clk, booking.WithLocation(opts.Location))
	holds := booking.NewHoldManager(store, calendar, clk, log.Named("holds"), booking.WithHoldTTL(opts.HoldTTL))
	committer := booking.NewCommitter(store, calendar, calc, clk, log.Named("commit"),
		booking.WithLedger(syncer),
		booking.WithNotifier(notifier),
		booking.WithNotifyTimeout(opts.NotifyTimeout),
	)
	payments := booking.NewPaymentManager(store, gw, holds, committer, clk, log.Named("payments"),
		booking.WithGatewayTimeout(opts.GatewayTimeout),
		booking.WithReturnURL(opts.ReturnURL),
	)
	return &BookingService{
		store:     store,
		calendar:  calendar,
		holds:     holds,
		payments:  payments,
		committer: committer,
		ledger:    syncer,
		deposits:  deposit.NewAggregator(store, calc, clk, log.Named("deposits")),
		log:       log,
	}
}

// Holds returns the hold manager for the reaper.
func (s *BookingService) Holds() *booking.HoldManager { return s.holds }

// Payments returns the payment manager for the reconciler.
func (s *BookingService) Payments() *booking.PaymentManager { return s.payments }

// Deposits returns the aggregator for the daily job.
func (s *BookingService) Deposits() *deposit.Aggregator { return s.deposits }

// Ping checks the store.
func (s *BookingService) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// CheckAvailability lists busy and free ranges of a court on a date.
func (s *BookingService) CheckAvailability(ctx context.Context, courtID uint64, date time.Time) (booking.Availability, error) {
	return s.calendar.Availability(ctx, courtID, date)
}

// RequestHold claims a range for checkout.
func (s *BookingService) RequestHold(ctx context.Context, req booking.HoldRequest) (model.Hold, error) {
	return s.holds.Create(ctx, req)
}

// GetHold returns a hold.
func (s *BookingService) GetHold(ctx context.Context, id string) (model.Hold, error) {
	return s.holds.Get(ctx, id)
}

// RenewHold extends a live hold.
func (s *BookingService) RenewHold(ctx context.Context, id string) (model.Hold, error) {
	return s.holds.Renew(ctx, id)
}

// ReleaseHold gives a hold up.
func (s *BookingService) ReleaseHold(ctx context.Context, id string) error {
	return s.holds.Release(ctx, id)
}

// BeginPayment opens a gateway transaction for a hold.
func (s *BookingService) BeginPayment(ctx context.Context, holdID string, amount int64) (booking.OpenResult, error) {
	return s.payments.Open(ctx, holdID, amount)
}

// CompletePayment finalizes the transaction behind token.
func (s *BookingService) CompletePayment(ctx context.Context, token string) (booking.FinalizeResult, error) {
	return s.payments.Finalize(ctx, token)
}

// PaymentStatus reads a session without contacting the gateway.
func (s *BookingService) PaymentStatus(ctx context.Context, token string) (booking.PaymentView, error) {
	return s.payments.Lookup(ctx, token)
}

// GetReservation returns a reservation by code.
func (s *BookingService) GetReservation(ctx context.Context, code string) (model.Reservation, error) {
	return s.committer.Lookup(ctx, code)
}

// BookDirect records a staff booking.
func (s *BookingService) BookDirect(ctx context.Context, in booking.AdminBooking) (model.Reservation, error) {
	return s.committer.BookDirect(ctx, in)
}

// CancelReservation cancels by code.
func (s *BookingService) CancelReservation(ctx context.Context, code string) (model.Reservation, error) {
	return s.committer.Cancel(ctx, code)
}

// RecoverPayment commits an approved payment whose hold had expired.
func (s *BookingService) RecoverPayment(ctx context.Context, orderID string) (booking.CommitResult, error) {
	return s.committer.Recover(ctx, orderID)
}

// RefundPayment returns money of an approved payment whose reservation was
// cancelled or never committed.
func (s *BookingService) RefundPayment(ctx context.Context, req booking.RefundRequest) (model.PaymentRefund, error) {
	return s.payments.Refund(ctx, req)
}

// PaymentHistory lists the payments and refunds behind a reservation code.
func (s *BookingService) PaymentHistory(ctx context.Context, code string) (booking.PaymentHistory, error) {
	return s.payments.History(ctx, code)
}

// GetCourt returns a court.
func (s *BookingService) GetCourt(ctx context.Context, id uint64) (model.Court, error) {
	return s.calendar.Court(ctx, id)
}

// GetReservationByID returns a reservation by its numeric ID.
func (s *BookingService) GetReservationByID(ctx context.Context, id uint64) (model.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Reservation{}, booking.ErrReservationNotFound
	}
	return r, err
}

// ListAnomalies returns payment anomalies.
func (s *BookingService) ListAnomalies(ctx context.Context, openOnly bool) ([]model.PaymentAnomaly, error) {
	return s.store.ListAnomalies(ctx, openOnly)
}

// GetDeposit returns the deposit of a complex for a date.
func (s *BookingService) GetDeposit(ctx context.Context, complexID uint64, date time.Time) (model.DepositRecord, error) {
	return s.deposits.Get(ctx, complexID, date)
}

// GenerateDeposit recomputes one deposit.
func (s *BookingService) GenerateDeposit(ctx context.Context, complexID uint64, date time.Time) (model.DepositRecord, error) {
	return s.deposits.GenerateForDate(ctx, complexID, date)
}

// GenerateDeposits recomputes every deposit of a date.
func (s *BookingService) GenerateDeposits(ctx context.Context, date time.Time) ([]model.DepositRecord, error) {
	return s.deposits.GenerateAll(ctx, date)
}

// MarkDepositPaid records a payout.
func (s *BookingService) MarkDepositPaid(ctx context.Context, id uint64, p model.Payout) (model.DepositRecord, error) {
	return s.deposits.MarkPaid(ctx, id, p)
}

// BackfillLedger re-syncs historic reservations.
func (s *BookingService) BackfillLedger(ctx context.Context, f ledger.BackfillFilter) (ledger.BackfillReport, error) {
	return s.ledger.Backfill(ctx, f)
}

// CorrectLedger overwrites one entry.
func (s *BookingService) CorrectLedger(ctx context.Context, reservationID uint64, kind model.LedgerKind, amount int64, note string) (model.LedgerEntry, error) {
	return s.ledger.Correct(ctx, reservationID, kind, amount, note)
}

// LedgerEntries lists a complex's entries.
func (s *BookingService) LedgerEntries(ctx context.Context, complexID uint64, from, to time.Time) ([]model.LedgerEntry, error) {
	return s.ledger.Entries(ctx, complexID, from, to)
}
