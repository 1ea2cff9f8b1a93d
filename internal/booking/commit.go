package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/commission"
	"github.com/iliyamo/court-reservation/internal/ledger"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

const defaultNotifyTimeout = 5 * time.Second

// Notifier is told about every newly committed reservation.  Failures are
// logged and never undo the commit.
type Notifier interface {
	ReservationConfirmed(ctx context.Context, r model.Reservation) error
}

// LedgerSyncer records the income and commission of a reservation.
type LedgerSyncer interface {
	SyncReservation(ctx context.Context, r model.Reservation) (ledger.SyncResult, error)
}

// CommitResult is the outcome of a commit.  AlreadyCommitted is success:
// the reservation existed before this call and is returned unchanged.
type CommitResult struct {
	Reservation      model.Reservation `json:"reservation"`
	AlreadyCommitted bool              `json:"already_committed"`
}

// AdminBooking is a reservation entered by staff.  It bypasses holds and
// payments but not the overlap check.
type AdminBooking struct {
	CourtID  uint64
	Date     time.Time
	Range    model.TimeRange
	Customer model.Customer
	// PriceTotal overrides the court price when positive.
	PriceTotal    int64
	AmountPaid    int64
	PaymentMethod string
	AdminID       uint64
}

// Committer turns approved payments and staff bookings into reservations.
type Committer struct {
	store         Store
	calendar      *SlotCalendar
	calc          *commission.Calculator
	ledger        LedgerSyncer
	notifier      Notifier
	clock         clock.Clock
	log           *zap.Logger
	notifyTimeout time.Duration
}

// CommitOption configures a Committer.
type CommitOption func(*Committer)

// WithLedger syncs the ledger after every new reservation.
func WithLedger(l LedgerSyncer) CommitOption {
	return func(c *Committer) { c.ledger = l }
}

// WithNotifier publishes every new reservation.
func WithNotifier(n Notifier) CommitOption {
	return func(c *Committer) { c.notifier = n }
}

// WithNotifyTimeout bounds the notification call.
func WithNotifyTimeout(d time.Duration) CommitOption {
	return func(c *Committer) {
		if d > 0 {
			c.notifyTimeout = d
		}
	}
}

// NewCommitter returns a Committer.
func NewCommitter(store Store, cal *SlotCalendar, calc *commission.Calculator, clk clock.Clock, log *zap.Logger, opts ...CommitOption) *Committer {
	c := &Committer{
		store:         store,
		calendar:      cal,
		calc:          calc,
		clock:         clk,
		log:           log,
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit creates the reservation of an approved session exactly once.  The
// reservation insert and the hold deletion share one transaction.  When the
// session's code already has a reservation, that reservation is returned
// with AlreadyCommitted set and nothing else happens.  An approval whose
// hold is gone is recorded as an anomaly and fails with ErrHoldExpired.
func (c *Committer) Commit(ctx context.Context, sess model.PaymentSession) (CommitResult, error) {
	if sess.Status != model.PaymentApproved {
		return CommitResult{}, fmt.Errorf("%w: order %s is %s", ErrNotApproved, sess.OrderID, sess.Status)
	}
	now := c.clock.Now()

	var res CommitResult
	err := c.store.WithTx(ctx, func(ctx context.Context) error {
		if existing, found, err := c.byCode(ctx, sess.ReservationCode); err != nil || found {
			res = CommitResult{Reservation: existing, AlreadyCommitted: true}
			return err
		}
		hold, err := c.store.GetHold(ctx, sess.HoldID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrHoldExpired
		}
		if err != nil {
			return err
		}
		if !hold.Live(now) {
			return ErrHoldExpired
		}
		r, err := c.build(ctx, hold, sess.ReservationCode, sess.Amount, model.PaymentMethodWebpay, &sess.OrderID, now)
		if err != nil {
			return err
		}
		if err := c.store.InsertReservation(ctx, &r); err != nil {
			return err
		}
		if err := c.store.DeleteHold(ctx, hold.ID); err != nil {
			return err
		}
		res = CommitResult{Reservation: r}
		return nil
	})
	switch {
	case errors.Is(err, ErrHoldExpired):
		c.recordAnomaly(ctx, sess, model.AnomalyLateApproval, "payment approved after its hold was released or expired", now)
		return CommitResult{}, fmt.Errorf("commit order %s: %w", sess.OrderID, ErrHoldExpired)
	case errors.Is(err, repository.ErrDuplicate):
		return c.afterLostRace(ctx, sess)
	case err != nil:
		return CommitResult{}, fmt.Errorf("commit order %s: %w", sess.OrderID, err)
	}

	if !res.AlreadyCommitted {
		c.log.Info("reservation committed",
			zap.String("code", res.Reservation.Code),
			zap.String("order_id", sess.OrderID),
			zap.Int64("amount_paid", res.Reservation.AmountPaid),
			zap.Int64("commission", res.Reservation.CommissionApplied),
		)
		c.afterCommit(ctx, res.Reservation)
	}
	return res, nil
}

// Recover commits an approved session whose hold expired before the
// approval could be applied.  It re-runs the overlap check against the
// slot captured when the session was opened; if someone else has taken the
// slot in the meantime it fails with ErrSlotConflict and the payment has to
// be refunded by hand.
func (c *Committer) Recover(ctx context.Context, orderID string) (CommitResult, error) {
	sess, err := c.store.GetPaymentByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return CommitResult{}, ErrPaymentNotFound
	}
	if err != nil {
		return CommitResult{}, err
	}
	if sess.Status != model.PaymentApproved {
		return CommitResult{}, fmt.Errorf("%w: order %s is %s", ErrNotApproved, orderID, sess.Status)
	}
	now := c.clock.Now()
	snap := sess.Snapshot

	var res CommitResult
	err = c.store.WithTx(ctx, func(ctx context.Context) error {
		if existing, found, err := c.byCode(ctx, sess.ReservationCode); err != nil || found {
			res = CommitResult{Reservation: existing, AlreadyCommitted: true}
			return err
		}
		if _, err := c.store.LockCourt(ctx, snap.CourtID); err != nil {
			return courtErr(err)
		}
		if err := c.calendar.ensureFree(ctx, snap.CourtID, snap.Date, snap.Range(), now, sess.HoldID); err != nil {
			return err
		}
		r, err := c.build(ctx, snap, sess.ReservationCode, sess.Amount, model.PaymentMethodWebpay, &sess.OrderID, now)
		if err != nil {
			return err
		}
		if err := c.store.InsertReservation(ctx, &r); err != nil {
			return err
		}
		if err := c.store.DeleteHold(ctx, sess.HoldID); err != nil {
			return err
		}
		res = CommitResult{Reservation: r}
		return nil
	})
	if err != nil {
		return CommitResult{}, fmt.Errorf("recover order %s: %w", orderID, err)
	}
	if err := c.store.ResolveAnomalies(ctx, orderID, now); err != nil {
		c.log.Error("resolve anomalies", zap.String("order_id", orderID), zap.Error(err))
	}
	if !res.AlreadyCommitted {
		c.log.Info("late payment recovered", zap.String("order_id", orderID), zap.String("code", res.Reservation.Code))
		c.afterCommit(ctx, res.Reservation)
	}
	return res, nil
}

// BookDirect records a staff booking.  It takes the same court lock and
// runs the same overlap check as hold creation.
func (c *Committer) BookDirect(ctx context.Context, in AdminBooking) (model.Reservation, error) {
	if strings.TrimSpace(in.Customer.Name) == "" {
		return model.Reservation{}, fmt.Errorf("%w: name is required", ErrInvalidCustomer)
	}
	if in.AmountPaid < 0 {
		return model.Reservation{}, fmt.Errorf("%w: amount paid %d", ErrInvalidAmount, in.AmountPaid)
	}
	method := in.PaymentMethod
	if method == "" {
		method = model.PaymentMethodCash
	}
	now := c.clock.Now()
	date := model.DateOf(in.Date)
	adminID := in.AdminID

	var r model.Reservation
	var err error
	for attempt := 0; attempt < codeAttempts; attempt++ {
		err = c.store.WithTx(ctx, func(ctx context.Context) error {
			court, err := c.store.LockCourt(ctx, in.CourtID)
			if err != nil {
				return courtErr(err)
			}
			cx, err := c.store.GetComplex(ctx, court.ComplexID)
			if err != nil {
				return fmt.Errorf("load complex %d: %w", court.ComplexID, err)
			}
			if err := c.calendar.checkBookable(cx, date, in.Range, now); err != nil {
				return err
			}
			if err := c.calendar.ensureFree(ctx, in.CourtID, date, in.Range, now, ""); err != nil {
				return err
			}
			total := in.PriceTotal
			if total <= 0 {
				total = price(court, in.Range)
			}
			if in.AmountPaid > total {
				return fmt.Errorf("%w: paid %d exceeds price %d", ErrInvalidAmount, in.AmountPaid, total)
			}
			code, err := freeCode(ctx, c.store)
			if err != nil {
				return err
			}
			snap := model.Hold{
				CourtID: in.CourtID,
				Date:    date,
				Start:   in.Range.Start,
				End:     in.Range.End,
				Client: model.ClientSnapshot{
					Name:       in.Customer.Name,
					Email:      in.Customer.Email,
					Phone:      in.Customer.Phone,
					PriceTotal: total,
					Channel:    model.ChannelAdministrative,
					AdminID:    &adminID,
				},
			}
			r, err = c.build(ctx, snap, code, in.AmountPaid, method, nil, now)
			if err != nil {
				return err
			}
			return c.store.InsertReservation(ctx, &r)
		})
		if !errors.Is(err, repository.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		return model.Reservation{}, err
	}
	c.log.Info("administrative reservation created",
		zap.String("code", r.Code),
		zap.Uint64("court_id", r.CourtID),
		zap.Uint64("admin_id", adminID),
	)
	c.afterCommit(ctx, r)
	return r, nil
}

// Cancel marks a confirmed reservation as cancelled, freeing its slot.
// Ledger entries already written are kept; deposits recomputed afterwards
// no longer include the reservation.
func (c *Committer) Cancel(ctx context.Context, code string) (model.Reservation, error) {
	var r model.Reservation
	err := c.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = c.store.GetReservationByCode(ctx, code)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrReservationNotFound
		}
		if err != nil {
			return err
		}
		if !r.Status.CanTransitionTo(model.ReservationCancelled) {
			return ErrAlreadyCancelled
		}
		r.Status = model.ReservationCancelled
		return c.store.UpdateReservationStatus(ctx, r.ID, r.Status)
	})
	if err != nil {
		return model.Reservation{}, err
	}
	c.log.Info("reservation cancelled", zap.String("code", code))
	return r, nil
}

// Lookup returns a reservation by code.
func (c *Committer) Lookup(ctx context.Context, code string) (model.Reservation, error) {
	r, err := c.store.GetReservationByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Reservation{}, ErrReservationNotFound
	}
	return r, err
}

func (c *Committer) byCode(ctx context.Context, code string) (model.Reservation, bool, error) {
	r, err := c.store.GetReservationByCode(ctx, code)
	switch {
	case err == nil:
		return r, true, nil
	case errors.Is(err, repository.ErrNotFound):
		return model.Reservation{}, false, nil
	default:
		return model.Reservation{}, false, err
	}
}

// build assembles a reservation from a hold snapshot.  The commission is
// computed here, once, with the rules in force now.
func (c *Committer) build(ctx context.Context, snap model.Hold, code string, paid int64, method string, orderID *string, now time.Time) (model.Reservation, error) {
	court, err := c.store.GetCourt(ctx, snap.CourtID)
	if err != nil {
		return model.Reservation{}, courtErr(err)
	}
	cx, err := c.store.GetComplex(ctx, court.ComplexID)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("load complex %d: %w", court.ComplexID, err)
	}
	total := snap.Client.PriceTotal
	if paid > total {
		paid = total
	}
	b, err := c.calc.Compute(total, snap.Client.Channel, cx.CommissionExemptUntil, snap.Date)
	if err != nil {
		return model.Reservation{}, err
	}
	return model.Reservation{
		Code:      code,
		CourtID:   snap.CourtID,
		ComplexID: court.ComplexID,
		Date:      model.DateOf(snap.Date),
		Start:     snap.Start,
		End:       snap.End,
		Customer: model.Customer{
			Name:  snap.Client.Name,
			Email: snap.Client.Email,
			Phone: snap.Client.Phone,
		},
		PriceTotal:        total,
		AmountPaid:        paid,
		PaidPercentage:    model.PaidPercentage(paid, total),
		PaymentMethod:     method,
		CommissionApplied: b.Total,
		Channel:           snap.Client.Channel,
		Status:            model.ReservationConfirmed,
		PaymentStatus:     model.SettlementFor(paid, total),
		OrderID:           orderID,
		AdminID:           snap.Client.AdminID,
		CreatedAt:         now,
	}, nil
}

// afterLostRace handles a duplicate-key failure on insert: a concurrent
// commit of the same session won.
func (c *Committer) afterLostRace(ctx context.Context, sess model.PaymentSession) (CommitResult, error) {
	r, found, err := c.byCode(ctx, sess.ReservationCode)
	if err != nil {
		return CommitResult{}, err
	}
	if !found || r.OrderID == nil || *r.OrderID != sess.OrderID {
		return CommitResult{}, fmt.Errorf("commit order %s: code %s taken by another reservation: %w",
			sess.OrderID, sess.ReservationCode, repository.ErrDuplicate)
	}
	return CommitResult{Reservation: r, AlreadyCommitted: true}, nil
}

// afterCommit runs the post-commit side effects.  Neither can fail the
// commit; both can be replayed later (ledger backfill, event redelivery).
func (c *Committer) afterCommit(ctx context.Context, r model.Reservation) {
	ctx = context.WithoutCancel(ctx)
	if c.ledger != nil {
		if _, err := c.ledger.SyncReservation(ctx, r); err != nil {
			c.log.Error("ledger sync failed", zap.String("code", r.Code), zap.Error(err))
		}
	}
	if c.notifier != nil {
		nctx, cancel := context.WithTimeout(ctx, c.notifyTimeout)
		defer cancel()
		if err := c.notifier.ReservationConfirmed(nctx, r); err != nil {
			c.log.Warn("reservation notification failed", zap.String("code", r.Code), zap.Error(err))
		}
	}
}

func (c *Committer) recordAnomaly(ctx context.Context, sess model.PaymentSession, kind model.AnomalyKind, detail string, now time.Time) {
	c.log.Error("payment anomaly",
		zap.String("kind", string(kind)),
		zap.String("order_id", sess.OrderID),
		zap.String("detail", detail),
	)
	err := c.store.InsertAnomaly(context.WithoutCancel(ctx), model.PaymentAnomaly{
		OrderID:   sess.OrderID,
		Token:     sess.Token,
		Kind:      kind,
		Detail:    detail,
		Snapshot:  sess.Snapshot,
		CreatedAt: now,
	})
	if err != nil {
		c.log.Error("record payment anomaly", zap.String("order_id", sess.OrderID), zap.Error(err))
	}
}
