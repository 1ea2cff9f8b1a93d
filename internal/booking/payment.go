package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/gateway"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

const defaultGatewayTimeout = 10 * time.Second

// OpenResult is a payment session ready for the customer's redirect.
// Reused is set when an identical pending session already existed.
type OpenResult struct {
	Session     model.PaymentSession `json:"session"`
	RedirectURL string               `json:"redirect_url"`
	Reused      bool                 `json:"reused"`
}

// FinalizeResult reports what finalize did.  Cached is set when the session
// was already terminal and the gateway was not contacted.  Reservation is
// set for approved sessions.
type FinalizeResult struct {
	Session          model.PaymentSession `json:"session"`
	Reservation      *model.Reservation   `json:"reservation,omitempty"`
	AlreadyCommitted bool                 `json:"already_committed"`
	Cached           bool                 `json:"cached"`
}

// PaymentView is the read-only state of a session.
type PaymentView struct {
	Session     model.PaymentSession `json:"session"`
	RedirectURL string               `json:"redirect_url,omitempty"`
	Reservation *model.Reservation   `json:"reservation,omitempty"`
}

// ReconcileReport counts what a reconcile pass did with pending sessions.
type ReconcileReport struct {
	Checked  int `json:"checked"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Expired  int `json:"expired"`
	Pending  int `json:"pending"`
	Failed   int `json:"failed"`
}

// PaymentManager drives payment sessions against the gateway.
type PaymentManager struct {
	store     Store
	gw        gateway.Gateway
	holds     *HoldManager
	committer *Committer
	clock     clock.Clock
	log       *zap.Logger
	returnURL string
	timeout   time.Duration
}

// PaymentOption configures a PaymentManager.
type PaymentOption func(*PaymentManager)

// WithGatewayTimeout bounds every gateway call.
func WithGatewayTimeout(d time.Duration) PaymentOption {
	return func(m *PaymentManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithReturnURL sets where the gateway sends the customer back to.
func WithReturnURL(u string) PaymentOption {
	return func(m *PaymentManager) { m.returnURL = u }
}

// NewPaymentManager returns a PaymentManager.
func NewPaymentManager(store Store, gw gateway.Gateway, holds *HoldManager, committer *Committer, clk clock.Clock, log *zap.Logger, opts ...PaymentOption) *PaymentManager {
	m := &PaymentManager{
		store:     store,
		gw:        gw,
		holds:     holds,
		committer: committer,
		clock:     clk,
		log:       log,
		timeout:   defaultGatewayTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open starts a gateway transaction for a live hold.  Calling it again for
// the same hold and amount returns the existing pending session instead of
// opening a second transaction.
func (m *PaymentManager) Open(ctx context.Context, holdID string, amount int64) (OpenResult, error) {
	hold, err := m.liveHold(ctx, holdID)
	if err != nil {
		return OpenResult{}, err
	}
	total := hold.Client.PriceTotal
	if minimum := model.PrepaidAmount(total, hold.Client.PrepaidPercentage); amount <= 0 || amount < minimum || amount > total {
		return OpenResult{}, fmt.Errorf("%w: %d for price %d, at least %d (%d%%) must be prepaid",
			ErrInvalidAmount, amount, total, minimum, hold.Client.PrepaidPercentage)
	}
	if existing, ok, err := m.openSession(ctx, holdID, amount); err != nil || ok {
		return existing, err
	}

	orderID := newOrderID()
	actx, cancel := context.WithTimeout(ctx, m.timeout)
	auth, err := m.gw.Authorize(actx, gateway.AuthorizeRequest{
		OrderID:   orderID,
		SessionID: hold.SessionID,
		Amount:    amount,
		ReturnURL: m.returnURL,
	})
	cancel()
	if err != nil {
		m.log.Warn("gateway authorize failed", zap.String("hold_id", holdID), zap.Error(err))
		return OpenResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	var out OpenResult
	for attempt := 0; attempt < codeAttempts; attempt++ {
		err = m.store.WithTx(ctx, func(ctx context.Context) error {
			// Serialise with other writers on the same court so two opens for
			// one hold cannot both insert.
			if _, err := m.store.LockCourt(ctx, hold.CourtID); err != nil {
				return courtErr(err)
			}
			current, err := m.liveHold(ctx, holdID)
			if err != nil {
				return err
			}
			if existing, ok, err := m.openSession(ctx, holdID, amount); err != nil || ok {
				out = existing
				return err
			}
			code, err := freeCode(ctx, m.store)
			if err != nil {
				return err
			}
			now := m.clock.Now()
			sess := model.PaymentSession{
				Token:           auth.Token,
				OrderID:         orderID,
				SessionID:       current.SessionID,
				HoldID:          holdID,
				ReservationCode: code,
				Amount:          amount,
				Status:          model.PaymentPending,
				Snapshot:        current,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := m.store.InsertPayment(ctx, &sess); err != nil {
				return err
			}
			out = OpenResult{Session: sess, RedirectURL: m.gw.RedirectURL(sess.Token)}
			return nil
		})
		if !errors.Is(err, repository.ErrDuplicate) {
			break
		}
	}
	if err != nil || out.Reused {
		// The transaction just created at the gateway will never be shown
		// to the customer.  Webpay lets unpaid transactions lapse, so it is
		// only logged for reconciliation.
		m.log.Warn("abandoned gateway authorization",
			zap.String("hold_id", holdID),
			zap.String("order_id", orderID),
			zap.String("token", auth.Token),
			zap.Error(err),
		)
	}
	if err != nil {
		return OpenResult{}, err
	}
	if !out.Reused {
		m.log.Info("payment session opened",
			zap.String("order_id", out.Session.OrderID),
			zap.String("hold_id", holdID),
			zap.Int64("amount", amount),
		)
	}
	return out, nil
}

// Finalize resolves a session with the gateway and, when approved, commits
// the reservation.  A session that is already terminal is answered from the
// stored result without contacting the gateway, so repeated calls for the
// same token produce the same reservation.
//
// Approved sessions return the reservation.  Rejected sessions release the
// hold and return ErrPaymentRejected.  Expired sessions return
// ErrHoldExpired.  When the gateway cannot be reached the session stays
// pending and ErrGatewayUnavailable is returned.
func (m *PaymentManager) Finalize(ctx context.Context, token string) (FinalizeResult, error) {
	sess, err := m.session(ctx, token)
	if err != nil {
		return FinalizeResult{}, err
	}
	if sess.Status.Terminal() {
		return m.settle(ctx, sess, true)
	}

	res, err := m.query(ctx, token)
	if err != nil && !errors.Is(err, gateway.ErrUnknownToken) {
		if errors.Is(err, gateway.ErrUnavailable) {
			m.log.Warn("gateway unavailable, payment left pending", zap.String("order_id", sess.OrderID), zap.Error(err))
			return FinalizeResult{Session: sess}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return FinalizeResult{Session: sess}, fmt.Errorf("finalize order %s: %w", sess.OrderID, err)
	}
	if err != nil {
		// The gateway never saw a payment for this token.
		res = gateway.Result{Status: gateway.StatusInitialized}
	}

	now := m.clock.Now()
	out, decided, err := m.decide(ctx, sess, res, now)
	if err != nil {
		return FinalizeResult{Session: sess}, err
	}
	if !decided {
		return FinalizeResult{Session: sess}, nil
	}

	won, err := m.store.ResolvePayment(ctx, token, out, now)
	if err != nil {
		return FinalizeResult{Session: sess}, fmt.Errorf("resolve order %s: %w", sess.OrderID, err)
	}
	if sess, err = m.session(ctx, token); err != nil {
		return FinalizeResult{}, err
	}
	if won {
		m.log.Info("payment resolved",
			zap.String("order_id", sess.OrderID),
			zap.String("status", string(sess.Status)),
			zap.String("authorization_code", sess.AuthorizationCode),
		)
		if sess.Status == model.PaymentApproved && res.Amount != 0 && res.Amount != sess.Amount {
			m.committer.recordAnomaly(ctx, sess, model.AnomalyAmountMismatch,
				fmt.Sprintf("gateway reported %d, session opened for %d", res.Amount, sess.Amount), now)
		}
	}
	return m.settle(ctx, sess, !won)
}

// Lookup returns the state of a session without contacting the gateway.
func (m *PaymentManager) Lookup(ctx context.Context, token string) (PaymentView, error) {
	sess, err := m.session(ctx, token)
	if err != nil {
		return PaymentView{}, err
	}
	v := PaymentView{Session: sess}
	switch sess.Status {
	case model.PaymentPending:
		v.RedirectURL = m.gw.RedirectURL(sess.Token)
	case model.PaymentApproved:
		r, found, err := m.committer.byCode(ctx, sess.ReservationCode)
		if err != nil {
			return PaymentView{}, err
		}
		if found {
			v.Reservation = &r
		}
	}
	return v, nil
}

// Reconcile finalizes pending sessions older than age.  It is the path by
// which customers who never return from the gateway still get their
// reservation, or their hold released.
func (m *PaymentManager) Reconcile(ctx context.Context, age time.Duration, limit int) (ReconcileReport, error) {
	var rep ReconcileReport
	pending, err := m.store.ListPendingPayments(ctx, m.clock.Now().Add(-age), limit)
	if err != nil {
		return rep, fmt.Errorf("list pending payments: %w", err)
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Checked++
		res, err := m.Finalize(ctx, p.Token)
		switch {
		case errors.Is(err, ErrPaymentRejected):
			rep.Rejected++
		case errors.Is(err, ErrHoldExpired):
			rep.Expired++
		case err != nil:
			rep.Failed++
			m.log.Warn("reconcile payment", zap.String("order_id", p.OrderID), zap.Error(err))
		case res.Session.Status == model.PaymentApproved:
			rep.Approved++
		default:
			rep.Pending++
		}
	}
	return rep, nil
}

// query confirms the transaction and falls back to a status read when the
// gateway refuses the confirmation.
func (m *PaymentManager) query(ctx context.Context, token string) (gateway.Result, error) {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	res, err := m.gw.Confirm(cctx, token)
	cancel()
	if err == nil || errors.Is(err, gateway.ErrUnavailable) || errors.Is(err, gateway.ErrUnknownToken) {
		return res, err
	}
	sctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.gw.Status(sctx, token)
}

// decide maps a gateway result onto a session outcome.  An INITIALIZED
// transaction is only decided (as expired) once its hold is dead.
func (m *PaymentManager) decide(ctx context.Context, sess model.PaymentSession, res gateway.Result, now time.Time) (model.PaymentOutcome, bool, error) {
	out := model.PaymentOutcome{
		AuthorizationCode:  res.AuthorizationCode,
		ResponseCode:       res.ResponseCode,
		PaymentTypeCode:    res.PaymentTypeCode,
		InstallmentsNumber: res.InstallmentsNumber,
		TransactionDate:    res.TransactionDate,
	}
	switch res.Status {
	case gateway.StatusAuthorized, gateway.StatusCaptured:
		if res.ResponseCode != nil && *res.ResponseCode != 0 {
			out.Status = model.PaymentRejected
			return out, true, nil
		}
		out.Status = model.PaymentApproved
		out.PaidAmount = sess.Amount
		return out, true, nil
	case gateway.StatusFailed, gateway.StatusNullified, gateway.StatusPartiallyNullified, gateway.StatusReversed:
		out.Status = model.PaymentRejected
		return out, true, nil
	}

	hold, err := m.store.GetHold(ctx, sess.HoldID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return out, false, err
	case hold.Live(now):
		return out, false, nil
	}
	out.Status = model.PaymentExpired
	return out, true, nil
}

// settle applies the consequences of a terminal session.
func (m *PaymentManager) settle(ctx context.Context, sess model.PaymentSession, cached bool) (FinalizeResult, error) {
	out := FinalizeResult{Session: sess, Cached: cached}
	switch sess.Status {
	case model.PaymentApproved:
		cr, err := m.committer.Commit(ctx, sess)
		if err != nil {
			return out, err
		}
		out.Reservation = &cr.Reservation
		out.AlreadyCommitted = cr.AlreadyCommitted
	case model.PaymentRejected:
		if err := m.holds.Release(ctx, sess.HoldID); err != nil {
			return out, err
		}
		return out, ErrPaymentRejected
	case model.PaymentExpired:
		if err := m.holds.Release(ctx, sess.HoldID); err != nil {
			return out, err
		}
		return out, ErrHoldExpired
	}
	return out, nil
}

func (m *PaymentManager) session(ctx context.Context, token string) (model.PaymentSession, error) {
	sess, err := m.store.GetPaymentByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return model.PaymentSession{}, ErrPaymentNotFound
	}
	return sess, err
}

func (m *PaymentManager) liveHold(ctx context.Context, id string) (model.Hold, error) {
	h, err := m.store.GetHold(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Hold{}, ErrHoldExpired
	}
	if err != nil {
		return model.Hold{}, err
	}
	if !h.Live(m.clock.Now()) {
		return model.Hold{}, ErrHoldExpired
	}
	return h, nil
}

// openSession returns the pending session for the hold when its amount
// matches.  Any other live session for the hold is a conflict.
func (m *PaymentManager) openSession(ctx context.Context, holdID string, amount int64) (OpenResult, bool, error) {
	sessions, err := m.store.ListPaymentsByHold(ctx, holdID)
	if err != nil {
		return OpenResult{}, false, err
	}
	for _, s := range sessions {
		switch s.Status {
		case model.PaymentPending:
			if s.Amount != amount {
				return OpenResult{}, false, fmt.Errorf("%w: pending order %s for %d", ErrPaymentInProgress, s.OrderID, s.Amount)
			}
			return OpenResult{Session: s, RedirectURL: m.gw.RedirectURL(s.Token), Reused: true}, true, nil
		case model.PaymentApproved:
			return OpenResult{}, false, fmt.Errorf("%w: order %s already approved", ErrPaymentInProgress, s.OrderID)
		}
	}
	return OpenResult{}, false, nil
}
