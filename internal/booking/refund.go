package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/gateway"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

// RefundRequest asks to return money of an approved session.  A zero
// Amount refunds whatever is left.
type RefundRequest struct {
	OrderID string
	Amount  int64
	Reason  string
	AdminID uint64
}

// PaymentRecord is a session with the refunds made against it.
type PaymentRecord struct {
	Session  model.PaymentSession  `json:"session"`
	Refunds  []model.PaymentRefund `json:"refunds"`
	Refunded int64                 `json:"refunded"`
}

// PaymentHistory is everything known about the money behind a reservation
// code.  Reservation is nil for approvals that never became one.
type PaymentHistory struct {
	Code        string             `json:"code"`
	ComplexID   uint64             `json:"complex_id"`
	Reservation *model.Reservation `json:"reservation,omitempty"`
	Payments    []PaymentRecord    `json:"payments"`
}

// Refund returns money of an approved session to the customer.  Only
// sessions whose reservation was cancelled or never committed (late
// approvals) qualify.  Refunding a late approval in full resolves its
// anomalies.
//
// The gateway enforces the refundable balance; the check here only keeps
// obviously wrong requests from reaching it.
func (m *PaymentManager) Refund(ctx context.Context, req RefundRequest) (model.PaymentRefund, error) {
	sess, err := m.store.GetPaymentByOrderID(ctx, req.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.PaymentRefund{}, ErrPaymentNotFound
	}
	if err != nil {
		return model.PaymentRefund{}, err
	}
	if sess.Status != model.PaymentApproved {
		return model.PaymentRefund{}, fmt.Errorf("%w: order %s is %s", ErrNotApproved, req.OrderID, sess.Status)
	}
	r, committed, err := m.committer.byCode(ctx, sess.ReservationCode)
	if err != nil {
		return model.PaymentRefund{}, err
	}
	if committed && r.Status != model.ReservationCancelled {
		return model.PaymentRefund{}, fmt.Errorf("%w: reservation %s is %s", ErrRefundNotAllowed, r.Code, r.Status)
	}

	previous, err := m.store.ListRefunds(ctx, req.OrderID)
	if err != nil {
		return model.PaymentRefund{}, fmt.Errorf("list refunds: %w", err)
	}
	remaining := sess.PaidAmount - refunded(previous)
	amount := req.Amount
	if amount == 0 {
		amount = remaining
	}
	if amount <= 0 || amount > remaining {
		return model.PaymentRefund{}, fmt.Errorf("%w: refund %d with %d refundable", ErrInvalidAmount, amount, remaining)
	}

	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	res, err := m.gw.Refund(rctx, sess.Token, amount)
	cancel()
	switch {
	case errors.Is(err, gateway.ErrUnavailable):
		return model.PaymentRefund{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	case errors.Is(err, gateway.ErrRefundRejected), errors.Is(err, gateway.ErrUnknownToken):
		return model.PaymentRefund{}, fmt.Errorf("%w: %v", ErrRefundRejected, err)
	case err != nil:
		return model.PaymentRefund{}, fmt.Errorf("refund order %s: %w", req.OrderID, err)
	}

	now := m.clock.Now()
	adminID := req.AdminID
	f := model.PaymentRefund{
		OrderID:           sess.OrderID,
		Token:             sess.Token,
		Amount:            amount,
		Type:              res.Type,
		AuthorizationCode: res.AuthorizationCode,
		ResponseCode:      res.ResponseCode,
		Balance:           res.Balance,
		Reason:            strings.TrimSpace(req.Reason),
		RequestedBy:       &adminID,
		CreatedAt:         now,
	}
	if err := m.store.InsertRefund(ctx, &f); err != nil {
		m.log.Error("refund accepted by gateway but not recorded",
			zap.String("order_id", sess.OrderID),
			zap.Int64("amount", amount),
			zap.String("authorization_code", res.AuthorizationCode),
			zap.Error(err),
		)
		return model.PaymentRefund{}, fmt.Errorf("record refund of order %s: %w", sess.OrderID, err)
	}
	if !committed && amount == remaining {
		if err := m.store.ResolveAnomalies(ctx, sess.OrderID, now); err != nil {
			m.log.Error("resolve anomalies", zap.String("order_id", sess.OrderID), zap.Error(err))
		}
	}
	m.log.Info("payment refunded",
		zap.String("order_id", sess.OrderID),
		zap.Int64("amount", amount),
		zap.Int64("balance", res.Balance),
		zap.Uint64("admin_id", adminID),
	)
	return f, nil
}

// History returns the reservation and payment sessions behind a code.
func (m *PaymentManager) History(ctx context.Context, code string) (PaymentHistory, error) {
	h := PaymentHistory{Code: code, Payments: []PaymentRecord{}}
	r, found, err := m.committer.byCode(ctx, code)
	if err != nil {
		return PaymentHistory{}, err
	}
	if found {
		h.Reservation = &r
		h.ComplexID = r.ComplexID
	}
	sessions, err := m.store.ListPaymentsByCode(ctx, code)
	if err != nil {
		return PaymentHistory{}, fmt.Errorf("list payments: %w", err)
	}
	if !found && len(sessions) == 0 {
		return PaymentHistory{}, ErrReservationNotFound
	}
	for _, s := range sessions {
		refunds, err := m.store.ListRefunds(ctx, s.OrderID)
		if err != nil {
			return PaymentHistory{}, fmt.Errorf("list refunds: %w", err)
		}
		if refunds == nil {
			refunds = []model.PaymentRefund{}
		}
		h.Payments = append(h.Payments, PaymentRecord{Session: s, Refunds: refunds, Refunded: refunded(refunds)})
	}
	if h.ComplexID == 0 && len(sessions) > 0 {
		court, err := m.store.GetCourt(ctx, sessions[0].Snapshot.CourtID)
		if err != nil {
			return PaymentHistory{}, courtErr(err)
		}
		h.ComplexID = court.ComplexID
	}
	return h, nil
}

func refunded(fs []model.PaymentRefund) int64 {
	var n int64
	for _, f := range fs {
		n += f.Amount
	}
	return n
}
