package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Fake is an in-process gateway.  Transactions start INITIALIZED; the test
// or the sandbox payment page decides their fate with Approve or Decline.
// Confirm behaves like the real service: the first call commits the
// decided result, later calls fail with ErrAlreadyConfirmed.
type Fake struct {
	mu        sync.Mutex
	txs       map[string]*fakeTx
	down      bool
	baseURL   string
	authorize atomic.Int64
	confirm   atomic.Int64
	status    atomic.Int64
}

type fakeTx struct {
	result    Result
	confirmed bool
	refunded  int64
}

// NewFake returns a Fake whose redirect URLs start with baseURL.
func NewFake(baseURL string) *Fake {
	return &Fake{txs: map[string]*fakeTx{}, baseURL: baseURL}
}

// SetDown makes every call fail with ErrUnavailable until reset.
func (f *Fake) SetDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

// Approve marks a transaction as authorized with response code 0.
func (f *Fake) Approve(token string) error {
	return f.decide(token, StatusAuthorized, 0)
}

// Decline marks a transaction as failed with response code -1.
func (f *Fake) Decline(token string) error {
	return f.decide(token, StatusFailed, -1)
}

func (f *Fake) decide(token string, st Status, code int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[token]
	if !ok {
		return ErrUnknownToken
	}
	tx.result.Status = st
	tx.result.ResponseCode = &code
	if st == StatusAuthorized {
		at := time.Now().UTC().Truncate(time.Second)
		tx.result.AuthorizationCode = fmt.Sprintf("%06d", len(f.txs))
		tx.result.PaymentTypeCode = "VD"
		tx.result.TransactionDate = &at
	}
	return nil
}

// Calls returns how many Authorize, Confirm and Status calls were made.
func (f *Fake) Calls() (authorize, confirm, status int64) {
	return f.authorize.Load(), f.confirm.Load(), f.status.Load()
}

// Authorize implements Gateway.
func (f *Fake) Authorize(_ context.Context, req AuthorizeRequest) (Authorization, error) {
	f.authorize.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return Authorization{}, ErrUnavailable
	}
	token := uuid.NewString()
	f.txs[token] = &fakeTx{result: Result{Status: StatusInitialized, OrderID: req.OrderID, Amount: req.Amount}}
	return Authorization{Token: token, URL: f.baseURL}, nil
}

// Confirm implements Gateway.
func (f *Fake) Confirm(_ context.Context, token string) (Result, error) {
	f.confirm.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return Result{}, ErrUnavailable
	}
	tx, ok := f.txs[token]
	if !ok {
		return Result{}, ErrUnknownToken
	}
	if tx.confirmed {
		return Result{}, ErrAlreadyConfirmed
	}
	if tx.result.Status != StatusInitialized {
		tx.confirmed = true
	}
	return tx.result, nil
}

// Status implements Gateway.
func (f *Fake) Status(_ context.Context, token string) (Result, error) {
	f.status.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return Result{}, ErrUnavailable
	}
	tx, ok := f.txs[token]
	if !ok {
		return Result{}, ErrUnknownToken
	}
	return tx.result, nil
}

// Refund implements Gateway.  Only authorized transactions are refundable,
// up to what remains of the authorized amount.
func (f *Fake) Refund(_ context.Context, token string, amount int64) (Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return Refund{}, ErrUnavailable
	}
	tx, ok := f.txs[token]
	if !ok {
		return Refund{}, ErrUnknownToken
	}
	switch tx.result.Status {
	case StatusAuthorized, StatusPartiallyNullified:
	default:
		return Refund{}, fmt.Errorf("%w: transaction is %s", ErrRefundRejected, tx.result.Status)
	}
	balance := tx.result.Amount - tx.refunded
	if amount <= 0 || amount > balance {
		return Refund{}, fmt.Errorf("%w: %d against balance %d", ErrRefundRejected, amount, balance)
	}
	tx.refunded += amount
	balance -= amount
	tx.result.Status = StatusPartiallyNullified
	if balance == 0 {
		tx.result.Status = StatusNullified
	}
	code := 0
	at := time.Now().UTC().Truncate(time.Second)
	return Refund{
		Type:              string(StatusNullified),
		AuthorizationCode: fmt.Sprintf("R%05d", tx.refunded%100000),
		AuthorizationDate: &at,
		NullifiedAmount:   amount,
		Balance:           balance,
		ResponseCode:      &code,
	}, nil
}

// RedirectURL implements Gateway.
func (f *Fake) RedirectURL(token string) string {
	return f.baseURL + "?token_ws=" + token
}
