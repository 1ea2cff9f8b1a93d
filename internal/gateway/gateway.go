// Package gateway is the client side of the hosted payment page the
// customer is redirected to.  The engine creates a transaction, confirms it
// when the customer comes back and queries its status when confirmation is
// impossible or was already done.  Operators refund approved transactions
// that could not become reservations.
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable marks transport failures, timeouts and 5xx answers.
	// The outcome of the transaction is unknown and the call may be retried.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrAlreadyConfirmed is returned by Confirm when the gateway refuses a
	// second confirmation of the same token.
	ErrAlreadyConfirmed = errors.New("transaction already confirmed")
	// ErrUnknownToken is returned when the gateway does not know the token.
	ErrUnknownToken = errors.New("unknown transaction token")
	// ErrRefundRejected is returned when the gateway refuses a refund, for
	// instance because it exceeds the remaining balance.
	ErrRefundRejected = errors.New("refund rejected")
)

// Status is the gateway-side transaction status.
type Status string

const (
	StatusInitialized        Status = "INITIALIZED"
	StatusAuthorized         Status = "AUTHORIZED"
	StatusCaptured           Status = "CAPTURED"
	StatusFailed             Status = "FAILED"
	StatusNullified          Status = "NULLIFIED"
	StatusPartiallyNullified Status = "PARTIALLY_NULLIFIED"
	StatusReversed           Status = "REVERSED"
)

// AuthorizeRequest opens a transaction for OrderID.
type AuthorizeRequest struct {
	OrderID   string
	SessionID string
	Amount    int64
	ReturnURL string
}

// Authorization is the gateway's answer to AuthorizeRequest.  The customer
// is sent to URL carrying Token.
type Authorization struct {
	Token string
	URL   string
}

// Result is what the gateway reports about a transaction.
type Result struct {
	Status             Status
	OrderID            string
	Amount             int64
	AuthorizationCode  string
	ResponseCode       *int
	PaymentTypeCode    string // VD debit, VN credit, VC installments...
	InstallmentsNumber int
	TransactionDate    *time.Time
}

// Refund is the gateway's answer to a refund request.  Balance is what
// remains refundable afterwards.
type Refund struct {
	Type              string
	AuthorizationCode string
	AuthorizationDate *time.Time
	NullifiedAmount   int64
	Balance           int64
	ResponseCode      *int
}

// Gateway is a hosted payment page provider.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
	// Confirm commits the transaction after the customer returns.  It
	// succeeds at most once per token.
	Confirm(ctx context.Context, token string) (Result, error)
	// Status reads the transaction without changing it.
	Status(ctx context.Context, token string) (Result, error)
	// Refund returns amount of an authorized transaction to the customer.
	Refund(ctx context.Context, token string, amount int64) (Refund, error)
	// RedirectURL rebuilds the customer-facing URL for a token.
	RedirectURL(token string) string
}
