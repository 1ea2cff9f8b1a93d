package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const webpayTransactionsPath = "/rswebpaytransaction/api/webpay/v1.2/transactions"

// Webpay is a client for the Webpay Plus REST API.
type Webpay struct {
	baseURL      string
	commerceCode string
	apiKey       string
	http         *http.Client
}

// NewWebpay returns a client for the given environment base URL.  A nil
// httpClient gets a client with a 15s timeout.
func NewWebpay(baseURL, commerceCode, apiKey string, httpClient *http.Client) *Webpay {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Webpay{
		baseURL:      strings.TrimRight(baseURL, "/"),
		commerceCode: commerceCode,
		apiKey:       apiKey,
		http:         httpClient,
	}
}

type webpayCreateRequest struct {
	BuyOrder  string `json:"buy_order"`
	SessionID string `json:"session_id"`
	Amount    int64  `json:"amount"`
	ReturnURL string `json:"return_url"`
}

type webpayCreateResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type webpayTransaction struct {
	Status             string     `json:"status"`
	BuyOrder           string     `json:"buy_order"`
	Amount             int64      `json:"amount"`
	AuthorizationCode  string     `json:"authorization_code"`
	ResponseCode       *int       `json:"response_code"`
	PaymentTypeCode    string     `json:"payment_type_code"`
	InstallmentsNumber int        `json:"installments_number"`
	TransactionDate    *time.Time `json:"transaction_date"`
}

type webpayRefundRequest struct {
	Amount int64 `json:"amount"`
}

// Webpay reports refunded amounts with decimals even for CLP.
type webpayRefundResponse struct {
	Type              string          `json:"type"`
	AuthorizationCode string          `json:"authorization_code"`
	AuthorizationDate *time.Time      `json:"authorization_date"`
	NullifiedAmount   decimal.Decimal `json:"nullified_amount"`
	Balance           decimal.Decimal `json:"balance"`
	ResponseCode      *int            `json:"response_code"`
}

type webpayError struct {
	Message string `json:"error_message"`
}

// Authorize creates a transaction.
func (w *Webpay) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	var out webpayCreateResponse
	err := w.do(ctx, http.MethodPost, webpayTransactionsPath, webpayCreateRequest{
		BuyOrder:  req.OrderID,
		SessionID: req.SessionID,
		Amount:    req.Amount,
		ReturnURL: req.ReturnURL,
	}, &out)
	if err != nil {
		return Authorization{}, fmt.Errorf("webpay create %s: %w", req.OrderID, err)
	}
	return Authorization{Token: out.Token, URL: out.URL}, nil
}

// Confirm commits a transaction.  Webpay answers 422 to a second commit of
// the same token; that is reported as ErrAlreadyConfirmed.
func (w *Webpay) Confirm(ctx context.Context, token string) (Result, error) {
	var tx webpayTransaction
	err := w.do(ctx, http.MethodPut, webpayTransactionsPath+"/"+url.PathEscape(token), nil, &tx)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusUnprocessableEntity {
		return Result{}, fmt.Errorf("webpay commit: %s: %w", se.message, ErrAlreadyConfirmed)
	}
	if err != nil {
		return Result{}, fmt.Errorf("webpay commit: %w", err)
	}
	return tx.result(), nil
}

// Status reads a transaction.
func (w *Webpay) Status(ctx context.Context, token string) (Result, error) {
	var tx webpayTransaction
	if err := w.do(ctx, http.MethodGet, webpayTransactionsPath+"/"+url.PathEscape(token), nil, &tx); err != nil {
		return Result{}, fmt.Errorf("webpay status: %w", err)
	}
	return tx.result(), nil
}

// Refund reverses or nullifies amount of a transaction.  A 4xx answer is
// reported as ErrRefundRejected.
func (w *Webpay) Refund(ctx context.Context, token string, amount int64) (Refund, error) {
	var out webpayRefundResponse
	err := w.do(ctx, http.MethodPost, webpayTransactionsPath+"/"+url.PathEscape(token)+"/refunds", webpayRefundRequest{Amount: amount}, &out)
	var se *statusError
	if errors.As(err, &se) && se.code < 500 && se.code != http.StatusNotFound {
		return Refund{}, fmt.Errorf("webpay refund: %s: %w", se.message, ErrRefundRejected)
	}
	if err != nil {
		return Refund{}, fmt.Errorf("webpay refund: %w", err)
	}
	return Refund{
		Type:              out.Type,
		AuthorizationCode: out.AuthorizationCode,
		AuthorizationDate: out.AuthorizationDate,
		NullifiedAmount:   out.NullifiedAmount.Round(0).IntPart(),
		Balance:           out.Balance.Round(0).IntPart(),
		ResponseCode:      out.ResponseCode,
	}, nil
}

// RedirectURL returns the payment form URL for token.
func (w *Webpay) RedirectURL(token string) string {
	return w.baseURL + "/webpayserver/initTransaction?token_ws=" + url.QueryEscape(token)
}

func (t webpayTransaction) result() Result {
	return Result{
		Status:             Status(t.Status),
		OrderID:            t.BuyOrder,
		Amount:             t.Amount,
		AuthorizationCode:  t.AuthorizationCode,
		ResponseCode:       t.ResponseCode,
		PaymentTypeCode:    t.PaymentTypeCode,
		InstallmentsNumber: t.InstallmentsNumber,
		TransactionDate:    t.TransactionDate,
	}
}

type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.code, e.message)
}

func (w *Webpay) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Tbk-Api-Key-Id", w.commerceCode)
	req.Header.Set("Tbk-Api-Key-Secret", w.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return errors.Join(ErrUnavailable, &statusError{code: resp.StatusCode, message: errorMessage(raw)})
	case resp.StatusCode == http.StatusNotFound:
		return errors.Join(ErrUnknownToken, &statusError{code: resp.StatusCode, message: errorMessage(raw)})
	case resp.StatusCode >= 400:
		return &statusError{code: resp.StatusCode, message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var e webpayError
	if json.Unmarshal(raw, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(raw))
}
