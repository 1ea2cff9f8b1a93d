package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/court-reservation/internal/booking"
	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/gateway"
	"github.com/iliyamo/court-reservation/internal/handler"
	"github.com/iliyamo/court-reservation/internal/middleware"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/notify"
	"github.com/iliyamo/court-reservation/internal/repository/memstore"
	"github.com/iliyamo/court-reservation/internal/service"
	"github.com/iliyamo/court-reservation/internal/utils"
)

const (
	secret    = "router-test-secret"
	returnURL = "http://localhost/v1/payments/return"
)

type api struct {
	t     *testing.T
	e     *echo.Echo
	store *memstore.Store
	clock *clock.Fake
	court model.Court
	admin string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	store := memstore.New()
	cx := store.AddComplex(model.Complex{Name: "Club"})
	court := store.AddCourt(model.Court{ComplexID: cx.ID, Name: "Court 1", PricePerHour: 10000})
	clk := clock.NewFake(time.Date(2025, 9, 29, 12, 0, 0, 0, time.UTC))
	gw := gateway.NewFake("http://localhost/sandbox/pay")
	log := zaptest.NewLogger(t)

	svc := service.NewBookingService(store, gw, notify.Nop{}, clk, service.Options{ReturnURL: returnURL}, log)
	e := echo.New()
	RegisterRoutes(e, Deps{
		Booking:   handler.NewBookingHandler(svc, log),
		Admin:     handler.NewAdminHandler(svc, log),
		Sandbox:   handler.NewSandboxHandler(gw, returnURL),
		Ready:     handler.Ready(map[string]handler.Pinger{"store": svc}),
		JWTSecret: secret,
	})

	tok, err := utils.NewAccessToken(secret, 5, middleware.RoleAdmin, 0, time.Hour, time.Now())
	require.NoError(t, err)
	return &api{t: t, e: e, store: store, clock: clk, court: court, admin: tok.Token}
}

func (a *api) owner(userID, complexID uint64) string {
	a.t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, middleware.RoleOwner, complexID, time.Hour, time.Now())
	require.NoError(a.t, err)
	return tok.Token
}

func (a *api) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *api) hold(start, end string) *httptest.ResponseRecorder {
	return a.holdPct(start, end, 0)
}

func (a *api) holdPct(start, end string, pct int) *httptest.ResponseRecorder {
	return a.do(http.MethodPost, "/v1/holds", echo.Map{
		"court_id":           a.court.ID,
		"date":               "2025-09-30",
		"start":              start,
		"end":                end,
		"customer":           echo.Map{"name": "Ana", "email": "ana@example.com"},
		"prepaid_percentage": pct,
	}, "")
}

// pay walks a hold through checkout with an approved payment.
func (a *api) pay(start, end string) (booking.FinalizeResult, string) {
	a.t.Helper()
	rec := a.hold(start, end)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	h := decode[model.Hold](a.t, rec)
	open := decode[booking.OpenResult](a.t, a.do(http.MethodPost, "/v1/holds/"+h.ID+"/payments", echo.Map{"amount": h.Client.PriceTotal}, ""))
	a.do(http.MethodGet, "/sandbox/pay?token_ws="+open.Session.Token+"&decision=approve", nil, "")
	rec = a.do(http.MethodPost, "/v1/payments/"+open.Session.Token+"/complete", nil, "")
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[booking.FinalizeResult](a.t, rec), open.Session.OrderID
}

func TestProbes(t *testing.T) {
	a := newAPI(t)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/healthz", nil, "").Code)
	rec := a.do(http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"store":"ok"}`, rec.Body.String())
}

func TestWebCheckout(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodGet, fmt.Sprintf("/v1/courts/%d/availability?date=2025-09-30", a.court.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	av := decode[booking.Availability](t, rec)
	assert.Empty(t, av.Busy)

	rec = a.hold("18:00", "19:30")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	h := decode[model.Hold](t, rec)
	assert.Equal(t, int64(15000), h.Client.PriceTotal)

	assert.Equal(t, http.StatusConflict, a.hold("19:00", "20:00").Code)

	rec = a.do(http.MethodPost, "/v1/holds/"+h.ID+"/payments", echo.Map{"amount": 15000}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	open := decode[booking.OpenResult](t, rec)
	token := open.Session.Token
	assert.Contains(t, open.RedirectURL, token)

	rec = a.do(http.MethodPost, "/v1/holds/"+h.ID+"/payments", echo.Map{"amount": 15000}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[booking.OpenResult](t, rec).Reused)

	rec = a.do(http.MethodGet, "/sandbox/pay?token_ws="+token+"&decision=approve", nil, "")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderLocation), returnURL))

	rec = a.do(http.MethodGet, "/v1/payments/return?token_ws="+token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fin := decode[booking.FinalizeResult](t, rec)
	require.NotNil(t, fin.Reservation)
	assert.Equal(t, model.PaymentApproved, fin.Session.Status)
	assert.Equal(t, model.SettlementPaid, fin.Reservation.PaymentStatus)
	code := fin.Reservation.Code

	rec = a.do(http.MethodGet, "/v1/payments/return?token_ws="+token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[booking.FinalizeResult](t, rec)
	assert.True(t, again.Cached)
	assert.Equal(t, code, again.Reservation.Code)

	rec = a.do(http.MethodGet, "/v1/reservations/"+code, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ReservationConfirmed, decode[model.Reservation](t, rec).Status)

	rec = a.do(http.MethodGet, "/v1/payments/"+token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, code, decode[booking.PaymentView](t, rec).Reservation.Code)
}

func TestDeclinedPaymentFreesSlot(t *testing.T) {
	a := newAPI(t)
	h := decode[model.Hold](t, a.holdPct("10:00", "11:00", 50))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/v1/holds/"+h.ID+"/payments", echo.Map{"amount": 4000}, "").Code)
	open := decode[booking.OpenResult](t, a.do(http.MethodPost, "/v1/holds/"+h.ID+"/payments", echo.Map{"amount": 5000}, ""))

	rec := a.do(http.MethodPost, "/v1/payments/"+open.Session.Token+"/complete", nil, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	a.do(http.MethodGet, "/sandbox/pay?token_ws="+open.Session.Token+"&decision=decline", nil, "")
	rec = a.do(http.MethodPost, "/v1/payments/"+open.Session.Token+"/complete", nil, "")
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "rejected", decode[map[string]any](t, rec)["status"])

	assert.Equal(t, http.StatusCreated, a.hold("10:00", "11:00").Code)
}

func TestHoldLifecycle(t *testing.T) {
	a := newAPI(t)
	h := decode[model.Hold](t, a.hold("08:00", "09:00"))

	rec := a.do(http.MethodGet, "/v1/holds/"+h.ID, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	a.clock.Advance(5 * time.Minute)
	rec = a.do(http.MethodPost, "/v1/holds/"+h.ID+"/renew", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.Hold](t, rec).ExpiresAt.After(h.ExpiresAt))

	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, "/v1/holds/"+h.ID, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/v1/holds/"+h.ID, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/v1/holds/"+h.ID+"/renew", nil, "").Code)
	assert.Equal(t, http.StatusGone, a.do(http.MethodPost, "/v1/holds/"+h.ID+"/payments", echo.Map{"amount": 100}, "").Code)
}

func TestBadRequests(t *testing.T) {
	a := newAPI(t)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, fmt.Sprintf("/v1/courts/%d/availability?date=tomorrow", a.court.ID), nil, "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/v1/courts/999/availability?date=2025-09-30", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, a.hold("20:00", "19:00").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/v1/holds", echo.Map{
		"court_id": a.court.ID, "date": "2025-09-30", "start": "10:00", "end": "11:00",
	}, "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/v1/reservations/NOPE", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/v1/payments/return", nil, "").Code)
}

func TestAdminRoutes(t *testing.T) {
	a := newAPI(t)
	body := echo.Map{
		"court_id":       a.court.ID,
		"date":           "2025-09-30",
		"start":          "12:00",
		"end":            "13:00",
		"customer":       echo.Map{"name": "Walk-in"},
		"amount_paid":    10000,
		"payment_method": "cash",
	}
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, "/v1/admin/reservations", body, "").Code)

	rec := a.do(http.MethodPost, "/v1/admin/reservations", body, a.admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	r := decode[model.Reservation](t, rec)
	assert.Equal(t, model.ChannelAdministrative, r.Channel)
	require.NotNil(t, r.AdminID)
	assert.Equal(t, uint64(5), *r.AdminID)

	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, "/v1/admin/reservations", body, a.admin).Code)

	rec = a.do(http.MethodGet, fmt.Sprintf("/v1/admin/complexes/%d/ledger?from=2025-09-30&to=2025-09-30", a.court.ComplexID), nil, a.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.LedgerEntry](t, rec), 2)

	rec = a.do(http.MethodPost, fmt.Sprintf("/v1/admin/complexes/%d/deposits/2025-09-30", a.court.ComplexID), nil, a.admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode[model.DepositRecord](t, rec)
	assert.Equal(t, int64(10000), d.GrossReservationsTotal)

	rec = a.do(http.MethodPost, fmt.Sprintf("/v1/admin/deposits/%d/paid", d.ID), echo.Map{"method": "transfer"}, a.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.DepositPaid, decode[model.DepositRecord](t, rec).Status)
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, fmt.Sprintf("/v1/admin/deposits/%d/paid", d.ID), echo.Map{"method": "transfer"}, a.admin).Code)

	rec = a.do(http.MethodPost, "/v1/admin/reservations/"+r.Code+"/cancel", nil, a.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ReservationCancelled, decode[model.Reservation](t, rec).Status)
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, "/v1/admin/reservations/"+r.Code+"/cancel", nil, a.admin).Code)

	rec = a.do(http.MethodGet, "/v1/admin/anomalies", nil, a.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestOwnerIsScopedToTheirComplex(t *testing.T) {
	a := newAPI(t)
	other := a.store.AddComplex(model.Complex{Name: "Rival"})
	otherCourt := a.store.AddCourt(model.Court{ComplexID: other.ID, Name: "Court A", PricePerHour: 8000})
	owner := a.owner(11, a.court.ComplexID)
	direct := func(courtID uint64, start, end string) echo.Map {
		return echo.Map{
			"court_id": courtID, "date": "2025-09-30", "start": start, "end": end,
			"customer": echo.Map{"name": "Walk-in"},
		}
	}

	rec := a.do(http.MethodPost, "/v1/admin/reservations", direct(a.court.ID, "12:00", "13:00"), owner)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	own := decode[model.Reservation](t, rec)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/v1/admin/reservations", direct(otherCourt.ID, "12:00", "13:00"), owner).Code)

	rec = a.do(http.MethodPost, "/v1/admin/reservations", direct(otherCourt.ID, "14:00", "15:00"), a.admin)
	require.Equal(t, http.StatusCreated, rec.Code)
	foreign := decode[model.Reservation](t, rec)

	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/v1/admin/reservations/"+foreign.Code+"/cancel", nil, owner).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/v1/admin/reservations/"+foreign.Code+"/payments", nil, owner).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/admin/reservations/"+own.Code+"/payments", nil, owner).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, fmt.Sprintf("/v1/admin/complexes/%d/ledger?from=2025-09-30&to=2025-09-30", other.ID), nil, owner).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, fmt.Sprintf("/v1/admin/complexes/%d/ledger?from=2025-09-30&to=2025-09-30", a.court.ComplexID), nil, owner).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, fmt.Sprintf("/v1/admin/complexes/%d/deposits/2025-09-30", other.ID), nil, owner).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPut,
		fmt.Sprintf("/v1/admin/ledger/reservations/%d/%s", foreign.ID, model.LedgerIncome), echo.Map{"amount": 1, "note": "x"}, owner).Code)

	rec = a.do(http.MethodPost, fmt.Sprintf("/v1/admin/complexes/%d/deposits/2025-09-30", a.court.ComplexID), nil, owner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode[model.DepositRecord](t, rec)

	// Payouts, backfills, bulk generation and payment recovery are ADMIN only.
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, fmt.Sprintf("/v1/admin/deposits/%d/paid", d.ID), echo.Map{"method": "transfer"}, owner).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/v1/admin/ledger/backfill", echo.Map{}, owner).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/v1/admin/deposits/2025-09-30/generate", nil, owner).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/v1/admin/anomalies", nil, owner).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/v1/admin/payments/X/refund", echo.Map{}, owner).Code)

	unbound := a.owner(12, 0)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/v1/admin/reservations", direct(a.court.ID, "16:00", "17:00"), unbound).Code)
}

func TestAdminRefund(t *testing.T) {
	a := newAPI(t)
	fin, orderID := a.pay("18:00", "19:00")
	code := fin.Reservation.Code

	rec := a.do(http.MethodPost, "/v1/admin/payments/"+orderID+"/refund", echo.Map{"reason": "rain"}, a.admin)
	assert.Equal(t, http.StatusConflict, rec.Code, "a confirmed reservation is not refundable")

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/v1/admin/reservations/"+code+"/cancel", nil, a.admin).Code)
	rec = a.do(http.MethodPost, "/v1/admin/payments/"+orderID+"/refund", echo.Map{"amount": 4000, "reason": "rain"}, a.admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ref := decode[model.PaymentRefund](t, rec)
	assert.Equal(t, int64(6000), ref.Balance)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/v1/admin/payments/"+orderID+"/refund", echo.Map{"amount": 6001}, a.admin).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/v1/admin/payments/NOPE/refund", echo.Map{}, a.admin).Code)

	rec = a.do(http.MethodGet, "/v1/admin/reservations/"+code+"/payments", nil, a.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[booking.PaymentHistory](t, rec)
	require.Len(t, hist.Payments, 1)
	assert.Equal(t, int64(4000), hist.Payments[0].Refunded)
	assert.Equal(t, "VD", hist.Payments[0].Session.PaymentTypeCode)
	require.Len(t, hist.Payments[0].Refunds, 1)
	assert.Equal(t, "rain", hist.Payments[0].Refunds[0].Reason)
}
