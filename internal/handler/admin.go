package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/booking"
	"github.com/iliyamo/court-reservation/internal/ledger"
	"github.com/iliyamo/court-reservation/internal/middleware"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/service"
)

// AdminHandler serves staff operations: direct bookings, cancellations,
// payment recovery and refunds, deposits and the ledger.  All methods
// assume JWTAuth and RequireRole already ran.  Operations on one complex
// check middleware.CanAccessComplex so an OWNER only reaches their own.
type AdminHandler struct {
	svc *service.BookingService
	log *zap.Logger
}

// NewAdminHandler returns an AdminHandler.
func NewAdminHandler(svc *service.BookingService, log *zap.Logger) *AdminHandler {
	if svc == nil {
		panic("nil service passed to NewAdminHandler")
	}
	return &AdminHandler{svc: svc, log: log}
}

type directBody struct {
	CourtID       uint64          `json:"court_id"`
	Date          string          `json:"date"`
	Start         model.TimeOfDay `json:"start"`
	End           model.TimeOfDay `json:"end"`
	Customer      model.Customer  `json:"customer"`
	PriceTotal    int64           `json:"price_total"`
	AmountPaid    int64           `json:"amount_paid"`
	PaymentMethod string          `json:"payment_method"`
}

// BookDirect handles POST /v1/admin/reservations.  The reservation is
// committed immediately on the administrative channel.
func (h *AdminHandler) BookDirect(c echo.Context) error {
	adminID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body directBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.CourtID == 0 {
		return badRequest(c, "court_id is required")
	}
	date, err := model.ParseDate(body.Date)
	if err != nil {
		return badRequest(c, "date must be YYYY-MM-DD")
	}
	court, err := h.svc.GetCourt(c.Request().Context(), body.CourtID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if !middleware.CanAccessComplex(c, court.ComplexID) {
		return forbidden(c)
	}
	r, err := h.svc.BookDirect(c.Request().Context(), booking.AdminBooking{
		CourtID:       body.CourtID,
		Date:          date,
		Range:         model.TimeRange{Start: body.Start, End: body.End},
		Customer:      body.Customer,
		PriceTotal:    body.PriceTotal,
		AmountPaid:    body.AmountPaid,
		PaymentMethod: body.PaymentMethod,
		AdminID:       adminID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// CancelReservation handles POST /v1/admin/reservations/:code/cancel.
func (h *AdminHandler) CancelReservation(c echo.Context) error {
	existing, err := h.svc.GetReservation(c.Request().Context(), c.Param("code"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	if !middleware.CanAccessComplex(c, existing.ComplexID) {
		return forbidden(c)
	}
	r, err := h.svc.CancelReservation(c.Request().Context(), existing.Code)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, r)
}

// ListAnomalies handles GET /v1/admin/anomalies.  Only unresolved
// anomalies are listed unless ?all=true.
func (h *AdminHandler) ListAnomalies(c echo.Context) error {
	all, _ := strconv.ParseBool(c.QueryParam("all"))
	list, err := h.svc.ListAnomalies(c.Request().Context(), !all)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if list == nil {
		list = []model.PaymentAnomaly{}
	}
	return c.JSON(http.StatusOK, list)
}

// RecoverPayment handles POST /v1/admin/payments/:order_id/recover.  It
// commits an approved payment whose hold expired, provided the slot is
// still free.
func (h *AdminHandler) RecoverPayment(c echo.Context) error {
	res, err := h.svc.RecoverPayment(c.Request().Context(), c.Param("order_id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	code := http.StatusCreated
	if res.AlreadyCommitted {
		code = http.StatusOK
	}
	return c.JSON(code, res)
}

// RefundPayment handles POST /v1/admin/payments/:order_id/refund with
// {"amount": n, "reason": "..."}.  A missing amount refunds the rest.
func (h *AdminHandler) RefundPayment(c echo.Context) error {
	adminID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Amount < 0 {
		return badRequest(c, "amount must not be negative")
	}
	f, err := h.svc.RefundPayment(c.Request().Context(), booking.RefundRequest{
		OrderID: c.Param("order_id"),
		Amount:  body.Amount,
		Reason:  body.Reason,
		AdminID: adminID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, f)
}

// PaymentHistory handles GET /v1/admin/reservations/:code/payments.
func (h *AdminHandler) PaymentHistory(c echo.Context) error {
	hist, err := h.svc.PaymentHistory(c.Request().Context(), c.Param("code"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	if !middleware.CanAccessComplex(c, hist.ComplexID) {
		return forbidden(c)
	}
	return c.JSON(http.StatusOK, hist)
}

// GetDeposit handles GET /v1/admin/complexes/:id/deposits/:date.
func (h *AdminHandler) GetDeposit(c echo.Context) error {
	complexID, date, ok := complexAndDate(c)
	if !ok {
		return badRequest(c, "invalid complex id or date")
	}
	if !middleware.CanAccessComplex(c, complexID) {
		return forbidden(c)
	}
	d, err := h.svc.GetDeposit(c.Request().Context(), complexID, date)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, d)
}

// GenerateDeposit handles POST /v1/admin/complexes/:id/deposits/:date.
func (h *AdminHandler) GenerateDeposit(c echo.Context) error {
	complexID, date, ok := complexAndDate(c)
	if !ok {
		return badRequest(c, "invalid complex id or date")
	}
	if !middleware.CanAccessComplex(c, complexID) {
		return forbidden(c)
	}
	d, err := h.svc.GenerateDeposit(c.Request().Context(), complexID, date)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, d)
}

// GenerateDeposits handles POST /v1/admin/deposits/:date/generate for every
// complex with reservations that day.  Partial failures still return the
// deposits that were generated.
func (h *AdminHandler) GenerateDeposits(c echo.Context) error {
	date, err := model.ParseDate(c.Param("date"))
	if err != nil {
		return badRequest(c, "date must be YYYY-MM-DD")
	}
	list, err := h.svc.GenerateDeposits(c.Request().Context(), date)
	if list == nil {
		list = []model.DepositRecord{}
	}
	if err != nil {
		h.log.Error("deposit generation incomplete", zap.Time("date", date), zap.Error(err))
		return c.JSON(http.StatusMultiStatus, echo.Map{"deposits": list, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"deposits": list})
}

// MarkDepositPaid handles POST /v1/admin/deposits/:id/paid.
func (h *AdminHandler) MarkDepositPaid(c echo.Context) error {
	adminID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return badRequest(c, "invalid deposit id")
	}
	var p model.Payout
	if err := c.Bind(&p); err != nil {
		return badRequest(c, "invalid request body")
	}
	p.ProcessedBy = &adminID
	p.ProcessedAt = nil
	d, err := h.svc.MarkDepositPaid(c.Request().Context(), id, p)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, d)
}

// BackfillLedger handles POST /v1/admin/ledger/backfill with optional
// complex_id, from and to filters.
func (h *AdminHandler) BackfillLedger(c echo.Context) error {
	var body struct {
		ComplexID *uint64 `json:"complex_id"`
		From      string  `json:"from"`
		To        string  `json:"to"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	f := ledger.BackfillFilter{ComplexID: body.ComplexID}
	for _, p := range []struct {
		raw string
		dst **time.Time
	}{{body.From, &f.From}, {body.To, &f.To}} {
		if p.raw == "" {
			continue
		}
		d, err := model.ParseDate(p.raw)
		if err != nil {
			return badRequest(c, "dates must be YYYY-MM-DD")
		}
		*p.dst = &d
	}
	rep, err := h.svc.BackfillLedger(c.Request().Context(), f)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// CorrectLedger handles PUT /v1/admin/ledger/reservations/:id/:kind with
// {"amount": n, "note": "..."}.
func (h *AdminHandler) CorrectLedger(c echo.Context) error {
	resID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || resID == 0 {
		return badRequest(c, "invalid reservation id")
	}
	var body struct {
		Amount int64  `json:"amount"`
		Note   string `json:"note"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	r, err := h.svc.GetReservationByID(c.Request().Context(), resID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if !middleware.CanAccessComplex(c, r.ComplexID) {
		return forbidden(c)
	}
	e, err := h.svc.CorrectLedger(c.Request().Context(), resID, model.LedgerKind(c.Param("kind")), body.Amount, body.Note)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, e)
}

// LedgerEntries handles GET /v1/admin/complexes/:id/ledger?from=&to=.
func (h *AdminHandler) LedgerEntries(c echo.Context) error {
	complexID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || complexID == 0 {
		return badRequest(c, "invalid complex id")
	}
	if !middleware.CanAccessComplex(c, complexID) {
		return forbidden(c)
	}
	from, err1 := model.ParseDate(c.QueryParam("from"))
	to, err2 := model.ParseDate(c.QueryParam("to"))
	if err1 != nil || err2 != nil {
		return badRequest(c, "from and to must be YYYY-MM-DD")
	}
	list, err := h.svc.LedgerEntries(c.Request().Context(), complexID, from, to)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if list == nil {
		list = []model.LedgerEntry{}
	}
	return c.JSON(http.StatusOK, list)
}

func complexAndDate(c echo.Context) (uint64, time.Time, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, time.Time{}, false
	}
	date, err := model.ParseDate(c.Param("date"))
	if err != nil {
		return 0, time.Time{}, false
	}
	return id, date, true
}
