package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/booking"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/service"
)

// BookingHandler serves the customer-facing checkout: availability, holds,
// payments and reservation lookup.  None of these routes require a login;
// the hold ID and the gateway token act as bearer capabilities.
type BookingHandler struct {
	svc *service.BookingService
	log *zap.Logger
}

// NewBookingHandler returns a BookingHandler.
func NewBookingHandler(svc *service.BookingService, log *zap.Logger) *BookingHandler {
	if svc == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{svc: svc, log: log}
}

// Availability handles GET /v1/courts/:id/availability?date=YYYY-MM-DD.
func (h *BookingHandler) Availability(c echo.Context) error {
	courtID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || courtID == 0 {
		return badRequest(c, "invalid court id")
	}
	date, err := model.ParseDate(c.QueryParam("date"))
	if err != nil {
		return badRequest(c, "date must be YYYY-MM-DD")
	}
	av, err := h.svc.CheckAvailability(c.Request().Context(), courtID, date)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, av)
}

type holdBody struct {
	CourtID           uint64          `json:"court_id"`
	Date              string          `json:"date"`
	Start             model.TimeOfDay `json:"start"`
	End               model.TimeOfDay `json:"end"`
	SessionID         string          `json:"session_id"`
	Customer          model.Customer  `json:"customer"`
	PrepaidPercentage int             `json:"prepaid_percentage"`
}

// CreateHold handles POST /v1/holds.  It answers 201 with the hold, 409 if
// the range is taken and 400 for malformed requests.
func (h *BookingHandler) CreateHold(c echo.Context) error {
	var body holdBody
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
	if body.PrepaidPercentage < 0 || body.PrepaidPercentage > 100 {
		return badRequest(c, "prepaid_percentage must be between 0 and 100")
	}
	hold, err := h.svc.RequestHold(c.Request().Context(), booking.HoldRequest{
		CourtID:           body.CourtID,
		Date:              date,
		Range:             model.TimeRange{Start: body.Start, End: body.End},
		SessionID:         body.SessionID,
		Customer:          body.Customer,
		PrepaidPercentage: body.PrepaidPercentage,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, hold)
}

// GetHold handles GET /v1/holds/:id.
func (h *BookingHandler) GetHold(c echo.Context) error {
	hold, err := h.svc.GetHold(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, hold)
}

// RenewHold handles POST /v1/holds/:id/renew.
func (h *BookingHandler) RenewHold(c echo.Context) error {
	hold, err := h.svc.RenewHold(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, hold)
}

// ReleaseHold handles DELETE /v1/holds/:id.  Releasing twice is fine.
func (h *BookingHandler) ReleaseHold(c echo.Context) error {
	if err := h.svc.ReleaseHold(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// BeginPayment handles POST /v1/holds/:id/payments with {"amount": n}.  A
// repeated call for the same amount returns the existing session with 200.
func (h *BookingHandler) BeginPayment(c echo.Context) error {
	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.svc.BeginPayment(c.Request().Context(), c.Param("id"), body.Amount)
	if err != nil {
		return writeError(c, h.log, err)
	}
	code := http.StatusCreated
	if res.Reused {
		code = http.StatusOK
	}
	return c.JSON(code, res)
}

// PaymentReturn handles the gateway's customer redirect on
// /v1/payments/return.  The gateway posts token_ws on a completed flow and
// TBK_TOKEN when the customer aborted; both are finalized the same way
// because the gateway reports the outcome either way.
func (h *BookingHandler) PaymentReturn(c echo.Context) error {
	token := c.FormValue("token_ws")
	if token == "" {
		token = c.FormValue("TBK_TOKEN")
	}
	if token == "" {
		return badRequest(c, "missing payment token")
	}
	return h.finalize(c, token)
}

// CompletePayment handles POST /v1/payments/:token/complete.  Clients that
// lost the redirect can call it to retry finalization.
func (h *BookingHandler) CompletePayment(c echo.Context) error {
	return h.finalize(c, c.Param("token"))
}

func (h *BookingHandler) finalize(c echo.Context, token string) error {
	res, err := h.svc.CompletePayment(c.Request().Context(), token)
	switch {
	case err == nil:
		if res.Session.Status == model.PaymentPending {
			return c.JSON(http.StatusAccepted, res)
		}
		return c.JSON(http.StatusOK, res)
	case errors.Is(err, booking.ErrPaymentNotFound):
		return writeError(c, h.log, err)
	case statusOf(err) == http.StatusInternalServerError:
		return writeError(c, h.log, err)
	}
	return c.JSON(statusOf(err), echo.Map{
		"error":   err.Error(),
		"status":  res.Session.Status,
		"session": res.Session,
	})
}

// PaymentStatus handles GET /v1/payments/:token.  It never contacts the
// gateway.
func (h *BookingHandler) PaymentStatus(c echo.Context) error {
	view, err := h.svc.PaymentStatus(c.Request().Context(), c.Param("token"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, view)
}

// GetReservation handles GET /v1/reservations/:code.
func (h *BookingHandler) GetReservation(c echo.Context) error {
	r, err := h.svc.GetReservation(c.Request().Context(), c.Param("code"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, r)
}
