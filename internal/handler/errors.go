package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/booking"
	"github.com/iliyamo/court-reservation/internal/deposit"
	"github.com/iliyamo/court-reservation/internal/ledger"
)

// statusOf maps engine errors to HTTP status codes.  Anything unknown,
// including a missing commission rule, is a 500 and gets logged by
// writeError.
func statusOf(err error) int {
	switch {
	case errors.Is(err, booking.ErrSlotConflict),
		errors.Is(err, booking.ErrPaymentInProgress),
		errors.Is(err, booking.ErrAlreadyCancelled),
		errors.Is(err, booking.ErrNotApproved),
		errors.Is(err, booking.ErrRefundNotAllowed),
		errors.Is(err, deposit.ErrDepositAlreadyPaid):
		return http.StatusConflict
	case errors.Is(err, booking.ErrHoldExpired):
		return http.StatusGone
	case errors.Is(err, booking.ErrHoldNotFound),
		errors.Is(err, booking.ErrPaymentNotFound),
		errors.Is(err, booking.ErrCourtNotFound),
		errors.Is(err, booking.ErrReservationNotFound),
		errors.Is(err, deposit.ErrDepositNotFound),
		errors.Is(err, ledger.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrPaymentRejected):
		return http.StatusPaymentRequired
	case errors.Is(err, booking.ErrRefundRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, booking.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, booking.ErrInvalidAmount),
		errors.Is(err, booking.ErrInvalidRange),
		errors.Is(err, booking.ErrInvalidCustomer),
		errors.Is(err, ledger.ErrInvalidCorrection),
		errors.Is(err, deposit.ErrInvalidPayout):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": "..."}.  Internal errors are logged
// and hidden from the client.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.JSON(code, echo.Map{"error": "internal error"})
	}
	return c.JSON(code, echo.Map{"error": err.Error()})
}

func forbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
