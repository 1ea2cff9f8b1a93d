package booking

import "errors"

var (
	// ErrSlotConflict means another live hold or confirmed reservation
	// overlaps the requested range.  The customer should pick another slot.
	ErrSlotConflict = errors.New("slot conflict")
	// ErrHoldExpired means the hold is gone or past its expiry.  The
	// customer must restart the flow.
	ErrHoldExpired = errors.New("hold expired")
	// ErrHoldNotFound is returned by renew for missing or expired holds.
	ErrHoldNotFound = errors.New("hold not found")
	// ErrGatewayUnavailable is transient: the payment stays pending and
	// finalize may be retried.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrPaymentRejected is terminal; the hold has been released.
	ErrPaymentRejected = errors.New("payment rejected")
	// ErrPaymentNotFound means no session exists for the token or order.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentInProgress means the hold already has a session for a
	// different amount.
	ErrPaymentInProgress = errors.New("payment already in progress for hold")
	// ErrNotApproved is returned when committing a session that is not
	// approved.
	ErrNotApproved = errors.New("payment not approved")
	// ErrInvalidAmount rejects non-positive amounts and amounts above the
	// price.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidCustomer rejects bookings without the customer details
	// needed to contact them.
	ErrInvalidCustomer = errors.New("invalid customer")
	// ErrInvalidRange rejects empty ranges, ranges outside opening hours
	// and slots already in the past.
	ErrInvalidRange = errors.New("invalid time range")
	// ErrCourtNotFound means the court does not exist.
	ErrCourtNotFound = errors.New("court not found")
	// ErrReservationNotFound means no reservation has the given code.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrAlreadyCancelled is returned when cancelling twice.
	ErrAlreadyCancelled = errors.New("reservation already cancelled")
	// ErrRefundNotAllowed protects payments that still back a confirmed
	// reservation.  Cancel the reservation first.
	ErrRefundNotAllowed = errors.New("payment backs a confirmed reservation")
	// ErrRefundRejected means the gateway refused the refund.
	ErrRefundRejected = errors.New("refund rejected by gateway")
)
