package model

import "time"

// PaymentSession tracks one external gateway transaction tied to exactly
// one hold.  OrderID is globally unique and doubles as the idempotency key
// for the commit; ReservationCode is the short code the reservation will
// carry once committed.
//
// Snapshot is a copy of the hold taken when the session was opened.  It is
// only read when the hold itself is gone (late approvals) so an operator can
// still reconstruct the booking.
type PaymentSession struct {
	ID                uint64        `json:"id"`
	Token             string        `json:"token"`
	OrderID           string        `json:"order_id"`
	SessionID         string        `json:"session_id"`
	HoldID            string        `json:"hold_id"`
	ReservationCode   string        `json:"reservation_code"`
	Amount            int64         `json:"amount"`
	Status            PaymentStatus `json:"status"`
	AuthorizationCode string        `json:"authorization_code,omitempty"`
	ResponseCode      *int          `json:"response_code,omitempty"`
	PaidAmount        int64         `json:"paid_amount"`
	// Card details reported by the gateway once the customer paid.
	PaymentTypeCode    string     `json:"payment_type_code,omitempty"`
	InstallmentsNumber int        `json:"installments_number,omitempty"`
	TransactionDate    *time.Time `json:"transaction_date,omitempty"`
	Snapshot           Hold       `json:"snapshot"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// PaymentOutcome is the gateway result applied to a pending session.
type PaymentOutcome struct {
	Status             PaymentStatus
	AuthorizationCode  string
	ResponseCode       *int
	PaidAmount         int64
	PaymentTypeCode    string
	InstallmentsNumber int
	TransactionDate    *time.Time
}

// PaymentRefund is money returned to the customer for an approved session.
type PaymentRefund struct {
	ID                uint64    `json:"id"`
	OrderID           string    `json:"order_id"`
	Token             string    `json:"token"`
	Amount            int64     `json:"amount"`
	Type              string    `json:"type"`
	AuthorizationCode string    `json:"authorization_code,omitempty"`
	ResponseCode      *int      `json:"response_code,omitempty"`
	Balance           int64     `json:"balance"`
	Reason            string    `json:"reason,omitempty"`
	RequestedBy       *uint64   `json:"requested_by,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// PaymentAnomaly records a payment that needs manual reconciliation.
type PaymentAnomaly struct {
	ID         uint64      `json:"id"`
	OrderID    string      `json:"order_id"`
	Token      string      `json:"token"`
	Kind       AnomalyKind `json:"kind"`
	Detail     string      `json:"detail"`
	Snapshot   Hold        `json:"snapshot"`
	CreatedAt  time.Time   `json:"created_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}
