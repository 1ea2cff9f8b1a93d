package model

import "time"

// Payment methods recorded on reservations.
const (
	PaymentMethodWebpay   = "webpay"
	PaymentMethodCash     = "cash"
	PaymentMethodTransfer = "transfer"
)

// Customer identifies who booked.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Reservation is a durable, confirmed booking.  CommissionApplied is the
// commission (tax included) computed with the rules in force at commit time
// and is never recomputed for the reservation itself.
//
// Fields:
//
//	Code              – short human-shareable code, unique.
//	PriceTotal        – full price of the slot.
//	AmountPaid        – amount collected so far, never above PriceTotal.
//	PaidPercentage    – AmountPaid as an integer percentage of PriceTotal.
//	Channel           – web or administrative; selects the commission rate.
//	OrderID           – gateway order for web bookings, nil otherwise.
//	AdminID           – staff member for administrative bookings.
type Reservation struct {
	ID                uint64            `json:"id"`
	Code              string            `json:"code"`
	CourtID           uint64            `json:"court_id"`
	ComplexID         uint64            `json:"complex_id"`
	Date              time.Time         `json:"date"`
	Start             TimeOfDay         `json:"start"`
	End               TimeOfDay         `json:"end"`
	Customer          Customer          `json:"customer"`
	PriceTotal        int64             `json:"price_total"`
	AmountPaid        int64             `json:"amount_paid"`
	PaidPercentage    int               `json:"paid_percentage"`
	PaymentMethod     string            `json:"payment_method"`
	CommissionApplied int64             `json:"commission_applied"`
	Channel           Channel           `json:"channel"`
	Status            ReservationStatus `json:"status"`
	PaymentStatus     SettlementStatus  `json:"payment_status"`
	OrderID           *string           `json:"order_id,omitempty"`
	AdminID           *uint64           `json:"admin_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Range returns the booked time range.
func (r Reservation) Range() TimeRange { return TimeRange{Start: r.Start, End: r.End} }

// PrepaidAmount is the least a customer must pay upfront for a booking of
// total when pct percent is required, rounded half up.
func PrepaidAmount(total int64, pct int) int64 {
	if total <= 0 || pct <= 0 {
		return 0
	}
	return (total*int64(pct)*2 + 100) / 200
}

// PaidPercentage returns paid as an integer percentage of total, rounded
// half up.
func PaidPercentage(paid, total int64) int {
	if total <= 0 {
		return 0
	}
	return int((paid*200 + total) / (total * 2))
}
