// Package notify publishes reservation events to RabbitMQ and consumes
// them into the booking log.
package notify

import (
	"fmt"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
)

// QueueReservationConfirmed is the durable queue carrying
// ReservationConfirmedEvent messages.
const QueueReservationConfirmed = "reservation.confirmed"

// ReservationConfirmedEvent is published once per committed reservation.
// It carries enough for downstream consumers to log or notify without
// querying the primary database.
type ReservationConfirmedEvent struct {
	ReservationID     uint64 `json:"reservation_id"`
	Code              string `json:"code"`
	ComplexID         uint64 `json:"complex_id"`
	CourtID           uint64 `json:"court_id"`
	Date              string `json:"date"`
	StartsAt          string `json:"starts_at"`
	EndsAt            string `json:"ends_at"`
	CustomerName      string `json:"customer_name"`
	CustomerEmail     string `json:"customer_email"`
	Channel           string `json:"channel"`
	PriceTotal        int64  `json:"price_total"`
	AmountPaid        int64  `json:"amount_paid"`
	CommissionApplied int64  `json:"commission_applied"`
	OrderID           string `json:"order_id,omitempty"`
	ConfirmedAt       string `json:"confirmed_at"`
}

// NewReservationConfirmedEvent builds the event for r.
func NewReservationConfirmedEvent(r model.Reservation, at time.Time) ReservationConfirmedEvent {
	ev := ReservationConfirmedEvent{
		ReservationID:     r.ID,
		Code:              r.Code,
		ComplexID:         r.ComplexID,
		CourtID:           r.CourtID,
		Date:              model.DateOf(r.Date).Format(model.DateLayout),
		StartsAt:          r.Start.String(),
		EndsAt:            r.End.String(),
		CustomerName:      r.Customer.Name,
		CustomerEmail:     r.Customer.Email,
		Channel:           string(r.Channel),
		PriceTotal:        r.PriceTotal,
		AmountPaid:        r.AmountPaid,
		CommissionApplied: r.CommissionApplied,
		ConfirmedAt:       at.UTC().Format(time.RFC3339),
	}
	if r.OrderID != nil {
		ev.OrderID = *r.OrderID
	}
	return ev
}

// LogLine renders the event as one line of the booking log.
func (ev ReservationConfirmedEvent) LogLine() string {
	return fmt.Sprintf("[%s] Reservation confirmed | code=%s | reservation_id=%d | complex_id=%d | court_id=%d | slot=%s %s-%s | customer=%q | channel=%s | paid=%d/%d | commission=%d\n",
		ev.ConfirmedAt, ev.Code, ev.ReservationID, ev.ComplexID, ev.CourtID, ev.Date, ev.StartsAt, ev.EndsAt,
		ev.CustomerName, ev.Channel, ev.AmountPaid, ev.PriceTotal, ev.CommissionApplied)
}
