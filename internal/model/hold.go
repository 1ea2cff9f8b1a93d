package model

import "time"

// ClientSnapshot is the customer and pricing data captured when a hold is
// created.  The payment redirect can outlive any server-side session, so
// everything needed to commit the reservation later travels with the hold.
type ClientSnapshot struct {
	Name              string  `json:"name"`
	Email             string  `json:"email"`
	Phone             string  `json:"phone,omitempty"`
	PriceTotal        int64   `json:"price_total"`
	PrepaidPercentage int     `json:"prepaid_percentage"`
	Channel           Channel `json:"channel"`
	AdminID           *uint64 `json:"admin_id,omitempty"`
}

// Hold is a time-boxed exclusive claim on a court/date/time range during
// checkout.  A hold stops counting against availability the instant its
// ExpiresAt passes, whether or not the row has been reaped yet.
//
// Fields:
//
//	ID        – uuid primary key.
//	CourtID   – court being held.
//	Date      – booking date (UTC midnight).
//	Start/End – half-open time range on Date.
//	SessionID – opaque correlation id of the browser session.
//	Client    – snapshot used to build the reservation on commit.
//	ExpiresAt – instant after which the hold is free for others.
//	CreatedAt – creation timestamp.
type Hold struct {
	ID        string         `json:"id"`
	CourtID   uint64         `json:"court_id"`
	Date      time.Time      `json:"date"`
	Start     TimeOfDay      `json:"start"`
	End       TimeOfDay      `json:"end"`
	SessionID string         `json:"session_id"`
	Client    ClientSnapshot `json:"client"`
	ExpiresAt time.Time      `json:"expires_at"`
	CreatedAt time.Time      `json:"created_at"`
}

// Range returns the held time range.
func (h Hold) Range() TimeRange { return TimeRange{Start: h.Start, End: h.End} }

// Live reports whether the hold still blocks the slot at now.
func (h Hold) Live(now time.Time) bool { return h.ExpiresAt.After(now) }
