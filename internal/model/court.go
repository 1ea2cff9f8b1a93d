package model

import "time"

// Complex is a sports venue owning one or more courts.  Deposits, ledger
// entries and commission exemptions are all scoped per complex.
//
// Fields:
//
//	ID                    – primary key identifier.
//	Name                  – display name.
//	CommissionExemptUntil – reservations dated strictly before this date
//	                        carry no commission; nil means never exempt.
//	OpensAt, ClosesAt     – daily opening hours bounding availability.
type Complex struct {
	ID                    uint64     `json:"id"`
	Name                  string     `json:"name"`
	CommissionExemptUntil *time.Time `json:"commission_exempt_until,omitempty"`
	OpensAt               TimeOfDay  `json:"opens_at"`
	ClosesAt              TimeOfDay  `json:"closes_at"`
}

// OpeningHours returns the bookable range of a day.
func (c Complex) OpeningHours() TimeRange {
	return TimeRange{Start: c.OpensAt, End: c.ClosesAt}
}

// Court is a bookable playing surface.  It is read-only during the booking
// flow.
type Court struct {
	ID           uint64 `json:"id"`
	ComplexID    uint64 `json:"complex_id"`
	Name         string `json:"name"`
	PricePerHour int64  `json:"price_per_hour"`
}
