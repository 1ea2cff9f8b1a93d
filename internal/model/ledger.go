package model

import "time"

// Default ledger category names created per complex.
const (
	CategoryWebReservations    = "Web Reservations"
	CategoryDirectReservations = "Direct Reservations"
	CategoryPlatformCommission = "Platform Commission"
)

// LedgerCategory groups a complex's ledger entries.
type LedgerCategory struct {
	ID        uint64     `json:"id"`
	ComplexID uint64     `json:"complex_id"`
	Name      string     `json:"name"`
	Kind      LedgerKind `json:"kind"`
}

// LedgerEntry is one income or expense line derived from a reservation.
// (ReservationID, Kind) is unique: a reservation contributes at most one
// income entry and at most one expense entry.
type LedgerEntry struct {
	ID             uint64     `json:"id"`
	ComplexID      uint64     `json:"complex_id"`
	CategoryID     uint64     `json:"category_id"`
	ReservationID  uint64     `json:"reservation_id"`
	Kind           LedgerKind `json:"kind"`
	Amount         int64      `json:"amount"`
	Date           time.Time  `json:"date"`
	Description    string     `json:"description"`
	CorrectedAt    *time.Time `json:"corrected_at,omitempty"`
	CorrectionNote string     `json:"correction_note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
