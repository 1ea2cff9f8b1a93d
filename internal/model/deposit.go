package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payout captures how a deposit was paid out to a complex.  It is only
// ever written by the mark-paid operation.
type Payout struct {
	Method            string     `json:"method"`
	TransactionNumber string     `json:"transaction_number,omitempty"`
	DestinationBank   string     `json:"destination_bank,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	ProcessedBy       *uint64    `json:"processed_by,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
}

// DepositRecord is the amount owed to one complex for one settlement date.
// (ComplexID, SettlementDate) is unique.  The monetary fields are derived
// from the reservations of that day and may be recomputed at any time;
// Status and Payout survive recomputation.
//
// CommissionRate is the effective commission percentage before tax,
// commission-excl-tax over gross, with two decimals.
type DepositRecord struct {
	ID                     uint64          `json:"id"`
	ComplexID              uint64          `json:"complex_id"`
	SettlementDate         time.Time       `json:"settlement_date"`
	ReservationCount       int             `json:"reservation_count"`
	GrossReservationsTotal int64           `json:"gross_reservations_total"`
	CommissionRate         decimal.Decimal `json:"commission_rate"`
	CommissionExclTax      int64           `json:"commission_excl_tax"`
	Tax                    int64           `json:"tax"`
	CommissionTotal        int64           `json:"commission_total"`
	NetPayable             int64           `json:"net_payable"`
	Status                 DepositStatus   `json:"status"`
	Payout                 Payout          `json:"payout"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// SameAmounts reports whether two records carry identical derived figures.
func (d DepositRecord) SameAmounts(o DepositRecord) bool {
	return d.ReservationCount == o.ReservationCount &&
		d.GrossReservationsTotal == o.GrossReservationsTotal &&
		d.CommissionExclTax == o.CommissionExclTax &&
		d.Tax == o.Tax &&
		d.CommissionTotal == o.CommissionTotal &&
		d.NetPayable == o.NetPayable
}
