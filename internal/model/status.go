package model

// Status values are closed enumerations.  Every status type exposes Valid
// and, where the lifecycle allows transitions, CanTransitionTo backed by an
// explicit table.  A missing table row means the status is terminal.

// Channel is the origin of a booking and selects the commission rate.
type Channel string

const (
	ChannelWeb            Channel = "web"
	ChannelAdministrative Channel = "administrative"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWeb, ChannelAdministrative:
		return true
	}
	return false
}

// PaymentStatus is the state of one gateway transaction.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
	PaymentExpired  PaymentStatus = "expired"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentApproved, PaymentRejected, PaymentExpired},
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentApproved, PaymentRejected, PaymentExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) Terminal() bool {
	return s.Valid() && len(paymentTransitions[s]) == 0
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return allowed(paymentTransitions[s], next)
}

// ReservationStatus is the lifecycle of a durable booking.
type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
)

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationConfirmed: {ReservationCancelled},
}

// Valid reports whether s is a known reservation status.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationConfirmed, ReservationCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	return allowed(reservationTransitions[s], next)
}

// SettlementStatus describes how much of a reservation's price was paid.
type SettlementStatus string

const (
	SettlementPending       SettlementStatus = "pending"
	SettlementPartiallyPaid SettlementStatus = "partially_paid"
	SettlementPaid          SettlementStatus = "paid"
)

// Valid reports whether s is a known settlement status.
func (s SettlementStatus) Valid() bool {
	switch s {
	case SettlementPending, SettlementPartiallyPaid, SettlementPaid:
		return true
	}
	return false
}

// SettlementFor derives the settlement status from the amounts involved.
func SettlementFor(amountPaid, priceTotal int64) SettlementStatus {
	switch {
	case amountPaid <= 0:
		return SettlementPending
	case amountPaid >= priceTotal:
		return SettlementPaid
	default:
		return SettlementPartiallyPaid
	}
}

// DepositStatus tracks whether a deposit was paid out to the complex.
type DepositStatus string

const (
	DepositPending DepositStatus = "pending"
	DepositPaid    DepositStatus = "paid"
)

var depositTransitions = map[DepositStatus][]DepositStatus{
	DepositPending: {DepositPaid},
}

// Valid reports whether s is a known deposit status.
func (s DepositStatus) Valid() bool {
	switch s {
	case DepositPending, DepositPaid:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s DepositStatus) CanTransitionTo(next DepositStatus) bool {
	return allowed(depositTransitions[s], next)
}

// LedgerKind separates income from expense entries.
type LedgerKind string

const (
	LedgerIncome  LedgerKind = "income"
	LedgerExpense LedgerKind = "expense"
)

// Valid reports whether k is a known ledger kind.
func (k LedgerKind) Valid() bool {
	return k == LedgerIncome || k == LedgerExpense
}

// AnomalyKind classifies payment anomalies that need an operator.
type AnomalyKind string

const (
	// AnomalyLateApproval is an approved payment whose hold was gone
	// before the reservation could be committed.
	AnomalyLateApproval AnomalyKind = "late_approval"
	// AnomalyAmountMismatch is a gateway-reported amount that differs from
	// the amount the session was opened with.
	AnomalyAmountMismatch AnomalyKind = "amount_mismatch"
)

func allowed[T comparable](next []T, want T) bool {
	for _, n := range next {
		if n == want {
			return true
		}
	}
	return false
}
