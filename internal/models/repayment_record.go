package models

import "time"

// AmortizationPolicy selects how principal is spread across periods
type AmortizationPolicy string

const (
	// EqualInstallment keeps the total payment fixed per period
	EqualInstallment AmortizationPolicy = "equal_installment"
	// EqualPrincipal keeps the principal portion fixed per period
	EqualPrincipal AmortizationPolicy = "equal_principal"
	// BulletAtMaturity pays interest only until the final period
	BulletAtMaturity AmortizationPolicy = "bullet_at_maturity"
)

// Valid reports whether p is a known policy
func (p AmortizationPolicy) Valid() bool {
	switch p {
	case EqualInstallment, EqualPrincipal, BulletAtMaturity:
		return true
	}
	return false
}

// DelinquencyState is the overdue bookkeeping of a record.
// It is only ever replaced wholesale by a delinquency report and cleared by
// a settled cycle.
type DelinquencyState struct {
	Overdue                bool       `json:"overdue"`
	OverdueSince           *time.Time `json:"overdue_since,omitempty"`
	OverdueDays            int        `json:"overdue_days"`
	AccruedPenaltyInterest int64      `json:"accrued_penalty_interest"`
	ConsecutiveMisses      int        `json:"consecutive_misses"`
	LifetimeMisses         int        `json:"lifetime_misses"`
	ActiveRateBps          int64      `json:"active_rate_bps"`
}

// RepaymentRecord is the repayment state of a single note
type RepaymentRecord struct {
	NoteID               string             `json:"note_id"`
	InitialPrincipal     int64              `json:"initial_principal"`
	RemainingPrincipal   int64              `json:"remaining_principal"`
	NominalRateBps       int64              `json:"nominal_rate_bps"`
	PenaltyRateBps       int64              `json:"penalty_rate_bps"`
	PaymentDay           int                `json:"payment_day"`
	NextDueAt            time.Time          `json:"next_due_at"`
	TotalPeriods         int                `json:"total_periods"`
	RemainingPeriods     int                `json:"remaining_periods"`
	FixedPaymentAmount   int64              `json:"fixed_payment_amount"`
	PrincipalInstallment int64              `json:"principal_installment"`
	Policy               AmortizationPolicy `json:"amortization_policy"`
	ObligorAddress       string             `json:"obligor_address"`
	Active               bool               `json:"active"`
	Delinquency          DelinquencyState   `json:"delinquency"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	ClosedAt             *time.Time         `json:"closed_at,omitempty"`
}

// FinalPeriod reports whether the next cycle is the last scheduled one
func (r *RepaymentRecord) FinalPeriod() bool {
	return r.RemainingPeriods == 1
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *RepaymentRecord) Clone() *RepaymentRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Delinquency.OverdueSince != nil {
		t := *r.Delinquency.OverdueSince
		c.Delinquency.OverdueSince = &t
	}
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// NoteTerms are the scheduling parameters supplied when a note is registered
type NoteTerms struct {
	NoteID         string             `json:"note_id"`
	Principal      int64              `json:"principal"`
	NominalRateBps int64              `json:"nominal_rate_bps"`
	PenaltyRateBps int64              `json:"penalty_rate_bps"`
	Periods        int                `json:"periods"`
	PaymentDay     int                `json:"payment_day"`
	Policy         AmortizationPolicy `json:"amortization_policy"`
}

// DelinquencyReport is the payload pushed by the off-engine monitor
type DelinquencyReport struct {
	Overdue                bool       `json:"overdue"`
	OverdueSince           *time.Time `json:"overdue_since,omitempty"`
	OverdueDays            int        `json:"overdue_days"`
	AccruedPenaltyInterest int64      `json:"accrued_penalty_interest"`
	ConsecutiveMisses      int        `json:"consecutive_misses"`
	EffectiveRateBps       int64      `json:"effective_rate_bps"`
	LifetimeMisses         int        `json:"lifetime_misses"`
}
