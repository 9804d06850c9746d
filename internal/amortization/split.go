package amortization

import "github.com/Dan9191/note-lending/internal/models"

// Breakdown is the amount due for the current period of a record
type Breakdown struct {
	Principal int64 `json:"principal"`
	Interest  int64 `json:"interest"`
	Penalty   int64 `json:"penalty"`
	Total     int64 `json:"total"`
	Final     bool  `json:"final"`
}

// Split computes what the next cycle of r owes at the record's active rate.
// Accrued penalty interest is included only while the record is overdue.
func Split(r *models.RepaymentRecord) Breakdown {
	b := periodBreakdown(r.Policy, r.RemainingPrincipal, r.Delinquency.ActiveRateBps,
		r.FixedPaymentAmount, r.PrincipalInstallment, r.FinalPeriod())
	if r.Delinquency.Overdue {
		b.Penalty = r.Delinquency.AccruedPenaltyInterest
	}
	b.Total = b.Principal + b.Interest + b.Penalty
	return b
}

func periodBreakdown(policy models.AmortizationPolicy, remaining, rateBps, fixed, installment int64, final bool) Breakdown {
	b := Breakdown{Final: final, Interest: Interest(remaining, rateBps)}

	switch {
	case final:
		// the last period absorbs every rounding residual
		b.Principal = remaining
	case policy == models.EqualInstallment:
		if fixed > b.Interest {
			b.Principal = fixed - b.Interest
		}
	case policy == models.EqualPrincipal:
		b.Principal = installment
	case policy == models.BulletAtMaturity:
		b.Principal = 0
	}

	if b.Principal > remaining {
		b.Principal = remaining
	}
	b.Total = b.Principal + b.Interest
	return b
}
