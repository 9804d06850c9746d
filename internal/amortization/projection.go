package amortization

import "github.com/Dan9191/note-lending/internal/models"

// Project lays out the remaining periods of r at its current active rate.
// Penalty interest is not projected. r is not modified.
func Project(r *models.RepaymentRecord) models.ScheduleProjection {
	proj := models.ScheduleProjection{
		NoteID:  r.NoteID,
		RateBps: r.Delinquency.ActiveRateBps,
	}
	if !r.Active {
		return proj
	}

	remaining := r.RemainingPrincipal
	due := r.NextDueAt
	periodsLeft := r.RemainingPeriods
	period := r.TotalPeriods - r.RemainingPeriods + 1

	for periodsLeft > 0 && remaining > 0 {
		b := periodBreakdown(r.Policy, remaining, r.Delinquency.ActiveRateBps,
			r.FixedPaymentAmount, r.PrincipalInstallment, periodsLeft == 1)
		remaining -= b.Principal
		proj.TotalInterest += b.Interest
		proj.Payments = append(proj.Payments, models.ScheduledPayment{
			Period:             period,
			DueAt:              due,
			Principal:          b.Principal,
			Interest:           b.Interest,
			Total:              b.Total,
			RemainingPrincipal: remaining,
		})
		due = NextDueDate(due, r.PaymentDay)
		periodsLeft--
		period++
	}
	return proj
}
