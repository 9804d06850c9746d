package amortization

import "time"

// MaxPaymentDay keeps every month able to hold the payment day
const MaxPaymentDay = 28

// FirstDueDate returns the first date strictly after from that falls on
// paymentDay, at midnight UTC.
func FirstDueDate(from time.Time, paymentDay int) time.Time {
	from = from.UTC()
	due := time.Date(from.Year(), from.Month(), paymentDay, 0, 0, 0, 0, time.UTC)
	if !due.After(from) {
		due = due.AddDate(0, 1, 0)
	}
	return due
}

// NextDueDate advances a due date by one period.
func NextDueDate(due time.Time, paymentDay int) time.Time {
	next := due.UTC().AddDate(0, 1, 0)
	return time.Date(next.Year(), next.Month(), paymentDay, 0, 0, 0, 0, time.UTC)
}
