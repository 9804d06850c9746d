package models

import "time"

// PaymentKind distinguishes scheduled cycles from out-of-band payoffs
type PaymentKind string

const (
	PaymentCycle       PaymentKind = "cycle"
	PaymentEarlyPayoff PaymentKind = "early_payoff"
)

// Payment represents a settled transfer from obligor to rights-holder
type Payment struct {
	ID        string      `json:"id"`
	NoteID    string      `json:"note_id"`
	Kind      PaymentKind `json:"kind"`
	Period    int         `json:"period"`
	Principal int64       `json:"principal"`
	Interest  int64       `json:"interest"`
	Penalty   int64       `json:"penalty"`
	Fee       int64       `json:"fee"`
	Total     int64       `json:"total"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	SettledAt time.Time   `json:"settled_at"`
}
