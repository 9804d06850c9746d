package models

import "time"

// ScheduledPayment represents one projected future period
type ScheduledPayment struct {
	Period             int       `json:"period"`
	DueAt              time.Time `json:"due_at"`
	Principal          int64     `json:"principal"`
	Interest           int64     `json:"interest"`
	Total              int64     `json:"total"`
	RemainingPrincipal int64     `json:"remaining_principal"` // after this period
}

// ScheduleProjection represents the remaining amortization table of a note
type ScheduleProjection struct {
	NoteID        string             `json:"note_id"`
	RateBps       int64              `json:"rate_bps"`
	TotalInterest int64              `json:"total_interest"`
	Payments      []ScheduledPayment `json:"payments"`
}
