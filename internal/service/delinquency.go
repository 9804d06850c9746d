package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/note-lending/internal/auth"
	"github.com/Dan9191/note-lending/internal/models"
	"github.com/Dan9191/note-lending/internal/notify"
)

// ReportDelinquency replaces the delinquency state of a note with the
// monitor's report. Only callers holding the monitor role may report.
//
// Acceleration is the caller's contract: once ConsecutiveMisses reaches
// the acceleration threshold the report must carry the penalty rate. The
// engine logs a violated contract but applies the report as given.
func (e *Engine) ReportDelinquency(ctx context.Context, noteID string, rep models.DelinquencyReport) (*models.RepaymentRecord, error) {
	if !auth.IsMonitor(ctx) {
		return nil, fmt.Errorf("%w: delinquency reports require the %s role", models.ErrUnauthorized, auth.RoleMonitor)
	}
	if err := validateReport(rep); err != nil {
		return nil, err
	}

	var rec *models.RepaymentRecord
	err := e.locked(ctx, noteID, func(out *outbox) error {
		var err error
		rec, err = e.applyReport(ctx, noteID, rep, out)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *Engine) applyReport(ctx context.Context, noteID string, rep models.DelinquencyReport, out *outbox) (*models.RepaymentRecord, error) {
	rec, err := e.activeRecord(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if rep.EffectiveRateBps != rec.NominalRateBps && rep.EffectiveRateBps != rec.PenaltyRateBps {
		return nil, fmt.Errorf("%w: effective rate %d bps is neither nominal (%d) nor penalty (%d)",
			models.ErrValidation, rep.EffectiveRateBps, rec.NominalRateBps, rec.PenaltyRateBps)
	}

	now := e.now()
	next := rec.Clone()
	next.Delinquency = models.DelinquencyState{
		Overdue:                rep.Overdue,
		OverdueSince:           rep.OverdueSince,
		OverdueDays:            rep.OverdueDays,
		AccruedPenaltyInterest: rep.AccruedPenaltyInterest,
		ConsecutiveMisses:      rep.ConsecutiveMisses,
		LifetimeMisses:         rep.LifetimeMisses,
		ActiveRateBps:          rep.EffectiveRateBps,
	}
	if next.Delinquency.OverdueSince != nil {
		t := next.Delinquency.OverdueSince.UTC()
		next.Delinquency.OverdueSince = &t
	}
	next.UpdatedAt = now

	if err := e.store.SaveRecord(ctx, next); err != nil {
		return nil, fmt.Errorf("save delinquency of %s: %w", noteID, err)
	}

	violated := e.opts.AccelerationThreshold > 0 &&
		rep.ConsecutiveMisses >= e.opts.AccelerationThreshold &&
		rep.EffectiveRateBps != rec.PenaltyRateBps
	entry := e.log.WithFields(logrus.Fields{
		"note_id":            noteID,
		"overdue":            rep.Overdue,
		"consecutive_misses": rep.ConsecutiveMisses,
		"active_rate_bps":    rep.EffectiveRateBps,
	})
	if violated {
		entry.Warnf("Acceleration threshold %d reached without penalty rate", e.opts.AccelerationThreshold)
	} else {
		entry.Info("Delinquency reported")
	}

	ev := notify.NewEvent(notify.DelinquencyReported, noteID, now)
	ev.Amount = rep.AccruedPenaltyInterest
	ev.Fields = map[string]any{
		"overdue":                        rep.Overdue,
		"consecutive_misses":             rep.ConsecutiveMisses,
		"active_rate_bps":                rep.EffectiveRateBps,
		"accelerated":                    rep.EffectiveRateBps == rec.PenaltyRateBps && rec.PenaltyRateBps != rec.NominalRateBps,
		"acceleration_contract_violated": violated,
	}
	out.add(ev)

	return next, nil
}

func validateReport(rep models.DelinquencyReport) error {
	switch {
	case rep.OverdueDays < 0, rep.AccruedPenaltyInterest < 0, rep.ConsecutiveMisses < 0, rep.LifetimeMisses < 0:
		return fmt.Errorf("%w: delinquency counters must not be negative", models.ErrValidation)
	case rep.LifetimeMisses < rep.ConsecutiveMisses:
		return fmt.Errorf("%w: lifetime misses %d below consecutive misses %d",
			models.ErrValidation, rep.LifetimeMisses, rep.ConsecutiveMisses)
	}
	return nil
}
