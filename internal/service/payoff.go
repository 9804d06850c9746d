package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/note-lending/internal/amortization"
	"github.com/Dan9191/note-lending/internal/models"
	"github.com/Dan9191/note-lending/internal/notify"
)

// PayoffResult describes a settled early payoff
type PayoffResult struct {
	Record  *models.RepaymentRecord `json:"record"`
	Payment *models.Payment         `json:"payment"`
}

// ComputeFee returns the early-payoff fee for reducing principal by amount
func (e *Engine) ComputeFee(ctx context.Context, noteID string, amount int64) (int64, error) {
	rec, err := e.activeRecord(ctx, noteID)
	if err != nil {
		return 0, err
	}
	if err := checkPayoffAmount(rec, amount); err != nil {
		return 0, err
	}
	return e.fee(amount), nil
}

// ProcessEarlyPayoff reduces the principal of a note outside the normal
// cycle. Remaining periods are kept; the record closes once principal is
// fully repaid.
func (e *Engine) ProcessEarlyPayoff(ctx context.Context, noteID string, amount, fee int64) (*PayoffResult, error) {
	var res *PayoffResult
	err := e.locked(ctx, noteID, func(out *outbox) error {
		var err error
		res, err = e.payoff(ctx, noteID, amount, fee, out)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) payoff(ctx context.Context, noteID string, amount, fee int64, out *outbox) (*PayoffResult, error) {
	rec, err := e.activeRecord(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if rec.Delinquency.Overdue {
		return nil, fmt.Errorf("%w: early payoff of %s refused while overdue", models.ErrPreconditionFailed, noteID)
	}
	if err := checkPayoffAmount(rec, amount); err != nil {
		return nil, err
	}
	if want := e.fee(amount); fee != want {
		return nil, fmt.Errorf("%w: fee %d does not match quoted fee %d", models.ErrValidation, fee, want)
	}

	holder, err := e.registry.GetRightsHolder(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("resolve rights-holder of %s: %w", noteID, err)
	}

	total := amount + fee
	if err := e.settle(ctx, rec, holder, total, out); err != nil {
		return nil, err
	}

	now := e.now()
	next := rec.Clone()
	next.RemainingPrincipal -= amount
	if next.RemainingPrincipal < 0 {
		next.RemainingPrincipal = 0
	}
	next.UpdatedAt = now
	if next.RemainingPrincipal == 0 {
		closeRecord(next, now)
	}

	payment := &models.Payment{
		ID:        uuid.NewString(),
		NoteID:    noteID,
		Kind:      models.PaymentEarlyPayoff,
		Period:    rec.TotalPeriods - rec.RemainingPeriods + 1,
		Principal: amount,
		Fee:       fee,
		Total:     total,
		From:      rec.ObligorAddress,
		To:        holder,
		SettledAt: now,
	}
	if err := e.commit(ctx, next, payment); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"note_id":             noteID,
		"amount":              amount,
		"fee":                 fee,
		"remaining_principal": next.RemainingPrincipal,
	}).Info("Early payoff settled")

	ev := notify.NewEvent(notify.EarlyPayoffSettled, noteID, now)
	ev.Amount, ev.From, ev.To = total, rec.ObligorAddress, holder
	ev.Fields = map[string]any{"fee": fee, "remaining_principal": next.RemainingPrincipal}
	out.add(ev)
	if !next.Active {
		out.add(notify.NewEvent(notify.NoteClosed, noteID, now))
	}

	return &PayoffResult{Record: next, Payment: payment}, nil
}

func (e *Engine) fee(amount int64) int64 {
	return amortization.MulDivFloor(amount, e.opts.EarlyPayoffFeeBps, amortization.BpsDenominator)
}

func checkPayoffAmount(rec *models.RepaymentRecord, amount int64) error {
	if amount < 1 || amount > rec.RemainingPrincipal {
		return fmt.Errorf("%w: payoff amount must be within 1..%d, got %d",
			models.ErrValidation, rec.RemainingPrincipal, amount)
	}
	return nil
}
