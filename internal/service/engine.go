// Package service implements the repayment engine: schedule registration,
// per-cycle settlement, delinquency reports and early payoff.
//
// Every mutating operation holds the note's lock and follows
// checks → ledger transfer → commit, so a failed transfer leaves the
// record untouched and the call can be retried. Events are delivered once
// the lock is released.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/note-lending/internal/amortization"
	"github.com/Dan9191/note-lending/internal/lock"
	"github.com/Dan9191/note-lending/internal/models"
	"github.com/Dan9191/note-lending/internal/notify"
	"github.com/Dan9191/note-lending/internal/repository"
)

// NoteRegistry resolves the parties of a note. Unknown notes are
// reported as models.ErrNotFound.
type NoteRegistry interface {
	GetObligor(ctx context.Context, noteID string) (string, error)
	GetRightsHolder(ctx context.Context, noteID string) (string, error)
}

// SettlementLedger moves funds between accounts
type SettlementLedger interface {
	Transfer(ctx context.Context, from, to string, amount int64) error
	BalanceOf(ctx context.Context, address string) (int64, error)
}

// Options tune engine policy
type Options struct {
	EarlyPayoffFeeBps     int64
	AccelerationThreshold int
}

// CycleResult describes a settled cycle
type CycleResult struct {
	Record    *models.RepaymentRecord `json:"record"`
	Payment   *models.Payment         `json:"payment"`
	Breakdown amortization.Breakdown  `json:"breakdown"`
}

// Engine is the repayment engine
type Engine struct {
	store    repository.Store
	registry NoteRegistry
	ledger   SettlementLedger
	locker   lock.Locker
	notifier notify.Notifier
	log      *logrus.Logger
	opts     Options
	clock    func() time.Time
}

// NewEngine initializes a new repayment engine
func NewEngine(store repository.Store, registry NoteRegistry, ledger SettlementLedger,
	locker lock.Locker, notifier notify.Notifier, log *logrus.Logger, opts Options) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		ledger:   ledger,
		locker:   locker,
		notifier: notifier,
		log:      log,
		opts:     opts,
		clock:    time.Now,
	}
}

// WithClock overrides the engine clock for deterministic tests.
func (e *Engine) WithClock(clock func() time.Time) {
	if clock != nil {
		e.clock = clock
	}
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// RegisterSchedule creates the repayment record of a minted note
func (e *Engine) RegisterSchedule(ctx context.Context, terms models.NoteTerms) (*models.RepaymentRecord, error) {
	if err := validateTerms(terms); err != nil {
		return nil, err
	}

	obligor, err := e.registry.GetObligor(ctx, terms.NoteID)
	if err != nil {
		return nil, fmt.Errorf("resolve obligor of %s: %w", terms.NoteID, err)
	}

	var rec *models.RepaymentRecord
	err = e.locked(ctx, terms.NoteID, func(out *outbox) error {
		var err error
		rec, err = e.createRecord(ctx, terms, obligor, out)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *Engine) createRecord(ctx context.Context, terms models.NoteTerms, obligor string, out *outbox) (*models.RepaymentRecord, error) {
	var err error
	now := e.now()
	rec := &models.RepaymentRecord{
		NoteID:             terms.NoteID,
		InitialPrincipal:   terms.Principal,
		RemainingPrincipal: terms.Principal,
		NominalRateBps:     terms.NominalRateBps,
		PenaltyRateBps:     terms.PenaltyRateBps,
		PaymentDay:         terms.PaymentDay,
		NextDueAt:          amortization.FirstDueDate(now, terms.PaymentDay),
		TotalPeriods:       terms.Periods,
		RemainingPeriods:   terms.Periods,
		Policy:             terms.Policy,
		ObligorAddress:     obligor,
		Active:             true,
		Delinquency:        models.DelinquencyState{ActiveRateBps: terms.NominalRateBps},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	switch terms.Policy {
	case models.EqualInstallment:
		rec.FixedPaymentAmount, err = amortization.DeriveFixedPayment(terms.Principal, terms.NominalRateBps, terms.Periods)
	case models.EqualPrincipal:
		rec.PrincipalInstallment, err = amortization.DerivePrincipalInstallment(terms.Principal, terms.Periods)
	}
	if err != nil {
		return nil, err
	}

	if err := e.store.CreateRecord(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: schedule for %s already registered", models.ErrValidation, terms.NoteID)
		}
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"note_id":   rec.NoteID,
		"policy":    rec.Policy,
		"principal": rec.InitialPrincipal,
		"periods":   rec.TotalPeriods,
		"next_due":  rec.NextDueAt.Format("2006-01-02"),
	}).Info("Repayment schedule registered")

	ev := notify.NewEvent(notify.ScheduleRegistered, rec.NoteID, now)
	ev.Amount = rec.InitialPrincipal
	out.add(ev)
	return rec, nil
}

// ProcessCycle settles the current period of a note
func (e *Engine) ProcessCycle(ctx context.Context, noteID string) (*CycleResult, error) {
	var res *CycleResult
	err := e.locked(ctx, noteID, func(out *outbox) error {
		var err error
		res, err = e.processCycle(ctx, noteID, out)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) processCycle(ctx context.Context, noteID string, out *outbox) (*CycleResult, error) {
	rec, err := e.activeRecord(ctx, noteID)
	if err != nil {
		return nil, err
	}

	due := amortization.Split(rec)

	holder, err := e.registry.GetRightsHolder(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("resolve rights-holder of %s: %w", noteID, err)
	}

	if err := e.settle(ctx, rec, holder, due.Total, out); err != nil {
		return nil, err
	}

	now := e.now()
	next := rec.Clone()
	period := rec.TotalPeriods - rec.RemainingPeriods + 1
	next.RemainingPeriods--
	next.RemainingPrincipal -= due.Principal
	next.Delinquency.Overdue = false
	next.Delinquency.OverdueSince = nil
	next.Delinquency.OverdueDays = 0
	next.Delinquency.AccruedPenaltyInterest = 0
	next.Delinquency.ConsecutiveMisses = 0
	next.NextDueAt = amortization.NextDueDate(rec.NextDueAt, rec.PaymentDay)
	next.UpdatedAt = now
	if next.RemainingPeriods == 0 || next.RemainingPrincipal == 0 {
		closeRecord(next, now)
	}

	payment := &models.Payment{
		ID:        uuid.NewString(),
		NoteID:    noteID,
		Kind:      models.PaymentCycle,
		Period:    period,
		Principal: due.Principal,
		Interest:  due.Interest,
		Penalty:   due.Penalty,
		Total:     due.Total,
		From:      rec.ObligorAddress,
		To:        holder,
		SettledAt: now,
	}
	if err := e.commit(ctx, next, payment); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"note_id":           noteID,
		"period":            period,
		"total":             due.Total,
		"principal":         due.Principal,
		"interest":          due.Interest,
		"penalty":           due.Penalty,
		"remaining_periods": next.RemainingPeriods,
	}).Info("Repayment cycle settled")

	ev := notify.NewEvent(notify.CycleSettled, noteID, now)
	ev.Amount, ev.From, ev.To = due.Total, rec.ObligorAddress, holder
	ev.Fields = map[string]any{"period": period, "remaining_principal": next.RemainingPrincipal}
	out.add(ev)
	if !next.Active {
		out.add(notify.NewEvent(notify.NoteClosed, noteID, now))
	}

	return &CycleResult{Record: next, Payment: payment, Breakdown: due}, nil
}

// GetRecord returns the record of a note, open or closed
func (e *Engine) GetRecord(ctx context.Context, noteID string) (*models.RepaymentRecord, error) {
	return e.store.GetRecord(ctx, noteID)
}

// ListActive returns the ids of notes that still have obligations
func (e *Engine) ListActive(ctx context.Context) ([]string, error) {
	return e.store.ListActive(ctx)
}

// ListDue returns active notes whose next payment is due at or before asOf
func (e *Engine) ListDue(ctx context.Context, asOf time.Time) ([]string, error) {
	return e.store.ListDue(ctx, asOf)
}

// ListPayments returns the settlement history of a note
func (e *Engine) ListPayments(ctx context.Context, noteID string) ([]*models.Payment, error) {
	return e.store.ListPayments(ctx, noteID)
}

// ProjectSchedule returns the remaining amortization table of a note
func (e *Engine) ProjectSchedule(ctx context.Context, noteID string) (models.ScheduleProjection, error) {
	rec, err := e.store.GetRecord(ctx, noteID)
	if err != nil {
		return models.ScheduleProjection{}, err
	}
	return amortization.Project(rec), nil
}

// activeRecord loads a record and rejects closed ones as not found
func (e *Engine) activeRecord(ctx context.Context, noteID string) (*models.RepaymentRecord, error) {
	rec, err := e.store.GetRecord(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if !rec.Active {
		return nil, fmt.Errorf("%w: %s is closed", models.ErrNotFound, noteID)
	}
	return rec, nil
}

// settle requests the ledger transfer. A rejected transfer is reported as a
// SettlementFailed event and returned as ErrSettlementFailed.
func (e *Engine) settle(ctx context.Context, rec *models.RepaymentRecord, holder string, amount int64, out *outbox) error {
	if amount == 0 {
		return nil
	}
	err := e.ledger.Transfer(ctx, rec.ObligorAddress, holder, amount)
	if err == nil {
		return nil
	}

	e.log.WithFields(logrus.Fields{
		"note_id": rec.NoteID,
		"amount":  amount,
		"from":    rec.ObligorAddress,
		"to":      holder,
	}).Warnf("Settlement rejected: %v", err)

	ev := notify.NewEvent(notify.SettlementFailed, rec.NoteID, e.now())
	ev.Amount, ev.From, ev.To, ev.Reason = amount, rec.ObligorAddress, holder, err.Error()
	out.add(ev)

	return fmt.Errorf("%w: note %s: %v", models.ErrSettlementFailed, rec.NoteID, err)
}

// commit persists a settled change. Funds have already moved at this point,
// so a failure here needs manual reconciliation against the ledger journal.
func (e *Engine) commit(ctx context.Context, rec *models.RepaymentRecord, p *models.Payment) error {
	if err := e.store.CommitSettlement(ctx, rec, p); err != nil {
		e.log.WithFields(logrus.Fields{
			"note_id":    rec.NoteID,
			"payment_id": p.ID,
			"total":      p.Total,
		}).Errorf("Settled payment not recorded: %v", err)
		return fmt.Errorf("record settlement of %s: %w", rec.NoteID, err)
	}
	return nil
}

// outbox queues events raised while a note is locked
type outbox []notify.Event

func (o *outbox) add(ev notify.Event) {
	*o = append(*o, ev)
}

// locked runs fn while holding the note lock. Events queued by fn are
// delivered after the lock is released, whether or not fn failed.
func (e *Engine) locked(ctx context.Context, noteID string, fn func(out *outbox) error) error {
	unlock, err := e.locker.Lock(ctx, noteID)
	if err != nil {
		return err
	}
	var out outbox
	err = func() error {
		defer unlock()
		return fn(&out)
	}()
	for _, ev := range out {
		e.emit(ctx, ev)
	}
	return err
}

func (e *Engine) emit(ctx context.Context, ev notify.Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.log.WithField("event", ev.Type).Warnf("Notification delivery failed: %v", err)
	}
}

// closeRecord moves a record to the terminal state
func closeRecord(rec *models.RepaymentRecord, at time.Time) {
	rec.Active = false
	rec.RemainingPeriods = 0
	rec.ClosedAt = &at
}

func validateTerms(t models.NoteTerms) error {
	switch {
	case t.NoteID == "":
		return fmt.Errorf("%w: note id is required", models.ErrValidation)
	case !t.Policy.Valid():
		return fmt.Errorf("%w: unknown amortization policy %q", models.ErrValidation, t.Policy)
	case t.Principal <= 0:
		return fmt.Errorf("%w: principal must be positive, got %d", models.ErrValidation, t.Principal)
	case t.Periods <= 0 || t.Periods > amortization.MaxPeriods:
		return fmt.Errorf("%w: periods must be within 1..%d, got %d", models.ErrValidation, amortization.MaxPeriods, t.Periods)
	case t.NominalRateBps < 0:
		return fmt.Errorf("%w: nominal rate must not be negative", models.ErrValidation)
	case t.PenaltyRateBps < t.NominalRateBps:
		return fmt.Errorf("%w: penalty rate %d below nominal rate %d", models.ErrValidation, t.PenaltyRateBps, t.NominalRateBps)
	case t.PaymentDay < 1 || t.PaymentDay > amortization.MaxPaymentDay:
		return fmt.Errorf("%w: payment day must be within 1..%d, got %d", models.ErrValidation, amortization.MaxPaymentDay, t.PaymentDay)
	}
	return nil
}
