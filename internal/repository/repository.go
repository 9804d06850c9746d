package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/note-lending/internal/models"
	"github.com/lib/pq"
)

// Repository is the PostgreSQL Store
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const pgUniqueViolation = "23505"

const recordColumns = `
	note_id, initial_principal, remaining_principal, nominal_rate_bps, penalty_rate_bps,
	payment_day, next_due_at, total_periods, remaining_periods, fixed_payment_amount,
	principal_installment, policy, obligor_address, active, overdue, overdue_since,
	overdue_days, accrued_penalty_interest, consecutive_misses, lifetime_misses,
	active_rate_bps, created_at, updated_at, closed_at`

// CreateRecord inserts a new repayment record
func (r *Repository) CreateRecord(ctx context.Context, rec *models.RepaymentRecord) error {
	query := `INSERT INTO lending.repayment_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23, $24)`
	_, err := r.db.ExecContext(ctx, query, recordArgs(rec)...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create repayment record: %w", err)
	}
	return nil
}

// GetRecord retrieves a repayment record by note id
func (r *Repository) GetRecord(ctx context.Context, noteID string) (*models.RepaymentRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM lending.repayment_records WHERE note_id = $1`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, noteID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, noteID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find repayment record: %w", err)
	}
	return rec, nil
}

// SaveRecord overwrites every mutable column of a record
func (r *Repository) SaveRecord(ctx context.Context, rec *models.RepaymentRecord) error {
	return saveRecord(ctx, r.db, rec)
}

// CommitSettlement updates the record and appends the payment in one transaction
func (r *Repository) CommitSettlement(ctx context.Context, rec *models.RepaymentRecord, p *models.Payment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin settlement commit: %w", err)
	}
	defer tx.Rollback()

	if err := saveRecord(ctx, tx, rec); err != nil {
		return err
	}

	query := `
		INSERT INTO lending.repayment_payments
			(id, note_id, kind, period, principal, interest, penalty, fee, total,
			 from_address, to_address, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = tx.ExecContext(ctx, query, p.ID, p.NoteID, string(p.Kind), p.Period,
		p.Principal, p.Interest, p.Penalty, p.Fee, p.Total, p.From, p.To, p.SettledAt)
	if err != nil {
		return fmt.Errorf("failed to append payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}

// ListActive returns the active-set index
func (r *Repository) ListActive(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, `
		SELECT note_id FROM lending.repayment_records
		WHERE active ORDER BY note_id`)
}

// ListDue returns active notes due at or before asOf
func (r *Repository) ListDue(ctx context.Context, asOf time.Time) ([]string, error) {
	return r.listIDs(ctx, `
		SELECT note_id FROM lending.repayment_records
		WHERE active AND next_due_at <= $1
		ORDER BY next_due_at, note_id`, asOf)
}

// ListPayments returns the settled payments of a note in settlement order
func (r *Repository) ListPayments(ctx context.Context, noteID string) ([]*models.Payment, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM lending.repayment_records WHERE note_id = $1)`, noteID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check repayment record: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, noteID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, note_id, kind, period, principal, interest, penalty, fee, total,
		       from_address, to_address, settled_at
		FROM lending.repayment_payments
		WHERE note_id = $1
		ORDER BY seq`, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []*models.Payment
	for rows.Next() {
		p := &models.Payment{}
		var kind string
		if err := rows.Scan(&p.ID, &p.NoteID, &kind, &p.Period, &p.Principal, &p.Interest,
			&p.Penalty, &p.Fee, &p.Total, &p.From, &p.To, &p.SettledAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Kind = models.PaymentKind(kind)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return out, nil
}

func (r *Repository) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan note id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	return ids, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveRecord(ctx context.Context, db execer, rec *models.RepaymentRecord) error {
	query := `
		UPDATE lending.repayment_records SET
			remaining_principal = $2, next_due_at = $3, remaining_periods = $4, active = $5,
			overdue = $6, overdue_since = $7, overdue_days = $8, accrued_penalty_interest = $9,
			consecutive_misses = $10, lifetime_misses = $11, active_rate_bps = $12,
			updated_at = $13, closed_at = $14
		WHERE note_id = $1`
	d := rec.Delinquency
	res, err := db.ExecContext(ctx, query, rec.NoteID, rec.RemainingPrincipal, rec.NextDueAt,
		rec.RemainingPeriods, rec.Active, d.Overdue, nullTime(d.OverdueSince), d.OverdueDays,
		d.AccruedPenaltyInterest, d.ConsecutiveMisses, d.LifetimeMisses, d.ActiveRateBps,
		rec.UpdatedAt, nullTime(rec.ClosedAt))
	if err != nil {
		return fmt.Errorf("failed to save repayment record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save repayment record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrNotFound, rec.NoteID)
	}
	return nil
}

func recordArgs(rec *models.RepaymentRecord) []any {
	d := rec.Delinquency
	return []any{
		rec.NoteID, rec.InitialPrincipal, rec.RemainingPrincipal, rec.NominalRateBps, rec.PenaltyRateBps,
		rec.PaymentDay, rec.NextDueAt, rec.TotalPeriods, rec.RemainingPeriods, rec.FixedPaymentAmount,
		rec.PrincipalInstallment, string(rec.Policy), rec.ObligorAddress, rec.Active, d.Overdue,
		nullTime(d.OverdueSince), d.OverdueDays, d.AccruedPenaltyInterest, d.ConsecutiveMisses,
		d.LifetimeMisses, d.ActiveRateBps, rec.CreatedAt, rec.UpdatedAt, nullTime(rec.ClosedAt),
	}
}

func scanRecord(row *sql.Row) (*models.RepaymentRecord, error) {
	rec := &models.RepaymentRecord{}
	d := &rec.Delinquency
	var policy string
	var overdueSince, closedAt sql.NullTime
	err := row.Scan(&rec.NoteID, &rec.InitialPrincipal, &rec.RemainingPrincipal, &rec.NominalRateBps,
		&rec.PenaltyRateBps, &rec.PaymentDay, &rec.NextDueAt, &rec.TotalPeriods, &rec.RemainingPeriods,
		&rec.FixedPaymentAmount, &rec.PrincipalInstallment, &policy, &rec.ObligorAddress, &rec.Active,
		&d.Overdue, &overdueSince, &d.OverdueDays, &d.AccruedPenaltyInterest, &d.ConsecutiveMisses,
		&d.LifetimeMisses, &d.ActiveRateBps, &rec.CreatedAt, &rec.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	rec.Policy = models.AmortizationPolicy(policy)
	if overdueSince.Valid {
		t := overdueSince.Time.UTC()
		d.OverdueSince = &t
	}
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		rec.ClosedAt = &t
	}
	rec.NextDueAt = rec.NextDueAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*Repository)(nil)
