package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Dan9191/note-lending/internal/models"
)

// ErrDuplicateKey is returned when a record for the note already exists
var ErrDuplicateKey = errors.New("duplicate key")

// Store persists repayment records, the active-set index and payment history.
// Missing records are reported as models.ErrNotFound.
type Store interface {
	CreateRecord(ctx context.Context, r *models.RepaymentRecord) error
	GetRecord(ctx context.Context, noteID string) (*models.RepaymentRecord, error)
	// SaveRecord overwrites a record and keeps the active-set index in step.
	SaveRecord(ctx context.Context, r *models.RepaymentRecord) error
	// CommitSettlement saves the record and appends the payment atomically.
	CommitSettlement(ctx context.Context, r *models.RepaymentRecord, p *models.Payment) error
	ListActive(ctx context.Context) ([]string, error)
	// ListDue returns active notes whose next due time is not after asOf,
	// oldest due first.
	ListDue(ctx context.Context, asOf time.Time) ([]string, error)
	ListPayments(ctx context.Context, noteID string) ([]*models.Payment, error)
}
