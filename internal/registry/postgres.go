package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Dan9191/note-lending/internal/models"
)

const pgUniqueViolation = "23505"

// Postgres is a NoteRegistry backed by the lending.notes table.
// Listeners are per process.
type Postgres struct {
	db   *sql.DB
	subs subscribers
}

// NewPostgres initializes a Postgres registry
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Mint records a new note
func (r *Postgres) Mint(ctx context.Context, noteID, obligor, rightsHolder string) (*Note, error) {
	if err := checkMint(noteID, obligor, rightsHolder); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO lending.notes (id, obligor, rights_holder, minted_at, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, obligor, rights_holder, minted_at, updated_at`
	n, err := scanNote(r.db.QueryRowContext(ctx, query, noteID, obligor, rightsHolder))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("%w: note %s already minted", models.ErrValidation, noteID)
		}
		return nil, fmt.Errorf("failed to mint note: %w", err)
	}
	return n, nil
}

// TransferRights assigns a new rights-holder and notifies listeners
func (r *Postgres) TransferRights(ctx context.Context, noteID, newHolder string) error {
	if newHolder == "" {
		return fmt.Errorf("%w: rights-holder is required", models.ErrValidation)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE lending.notes
		SET rights_holder = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`, noteID, newHolder)
	if err != nil {
		return fmt.Errorf("failed to transfer rights: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to transfer rights: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrNotFound, noteID)
	}

	r.subs.notify(ctx, noteID, newHolder)
	return nil
}

// Subscribe registers a listener for rights-holder changes made through r
func (r *Postgres) Subscribe(l OwnershipListener) {
	r.subs.add(l)
}

// GetNote retrieves a note by id
func (r *Postgres) GetNote(ctx context.Context, noteID string) (*Note, error) {
	query := `
		SELECT id, obligor, rights_holder, minted_at, updated_at
		FROM lending.notes WHERE id = $1`
	n, err := scanNote(r.db.QueryRowContext(ctx, query, noteID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, noteID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find note: %w", err)
	}
	return n, nil
}

// GetObligor returns the obligor address of a note
func (r *Postgres) GetObligor(ctx context.Context, noteID string) (string, error) {
	n, err := r.GetNote(ctx, noteID)
	if err != nil {
		return "", err
	}
	return n.Obligor, nil
}

// GetRightsHolder returns the current rights-holder address of a note
func (r *Postgres) GetRightsHolder(ctx context.Context, noteID string) (string, error) {
	n, err := r.GetNote(ctx, noteID)
	if err != nil {
		return "", err
	}
	return n.RightsHolder, nil
}

func scanNote(row *sql.Row) (*Note, error) {
	n := &Note{}
	if err := row.Scan(&n.ID, &n.Obligor, &n.RightsHolder, &n.MintedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.MintedAt = n.MintedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return n, nil
}
