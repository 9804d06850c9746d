package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// Postgres is a settlement ledger backed by the lending.ledger_* tables
type Postgres struct {
	db *sql.DB
}

// NewPostgres initializes a Postgres ledger
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Deposit credits amount to address, opening the account if needed
func (l *Postgres) Deposit(ctx context.Context, address string, amount int64) (int64, error) {
	if address == "" || amount <= 0 {
		return 0, ErrInvalidAmount
	}

	query := `
		INSERT INTO lending.ledger_accounts (address, balance, created_at, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (address) DO UPDATE
		SET balance = lending.ledger_accounts.balance + EXCLUDED.balance,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING balance`
	var balance int64
	if err := l.db.QueryRowContext(ctx, query, address, amount).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to deposit: %w", err)
	}
	return balance, nil
}

// Transfer moves amount between accounts in a single transaction
func (l *Postgres) Transfer(ctx context.Context, from, to string, amount int64) error {
	if from == "" || to == "" || amount < 0 {
		return ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transfer: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE lending.ledger_accounts
		SET balance = balance - $1, updated_at = CURRENT_TIMESTAMP
		WHERE address = $2 AND balance >= $1`, amount, from)
	if err != nil {
		return fmt.Errorf("failed to debit %s: %w", from, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to debit %s: %w", from, err)
	}
	if n == 0 {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM lending.ledger_accounts WHERE address = $1)`, from).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check account %s: %w", from, err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, from)
		}
		return fmt.Errorf("%w: %s needs %d", ErrInsufficientFunds, from, amount)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lending.ledger_accounts (address, balance, created_at, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (address) DO UPDATE
		SET balance = lending.ledger_accounts.balance + EXCLUDED.balance,
		    updated_at = CURRENT_TIMESTAMP`, to, amount)
	if err != nil {
		return fmt.Errorf("failed to credit %s: %w", to, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lending.ledger_transfers (from_address, to_address, amount, created_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)`, from, to, amount)
	if err != nil {
		return fmt.Errorf("failed to journal transfer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}
	return nil
}

// BalanceOf returns the balance of address; unknown accounts hold zero
func (l *Postgres) BalanceOf(ctx context.Context, address string) (int64, error) {
	var balance int64
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM lending.ledger_accounts WHERE address = $1`, address).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}
