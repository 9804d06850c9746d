// Package ledger moves currency units between wallet accounts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dan9191/note-lending/internal/models"
)

var (
	// ErrInsufficientFunds is returned when the payer balance cannot cover a transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUnknownAccount is returned when the payer account does not exist.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrInvalidAmount is returned for negative amounts and empty addresses.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Memory is an in-process settlement ledger
type Memory struct {
	mu        sync.Mutex
	accounts  map[string]*models.Account
	transfers []models.Transfer
	clock     func() time.Time
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]*models.Account),
		clock:    time.Now,
	}
}

// Deposit credits amount to address, opening the account if needed
func (l *Memory) Deposit(_ context.Context, address string, amount int64) (int64, error) {
	if address == "" || amount <= 0 {
		return 0, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(address)
	acc.Balance += amount
	acc.UpdatedAt = l.clock()
	return acc.Balance, nil
}

// Transfer moves amount from one account to another atomically
func (l *Memory) Transfer(_ context.Context, from, to string, amount int64) error {
	if from == "" || to == "" || amount < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	payer, ok := l.accounts[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, from)
	}
	if payer.Balance < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, from, payer.Balance, amount)
	}

	now := l.clock()
	payee := l.account(to)
	payer.Balance -= amount
	payee.Balance += amount
	payer.UpdatedAt = now
	payee.UpdatedAt = now

	l.transfers = append(l.transfers, models.Transfer{
		ID:        int64(len(l.transfers) + 1),
		From:      from,
		To:        to,
		Amount:    amount,
		CreatedAt: now,
	})
	return nil
}

// BalanceOf returns the balance of address; unknown accounts hold zero
func (l *Memory) BalanceOf(_ context.Context, address string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if acc, ok := l.accounts[address]; ok {
		return acc.Balance, nil
	}
	return 0, nil
}

// Transfers returns a copy of the transfer journal
func (l *Memory) Transfers() []models.Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Transfer, len(l.transfers))
	copy(out, l.transfers)
	return out
}

func (l *Memory) account(address string) *models.Account {
	acc, ok := l.accounts[address]
	if !ok {
		now := l.clock()
		acc = &models.Account{Address: address, CreatedAt: now, UpdatedAt: now}
		l.accounts[address] = acc
	}
	return acc
}
