package models

import "time"

// Account is a settlement ledger account keyed by wallet address
type Account struct {
	Address   string    `json:"address"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transfer is a ledger movement between two accounts
type Transfer struct {
	ID        int64     `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}
