// Package token holds the bond-token balances moved by the arbitration escrow
// and the vault payouts. Balance rows are the shared mutable resource; each
// transfer locks both rows inside the caller's transaction, and the non-negative
// balance check makes an overdraw fail the whole operation.
package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInsufficientBalance signals a transfer larger than the sender's balance.
var ErrInsufficientBalance = errors.New("token: insufficient balance")

type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Transfer moves amount from one address to another inside tx. Rows are
// locked in address order so concurrent transfers cannot deadlock.
func (l *Ledger) Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("token: negative amount")
	}
	if amount == 0 || from == to {
		return nil
	}

	first, second := from, to
	if second < first {
		first, second = second, first
	}
	for _, addr := range []string{first, second} {
		if _, err := tx.Exec(ctx, `
INSERT INTO token_balances (address) VALUES ($1)
ON CONFLICT (address) DO NOTHING
`, addr); err != nil {
			return fmt.Errorf("token: ensure balance row: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`SELECT balance FROM token_balances WHERE address = $1 FOR UPDATE`, addr); err != nil {
			return fmt.Errorf("token: lock balance row: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
UPDATE token_balances
SET balance = balance - $2,
    updated_at = get_tx_timestamp()
WHERE address = $1 AND balance >= $2
`, from, amount)
	if err != nil {
		return fmt.Errorf("token: debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx, `
UPDATE token_balances
SET balance = balance + $2,
    updated_at = get_tx_timestamp()
WHERE address = $1
`, to, amount); err != nil {
		return fmt.Errorf("token: credit %s: %w", to, err)
	}
	return nil
}

// Balance returns the address's current balance inside tx.
func (l *Ledger) Balance(ctx context.Context, tx pgx.Tx, address string) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx,
		`SELECT COALESCE((SELECT balance FROM token_balances WHERE address = $1), 0)`,
		address,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("token: balance: %w", err)
	}
	return balance, nil
}

// Mint credits an address outside any caller transaction. Used for seeding
// vault and disputer balances.
func (l *Ledger) Mint(ctx context.Context, address string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("token: negative amount")
	}
	_, err := l.pool.Exec(ctx, `
INSERT INTO token_balances (address, balance) VALUES ($1, $2)
ON CONFLICT (address)
DO UPDATE SET balance = token_balances.balance + EXCLUDED.balance,
              updated_at = get_tx_timestamp()
`, address, amount)
	if err != nil {
		return fmt.Errorf("token: mint: %w", err)
	}
	return nil
}
