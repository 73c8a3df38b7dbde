// Package bond tracks dispute bond stakes per disputer and per claim.
// Amounts stay recorded after refund (refunded_at marks consumption) so claim
// totals are monotone and the escrow stays auditable.
package bond

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrBondTooSmall signals a stake below the configured minimum.
var ErrBondTooSmall = errors.New("bond: amount below minimum")

// Bond mirrors a dispute_bonds row.
type Bond struct {
	ClaimID    string
	Disputer   string
	Amount     int64
	RefundedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Ledger is the keyed bond store. All methods are tx-scoped; the arbitration
// engine composes them with claim and token writes in one transaction.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// AddBond records a stake from disputer against claimID, accumulating into
// any prior stake, and returns the claim's new bond total.
func (l *Ledger) AddBond(ctx context.Context, tx pgx.Tx, disputer, claimID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("bond: non-positive amount")
	}
	const upsertSQL = `
INSERT INTO dispute_bonds (claim_id, disputer, amount)
VALUES ($1, $2, $3)
ON CONFLICT (claim_id, disputer)
DO UPDATE SET amount = dispute_bonds.amount + EXCLUDED.amount,
              updated_at = get_tx_timestamp()
`
	if _, err := tx.Exec(ctx, upsertSQL, claimID, disputer, amount); err != nil {
		return 0, fmt.Errorf("bond: add: %w", err)
	}
	return l.ClaimTotal(ctx, tx, claimID)
}

// ClaimTotal returns the sum of all stakes recorded against the claim. The
// total never decreases; refunds are tracked by refunded_at, not subtraction.
func (l *Ledger) ClaimTotal(ctx context.Context, tx pgx.Tx, claimID string) (int64, error) {
	var total int64
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM dispute_bonds WHERE claim_id = $1`,
		claimID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("bond: claim total: %w", err)
	}
	return total, nil
}

// DisputerAmount returns the stake a single disputer has recorded, refunded
// or not.
func (l *Ledger) DisputerAmount(ctx context.Context, tx pgx.Tx, disputer, claimID string) (int64, error) {
	var amount int64
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM dispute_bonds WHERE claim_id = $1 AND disputer = $2`,
		claimID, disputer,
	).Scan(&amount)
	if err != nil {
		return 0, fmt.Errorf("bond: disputer amount: %w", err)
	}
	return amount, nil
}

// TakeRefund consumes the disputer's refundable stake and returns it. A
// second call returns zero rather than an error; the refund is a one-shot.
func (l *Ledger) TakeRefund(ctx context.Context, tx pgx.Tx, disputer, claimID string, at time.Time) (int64, error) {
	var amount int64
	err := tx.QueryRow(ctx, `
SELECT amount FROM dispute_bonds
WHERE claim_id = $1 AND disputer = $2 AND refunded_at IS NULL
FOR UPDATE
`, claimID, disputer).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("bond: load refundable: %w", err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE dispute_bonds
SET refunded_at = $3,
    updated_at = get_tx_timestamp()
WHERE claim_id = $1 AND disputer = $2
`, claimID, disputer, at); err != nil {
		return 0, fmt.Errorf("bond: mark refunded: %w", err)
	}
	return amount, nil
}

// ListByClaim returns every bond recorded against the claim.
func (l *Ledger) ListByClaim(ctx context.Context, tx pgx.Tx, claimID string) ([]Bond, error) {
	rows, err := tx.Query(ctx, `
SELECT claim_id, disputer, amount, refunded_at, created_at, updated_at
FROM dispute_bonds
WHERE claim_id = $1
ORDER BY created_at
`, claimID)
	if err != nil {
		return nil, fmt.Errorf("bond: list: %w", err)
	}
	defer rows.Close()

	out := make([]Bond, 0, 8)
	for rows.Next() {
		var b Bond
		if err := rows.Scan(&b.ClaimID, &b.Disputer, &b.Amount, &b.RefundedAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("bond: scan: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bond: iterate: %w", err)
	}
	return out, nil
}
