package arbitration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrAlreadyResolved signals a second verdict for a resolved claim.
	ErrAlreadyResolved = errors.New("arbitration: dispute already resolved")
	// ErrNoResolution signals an operation that requires a recorded resolution.
	ErrNoResolution = errors.New("arbitration: no resolution")
	// ErrResolutionAlreadyChallenged signals a second court challenge.
	ErrResolutionAlreadyChallenged = errors.New("arbitration: resolution already challenged")
)

// Repository persists resolutions and their court challenges.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// InsertResolution records the verdict. The primary key makes a second
// insert fail with ErrAlreadyResolved; a resolution is immutable once set.
func (r *Repository) InsertResolution(ctx context.Context, tx pgx.Tx, res Resolution) error {
	_, err := tx.Exec(ctx, `
INSERT INTO resolutions (claim_id, beneficiary, bounty_percentage, resolved_at)
VALUES ($1, $2, $3, $4)
`, res.ClaimID, res.Beneficiary, res.BountyPercentage, res.ResolvedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyResolved
		}
		return fmt.Errorf("arbitration: insert resolution: %w", err)
	}
	return nil
}

// GetResolution loads the claim's verdict or ErrNoResolution.
func (r *Repository) GetResolution(ctx context.Context, tx pgx.Tx, claimID string) (Resolution, error) {
	var res Resolution
	err := tx.QueryRow(ctx, `
SELECT claim_id, beneficiary, bounty_percentage, resolved_at
FROM resolutions
WHERE claim_id = $1
`, claimID).Scan(&res.ClaimID, &res.Beneficiary, &res.BountyPercentage, &res.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resolution{}, ErrNoResolution
		}
		return Resolution{}, fmt.Errorf("arbitration: load resolution: %w", err)
	}
	return res, nil
}

// InsertChallenge records the court flagging the resolution.
func (r *Repository) InsertChallenge(ctx context.Context, tx pgx.Tx, claimID string, at time.Time) error {
	_, err := tx.Exec(ctx, `
INSERT INTO resolution_challenges (claim_id, challenged_at)
VALUES ($1, $2)
`, claimID, at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrResolutionAlreadyChallenged
		}
		return fmt.Errorf("arbitration: insert resolution challenge: %w", err)
	}
	return nil
}

// GetChallenge returns the court challenge if one was recorded, nil otherwise.
func (r *Repository) GetChallenge(ctx context.Context, tx pgx.Tx, claimID string) (*ResolutionChallenge, error) {
	var ch ResolutionChallenge
	err := tx.QueryRow(ctx, `
SELECT claim_id, challenged_at
FROM resolution_challenges
WHERE claim_id = $1
`, claimID).Scan(&ch.ClaimID, &ch.ChallengedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("arbitration: load resolution challenge: %w", err)
	}
	return &ch, nil
}
