package claim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrActiveClaimExists signals a submission while another claim is still live.
	ErrActiveClaimExists = errors.New("claim: active claim already exists")
	// ErrNoActiveClaim signals that the vault has no live claim.
	ErrNoActiveClaim = errors.New("claim: no active claim")
	// ErrClaimMismatch signals that the supplied id does not match the live claim.
	ErrClaimMismatch = errors.New("claim: id does not match active claim")
)

// Store is the keyed claim repository. All mutating methods are tx-scoped so
// callers compose them with bond and token writes in a single transaction.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateParams enumerates the fields written on claim submission.
type CreateParams struct {
	ID                    string
	VaultID               string
	Beneficiary           string
	BountyPercentage      int
	CommitteeAtSubmission string
	CreatedAt             time.Time
}

const claimColumns = `id, vault_id, beneficiary, bounty_percentage, committee_at_submission, status::text, created_at, challenged_at, updated_at`

// Create inserts a new live claim. The partial unique index over live
// statuses backs the single-active-claim invariant; a violation maps to
// ErrActiveClaimExists.
func (s *Store) Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Claim, error) {
	const insertSQL = `
INSERT INTO claims (id, vault_id, beneficiary, bounty_percentage, committee_at_submission, status, created_at)
VALUES ($1, $2, $3, $4, $5, 'submitted', $6)
RETURNING ` + claimColumns

	var c Claim
	err := tx.QueryRow(ctx, insertSQL,
		params.ID,
		params.VaultID,
		params.Beneficiary,
		params.BountyPercentage,
		params.CommitteeAtSubmission,
		params.CreatedAt,
	).Scan(&c.ID, &c.VaultID, &c.Beneficiary, &c.BountyPercentage, &c.CommitteeAtSubmission, &c.Status, &c.CreatedAt, &c.ChallengedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Claim{}, ErrActiveClaimExists
		}
		return Claim{}, fmt.Errorf("claim: insert: %w", err)
	}
	return c, nil
}

// ActiveClaimForUpdate loads and row-locks the vault's live claim. Every
// mutating operation starts here so racing callers serialize on the claim row.
func (s *Store) ActiveClaimForUpdate(ctx context.Context, tx pgx.Tx, vaultID string) (Claim, error) {
	const query = `
SELECT ` + claimColumns + `
FROM claims
WHERE vault_id = $1 AND status IN ('submitted', 'challenged')
FOR UPDATE
`
	var c Claim
	err := tx.QueryRow(ctx, query, vaultID).
		Scan(&c.ID, &c.VaultID, &c.Beneficiary, &c.BountyPercentage, &c.CommitteeAtSubmission, &c.Status, &c.CreatedAt, &c.ChallengedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Claim{}, ErrNoActiveClaim
		}
		return Claim{}, fmt.Errorf("claim: load active for update: %w", err)
	}
	return c, nil
}

// GetForUpdate loads and locks a claim by id regardless of status. Re-locking
// a row already held by the same transaction is a no-op, so capability methods
// can reload the claim the engine locked.
func (s *Store) GetForUpdate(ctx context.Context, tx pgx.Tx, claimID string) (Claim, error) {
	const query = `
SELECT ` + claimColumns + `
FROM claims
WHERE id = $1
FOR UPDATE
`
	var c Claim
	err := tx.QueryRow(ctx, query, claimID).
		Scan(&c.ID, &c.VaultID, &c.Beneficiary, &c.BountyPercentage, &c.CommitteeAtSubmission, &c.Status, &c.CreatedAt, &c.ChallengedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Claim{}, ErrNoActiveClaim
		}
		return Claim{}, fmt.Errorf("claim: load by id: %w", err)
	}
	return c, nil
}

// GetActive reads the vault's live claim without locking it.
func (s *Store) GetActive(ctx context.Context, vaultID string) (Claim, error) {
	const query = `
SELECT ` + claimColumns + `
FROM claims
WHERE vault_id = $1 AND status IN ('submitted', 'challenged')
`
	var c Claim
	err := s.pool.QueryRow(ctx, query, vaultID).
		Scan(&c.ID, &c.VaultID, &c.Beneficiary, &c.BountyPercentage, &c.CommitteeAtSubmission, &c.Status, &c.CreatedAt, &c.ChallengedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Claim{}, ErrNoActiveClaim
		}
		return Claim{}, fmt.Errorf("claim: load active: %w", err)
	}
	return c, nil
}

// MarkChallenged stamps the claim as challenged.
func (s *Store) MarkChallenged(ctx context.Context, tx pgx.Tx, claimID string, at time.Time) error {
	tag, err := tx.Exec(ctx, `
UPDATE claims
SET status = 'challenged',
    challenged_at = $2,
    updated_at = get_tx_timestamp()
WHERE id = $1 AND status = 'submitted'
`, claimID, at)
	if err != nil {
		return fmt.Errorf("claim: mark challenged: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoActiveClaim
	}
	return nil
}

// Clear terminates the claim, emptying the vault's active slot. The row is
// kept under its terminal status so the timeline stays reconstructable.
func (s *Store) Clear(ctx context.Context, tx pgx.Tx, claimID string, outcome Status) error {
	if outcome != StatusApproved && outcome != StatusDismissed {
		return fmt.Errorf("claim: invalid terminal status %q", outcome)
	}
	tag, err := tx.Exec(ctx, `
UPDATE claims
SET status = $2::claim_status,
    updated_at = get_tx_timestamp()
WHERE id = $1 AND status IN ('submitted', 'challenged')
`, claimID, outcome)
	if err != nil {
		return fmt.Errorf("claim: clear: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoActiveClaim
	}
	return nil
}

// InsertTimelineEvent appends an event for the claim with the next sequence
// number inside the caller's transaction.
func InsertTimelineEvent(ctx context.Context, tx pgx.Tx, claimID, eventType, actor string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("claim: marshal timeline payload: %w", err)
	}
	var actorVal any
	if actor != "" {
		actorVal = actor
	}
	const q = `
INSERT INTO timeline_events (claim_id, seq, type, actor, payload)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4::jsonb
FROM timeline_events
WHERE claim_id = $1
`
	if _, err := tx.Exec(ctx, q, claimID, eventType, actorVal, body); err != nil {
		return fmt.Errorf("claim: insert timeline event: %w", err)
	}
	return nil
}

// EnqueueOutbox stages a message for downstream delivery inside the caller's
// transaction.
func EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("claim: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (id, topic, payload) VALUES ($1, $2, $3::jsonb)`
	if _, err := tx.Exec(ctx, q, uuid.NewString(), topic, body); err != nil {
		return fmt.Errorf("claim: enqueue outbox: %w", err)
	}
	return nil
}
