// Package arbitration runs the dispute side of the claim lifecycle: bond
// accumulation, expert-panel resolution, the court's resolution-challenge
// window, and final execution against the vault's claim authority.
package arbitration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"bountyflow/bond"
	"bountyflow/claim"
)

var (
	// ErrNotExpertCommittee signals an expert-panel-only operation invoked by someone else.
	ErrNotExpertCommittee = errors.New("arbitration: caller is not the expert committee")
	// ErrNotCourt signals a court-only operation invoked by someone else.
	ErrNotCourt = errors.New("arbitration: caller is not the court")
	// ErrCannotSubmitMoreEvidence signals a dispute after the evidence window
	// closed. The bond transfer is kept; only the evidence is rejected.
	ErrCannotSubmitMoreEvidence = errors.New("arbitration: evidence window closed")
	// ErrResolutionWindowOpen signals an execution attempt before the
	// resolution-challenge window elapsed.
	ErrResolutionWindowOpen = errors.New("arbitration: resolution challenge window still open")
	// ErrResolutionWindowClosed signals a court challenge after the window.
	ErrResolutionWindowClosed = errors.New("arbitration: resolution challenge window closed")
)

// VaultReader exposes the locked claim snapshots the engine needs from the
// vault side. GetForUpdate also returns claims in terminal status, which the
// refund path relies on after execution.
type VaultReader interface {
	ActiveClaimForUpdate(ctx context.Context, tx pgx.Tx, vaultID string) (claim.Claim, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, claimID string) (claim.Claim, error)
}

// ClaimAuthority is the narrow capability the engine holds over the vault's
// claim state machine.
type ClaimAuthority interface {
	ChallengeClaim(ctx context.Context, tx pgx.Tx, claimID string, at time.Time) error
	ApproveClaim(ctx context.Context, tx pgx.Tx, claimID string, bountyPercentage int, beneficiary string, at time.Time) error
}

// BondBook is the dispute bond ledger capability.
type BondBook interface {
	AddBond(ctx context.Context, tx pgx.Tx, disputer, claimID string, amount int64) (int64, error)
	ClaimTotal(ctx context.Context, tx pgx.Tx, claimID string) (int64, error)
	TakeRefund(ctx context.Context, tx pgx.Tx, disputer, claimID string, at time.Time) (int64, error)
}

// ResolutionBook persists resolutions and court challenges.
type ResolutionBook interface {
	InsertResolution(ctx context.Context, tx pgx.Tx, res Resolution) error
	GetResolution(ctx context.Context, tx pgx.Tx, claimID string) (Resolution, error)
	InsertChallenge(ctx context.Context, tx pgx.Tx, claimID string, at time.Time) error
	GetChallenge(ctx context.Context, tx pgx.Tx, claimID string) (*ResolutionChallenge, error)
}

// TokenMover moves bond tokens in and out of escrow.
type TokenMover interface {
	Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64) error
}

// Config fixes the engine's collaborators and bond parameters at construction.
type Config struct {
	VaultID                   string
	ExpertCommittee           string
	Court                     string
	EscrowAddress             string
	BondsNeededToStartDispute int64
	MinBondAmount             int64
}

// Engine orchestrates dispute bonding and resolution. Every operation is one
// transaction that locks the claim row before checking preconditions, so
// racing callers settle on first-committed-wins and late callers fail fast.
type Engine struct {
	pool        claim.TxBeginner
	vault       VaultReader
	authority   ClaimAuthority
	bonds       BondBook
	resolutions ResolutionBook
	tokens      TokenMover
	cfg         Config
	now         func() time.Time
}

func NewEngine(pool claim.TxBeginner, vault VaultReader, authority ClaimAuthority, bonds BondBook, resolutions ResolutionBook, tokens TokenMover, cfg Config) (*Engine, error) {
	if cfg.VaultID == "" {
		return nil, fmt.Errorf("arbitration: vault id required")
	}
	if cfg.ExpertCommittee == "" || cfg.Court == "" || cfg.EscrowAddress == "" {
		return nil, fmt.Errorf("arbitration: expert committee, court and escrow addresses required")
	}
	if cfg.MinBondAmount <= 0 {
		return nil, fmt.Errorf("arbitration: min bond must be positive")
	}
	if cfg.MinBondAmount > cfg.BondsNeededToStartDispute {
		return nil, fmt.Errorf("arbitration: min bond %d exceeds bonds needed %d", cfg.MinBondAmount, cfg.BondsNeededToStartDispute)
	}
	return &Engine{
		pool:        pool,
		vault:       vault,
		authority:   authority,
		bonds:       bonds,
		resolutions: resolutions,
		tokens:      tokens,
		cfg:         cfg,
		now:         time.Now,
	}, nil
}

// Dispute stakes a bond against the active claim. The transfer into escrow
// and the bond record always commit; when the claim was already challenged
// more than EvidenceWindow ago, the evidence is rejected afterwards with
// ErrCannotSubmitMoreEvidence but the bonds stay. The first bond that lifts
// the claim total to BondsNeededToStartDispute challenges the claim, exactly
// once. Bonding closes entirely once a resolution is recorded: refunds settle
// against the bond set as it stood at resolution time, so a later bond would
// have no refund path. Returns the claim's new bond total.
func (e *Engine) Dispute(ctx context.Context, disputer, claimID, evidenceRef string, amount int64) (int64, error) {
	if amount < e.cfg.MinBondAmount {
		return 0, bond.ErrBondTooSmall
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("arbitration: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := e.vault.ActiveClaimForUpdate(ctx, tx, e.cfg.VaultID)
	if err != nil {
		return 0, err
	}
	if c.ID != claimID {
		return 0, claim.ErrClaimMismatch
	}
	if _, err := e.resolutions.GetResolution(ctx, tx, claimID); err == nil {
		return 0, ErrAlreadyResolved
	} else if !errors.Is(err, ErrNoResolution) {
		return 0, err
	}

	now := e.now()
	if err := e.tokens.Transfer(ctx, tx, disputer, e.cfg.EscrowAddress, amount); err != nil {
		return 0, err
	}
	total, err := e.bonds.AddBond(ctx, tx, disputer, claimID, amount)
	if err != nil {
		return 0, err
	}

	evidenceRejected := c.Challenged() && !EvidenceWindowOpen(*c.ChallengedAt, now)

	if !c.Challenged() && total >= e.cfg.BondsNeededToStartDispute {
		if err := e.authority.ChallengeClaim(ctx, tx, claimID, now); err != nil {
			return 0, err
		}
	}

	if !evidenceRejected {
		payload := map[string]any{
			"disputer":     disputer,
			"evidence_ref": evidenceRef,
			"amount":       amount,
			"bond_total":   total,
		}
		if err := claim.InsertTimelineEvent(ctx, tx, claimID, claim.EventClaimDisputed, disputer, payload); err != nil {
			return 0, err
		}
		payload["claim_id"] = claimID
		if err := claim.EnqueueOutbox(ctx, tx, claim.OutboxTopicClaimDisputed, payload); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("arbitration: commit dispute: %w", err)
	}
	if evidenceRejected {
		return total, ErrCannotSubmitMoreEvidence
	}
	return total, nil
}

// DismissDispute throws out the dispute before any resolution is recorded.
// Expert committee only. The full escrowed bond total is refunded to the
// expert committee caller, not to the individual disputers, and the claim is
// settled through the zero-payout approval path.
func (e *Engine) DismissDispute(ctx context.Context, caller, claimID string) error {
	if caller != e.cfg.ExpertCommittee {
		return ErrNotExpertCommittee
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("arbitration: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := e.lockChallengedClaim(ctx, tx, claimID)
	if err != nil {
		return err
	}
	if _, err := e.resolutions.GetResolution(ctx, tx, claimID); err == nil {
		return ErrAlreadyResolved
	} else if !errors.Is(err, ErrNoResolution) {
		return err
	}

	total, err := e.bonds.ClaimTotal(ctx, tx, claimID)
	if err != nil {
		return err
	}
	if total > 0 {
		if err := e.tokens.Transfer(ctx, tx, e.cfg.EscrowAddress, caller, total); err != nil {
			return err
		}
	}

	if err := e.authority.ApproveClaim(ctx, tx, claimID, 0, "", e.now()); err != nil {
		return err
	}

	payload := map[string]any{
		"refunded_to": caller,
		"bond_total":  total,
	}
	if err := claim.InsertTimelineEvent(ctx, tx, claimID, claim.EventDisputeDismissed, caller, payload); err != nil {
		return err
	}
	payload["claim_id"] = c.ID
	if err := claim.EnqueueOutbox(ctx, tx, claim.OutboxTopicDisputeDismissed, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("arbitration: commit dismiss dispute: %w", err)
	}
	return nil
}

// AcceptDispute records the expert panel's verdict. Expert committee only, at
// most once per claim. State and funds are untouched until execution.
func (e *Engine) AcceptDispute(ctx context.Context, caller, claimID string, bountyPercentage int, beneficiary string) error {
	if caller != e.cfg.ExpertCommittee {
		return ErrNotExpertCommittee
	}
	if beneficiary == "" {
		return fmt.Errorf("arbitration: beneficiary required")
	}
	if bountyPercentage < 0 || bountyPercentage > claim.MaxBountyLimit {
		return claim.ErrBountyTooHigh
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("arbitration: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := e.lockChallengedClaim(ctx, tx, claimID); err != nil {
		return err
	}

	now := e.now()
	if err := e.resolutions.InsertResolution(ctx, tx, Resolution{
		ClaimID:          claimID,
		Beneficiary:      beneficiary,
		BountyPercentage: bountyPercentage,
		ResolvedAt:       now,
	}); err != nil {
		return err
	}

	payload := map[string]any{
		"beneficiary":       beneficiary,
		"bounty_percentage": bountyPercentage,
		"resolved_at":       now.UTC(),
	}
	if err := claim.InsertTimelineEvent(ctx, tx, claimID, claim.EventResolutionSet, caller, payload); err != nil {
		return err
	}
	payload["claim_id"] = claimID
	if err := claim.EnqueueOutbox(ctx, tx, claim.OutboxTopicResolutionSet, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("arbitration: commit accept dispute: %w", err)
	}
	return nil
}

// RefundBond returns the caller's recorded bond once a resolution exists,
// regardless of the verdict. One-shot per disputer; a second call returns
// zero without moving funds. Works after the claim has settled.
func (e *Engine) RefundBond(ctx context.Context, caller, claimID string) (int64, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("arbitration: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Timeline seq generation requires the claim row lock every writer holds.
	if _, err := e.vault.GetForUpdate(ctx, tx, claimID); err != nil {
		return 0, err
	}
	if _, err := e.resolutions.GetResolution(ctx, tx, claimID); err != nil {
		return 0, err
	}

	amount, err := e.bonds.TakeRefund(ctx, tx, caller, claimID, e.now())
	if err != nil {
		return 0, err
	}
	if amount > 0 {
		if err := e.tokens.Transfer(ctx, tx, e.cfg.EscrowAddress, caller, amount); err != nil {
			return 0, err
		}
		payload := map[string]any{
			"disputer": caller,
			"amount":   amount,
		}
		if err := claim.InsertTimelineEvent(ctx, tx, claimID, claim.EventBondRefunded, caller, payload); err != nil {
			return 0, err
		}
		payload["claim_id"] = claimID
		if err := claim.EnqueueOutbox(ctx, tx, claim.OutboxTopicBondRefunded, payload); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("arbitration: commit refund: %w", err)
	}
	return amount, nil
}

// ExecuteResolution settles the claim with the recorded verdict. If the court
// challenged the resolution only the court may execute, with no deadline;
// otherwise anyone may execute once the challenge window has elapsed.
func (e *Engine) ExecuteResolution(ctx context.Context, caller, claimID string) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("arbitration: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := e.lockChallengedClaim(ctx, tx, claimID); err != nil {
		return err
	}
	res, err := e.resolutions.GetResolution(ctx, tx, claimID)
	if err != nil {
		return err
	}
	ch, err := e.resolutions.GetChallenge(ctx, tx, claimID)
	if err != nil {
		return err
	}

	now := e.now()
	if ch != nil {
		if caller != e.cfg.Court {
			return ErrNotCourt
		}
	} else if !ResolutionExecutable(res.ResolvedAt, now) {
		return ErrResolutionWindowOpen
	}

	if err := e.authority.ApproveClaim(ctx, tx, claimID, res.BountyPercentage, res.Beneficiary, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("arbitration: commit execute resolution: %w", err)
	}
	return nil
}

// ChallengeResolution lets the court flag a resolution within its window,
// reserving execution to the court. No stake is required.
func (e *Engine) ChallengeResolution(ctx context.Context, caller, claimID string) error {
	if caller != e.cfg.Court {
		return ErrNotCourt
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("arbitration: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := e.lockChallengedClaim(ctx, tx, claimID); err != nil {
		return err
	}
	res, err := e.resolutions.GetResolution(ctx, tx, claimID)
	if err != nil {
		return err
	}

	now := e.now()
	if !ResolutionChallengeWindowOpen(res.ResolvedAt, now) {
		return ErrResolutionWindowClosed
	}
	if err := e.resolutions.InsertChallenge(ctx, tx, claimID, now); err != nil {
		return err
	}

	payload := map[string]any{
		"challenged_at": now.UTC(),
	}
	if err := claim.InsertTimelineEvent(ctx, tx, claimID, claim.EventResolutionChallenge, caller, payload); err != nil {
		return err
	}
	payload["claim_id"] = claimID
	if err := claim.EnqueueOutbox(ctx, tx, claim.OutboxTopicResolutionChallenged, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("arbitration: commit challenge resolution: %w", err)
	}
	return nil
}

// lockChallengedClaim loads the vault's live claim under lock and checks it
// matches claimID and has been challenged.
func (e *Engine) lockChallengedClaim(ctx context.Context, tx pgx.Tx, claimID string) (claim.Claim, error) {
	c, err := e.vault.ActiveClaimForUpdate(ctx, tx, e.cfg.VaultID)
	if err != nil {
		return claim.Claim{}, err
	}
	if c.ID != claimID {
		return claim.Claim{}, claim.ErrClaimMismatch
	}
	if !c.Challenged() {
		return claim.Claim{}, claim.ErrClaimNotChallenged
	}
	return c, nil
}
