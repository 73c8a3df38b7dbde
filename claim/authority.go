package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotCommittee signals a committee-only operation invoked by someone else.
	ErrNotCommittee = errors.New("claim: caller is not the committee")
	// ErrNotArbitrator signals an arbitrator-only operation invoked by someone else.
	ErrNotArbitrator = errors.New("claim: caller is not the arbitrator")
	// ErrBountyTooHigh signals a proposed bounty above the vault limit.
	ErrBountyTooHigh = errors.New("claim: bounty percentage exceeds limit")
	// ErrSafetyPeriod signals a submission during the recurring safety window.
	ErrSafetyPeriod = errors.New("claim: safety period in effect")
	// ErrAlreadyChallenged signals a challenge on an already-challenged claim.
	ErrAlreadyChallenged = errors.New("claim: already challenged")
	// ErrClaimNotChallenged signals a challenged-only operation on an unchallenged claim.
	ErrClaimNotChallenged = errors.New("claim: not challenged")
	// ErrChallengePeriodNotOver signals an unchallenged approval before the challenge period elapsed.
	ErrChallengePeriodNotOver = errors.New("claim: challenge period not over")
	// ErrChallengePeriodEnded signals an approval after the overall challenge timeout.
	ErrChallengePeriodEnded = errors.New("claim: challenge period ended")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repo defines the claim persistence required by the authority.
type Repo interface {
	Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Claim, error)
	ActiveClaimForUpdate(ctx context.Context, tx pgx.Tx, vaultID string) (Claim, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, claimID string) (Claim, error)
	MarkChallenged(ctx context.Context, tx pgx.Tx, claimID string, at time.Time) error
	Clear(ctx context.Context, tx pgx.Tx, claimID string, outcome Status) error
}

// TokenMover is the fungible-token capability the authority needs to pay out.
type TokenMover interface {
	Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64) error
	Balance(ctx context.Context, tx pgx.Tx, address string) (int64, error)
}

// BountySplit divides an approved payout, in basis points, between the
// hacker's immediate share, the hacker's vested share, the committee snapshot
// and governance. The four shares must sum to HundredPercent.
type BountySplit struct {
	Hacker       int
	HackerVested int
	Committee    int
	Governance   int
}

func (s BountySplit) validate() error {
	for _, v := range []int{s.Hacker, s.HackerVested, s.Committee, s.Governance} {
		if v < 0 {
			return fmt.Errorf("claim: negative bounty split share")
		}
	}
	if sum := s.Hacker + s.HackerVested + s.Committee + s.Governance; sum != HundredPercent {
		return fmt.Errorf("claim: bounty split sums to %d, want %d", sum, HundredPercent)
	}
	return nil
}

// AuthorityConfig fixes the vault's committee surface at construction.
type AuthorityConfig struct {
	VaultID                string
	Committee              string
	Arbitrator             string
	Governance             string
	ChallengePeriod        time.Duration
	ChallengeTimeOutPeriod time.Duration
	WithdrawPeriod         time.Duration
	SafetyPeriod           time.Duration
	Split                  BountySplit
}

// Authority is the committee-facing claim state machine:
// NoClaim -> Submitted -> Challenged -> {Approved, Dismissed}. Caller-facing
// methods open their own transaction; the tx-scoped capability methods
// (ChallengeClaim, ApproveClaim) compose into the arbitration engine's
// transactions.
type Authority struct {
	pool   TxBeginner
	repo   Repo
	tokens TokenMover
	cfg    AuthorityConfig
	now    func() time.Time
}

func NewAuthority(pool TxBeginner, repo Repo, tokens TokenMover, cfg AuthorityConfig) (*Authority, error) {
	if cfg.VaultID == "" {
		return nil, fmt.Errorf("claim: vault id required")
	}
	if cfg.Committee == "" || cfg.Arbitrator == "" || cfg.Governance == "" {
		return nil, fmt.Errorf("claim: committee, arbitrator and governance addresses required")
	}
	if cfg.ChallengePeriod <= 0 || cfg.ChallengeTimeOutPeriod <= 0 {
		return nil, fmt.Errorf("claim: challenge periods must be positive")
	}
	if err := cfg.Split.validate(); err != nil {
		return nil, err
	}
	return &Authority{
		pool:   pool,
		repo:   repo,
		tokens: tokens,
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// SubmitParams carries a committee claim proposal.
type SubmitParams struct {
	Beneficiary      string
	BountyPercentage int
}

// Submit opens a new claim. Committee only, one live claim per vault, bounty
// capped, rejected while the safety period is in effect.
func (a *Authority) Submit(ctx context.Context, actor string, params SubmitParams) (Claim, error) {
	if actor != a.cfg.Committee {
		return Claim{}, ErrNotCommittee
	}
	if params.Beneficiary == "" {
		return Claim{}, fmt.Errorf("claim: beneficiary required")
	}
	if params.BountyPercentage < 0 || params.BountyPercentage > MaxBountyLimit {
		return Claim{}, ErrBountyTooHigh
	}
	now := a.now()
	if a.inSafetyPeriod(now) {
		return Claim{}, ErrSafetyPeriod
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return Claim{}, fmt.Errorf("claim: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := a.repo.Create(ctx, tx, CreateParams{
		ID:                    NewID(),
		VaultID:               a.cfg.VaultID,
		Beneficiary:           params.Beneficiary,
		BountyPercentage:      params.BountyPercentage,
		CommitteeAtSubmission: actor,
		CreatedAt:             now,
	})
	if err != nil {
		return Claim{}, err
	}

	payload := map[string]any{
		"vault_id":          c.VaultID,
		"beneficiary":       c.Beneficiary,
		"bounty_percentage": c.BountyPercentage,
	}
	if err := InsertTimelineEvent(ctx, tx, c.ID, EventClaimSubmitted, actor, payload); err != nil {
		return Claim{}, err
	}
	payload["claim_id"] = c.ID
	if err := EnqueueOutbox(ctx, tx, OutboxTopicClaimSubmitted, payload); err != nil {
		return Claim{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Claim{}, fmt.Errorf("claim: commit submit: %w", err)
	}
	return c, nil
}

// Challenge flags the live claim as disputed. Callable directly by the
// arbitrator or the committee; the arbitration engine reaches the same
// transition through ChallengeClaim inside its own transaction.
func (a *Authority) Challenge(ctx context.Context, actor, claimID string) error {
	if actor != a.cfg.Arbitrator && actor != a.cfg.Committee {
		return ErrNotArbitrator
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("claim: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := a.repo.ActiveClaimForUpdate(ctx, tx, a.cfg.VaultID)
	if err != nil {
		return err
	}
	if c.ID != claimID {
		return ErrClaimMismatch
	}
	if c.Challenged() {
		return ErrAlreadyChallenged
	}

	if err := a.ChallengeClaim(ctx, tx, claimID, a.now()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("claim: commit challenge: %w", err)
	}
	return nil
}

// Approve settles an unchallenged claim with its submitted bounty once the
// challenge period has elapsed. Committee only. Challenged claims settle
// through the arbitration engine instead.
func (a *Authority) Approve(ctx context.Context, actor, claimID string) error {
	if actor != a.cfg.Committee {
		return ErrNotCommittee
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("claim: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := a.repo.ActiveClaimForUpdate(ctx, tx, a.cfg.VaultID)
	if err != nil {
		return err
	}
	if c.ID != claimID {
		return ErrClaimMismatch
	}
	if c.Challenged() {
		return ErrAlreadyChallenged
	}
	now := a.now()
	if now.Before(c.CreatedAt.Add(a.cfg.ChallengePeriod)) {
		return ErrChallengePeriodNotOver
	}

	if err := a.approveLocked(ctx, tx, c, c.BountyPercentage, c.Beneficiary, actor); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("claim: commit approve: %w", err)
	}
	return nil
}

// Dismiss clears a challenged claim with no payout. The arbitrator may
// dismiss at any point while the claim is challenged; once the overall
// challenge timeout has expired anyone may dismiss the expired claim.
func (a *Authority) Dismiss(ctx context.Context, actor, claimID string) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("claim: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := a.repo.ActiveClaimForUpdate(ctx, tx, a.cfg.VaultID)
	if err != nil {
		return err
	}
	if c.ID != claimID {
		return ErrClaimMismatch
	}
	if !c.Challenged() {
		return ErrClaimNotChallenged
	}
	if actor != a.cfg.Arbitrator {
		deadline := c.CreatedAt.Add(a.cfg.ChallengePeriod + a.cfg.ChallengeTimeOutPeriod)
		if a.now().Before(deadline) {
			return ErrNotArbitrator
		}
	}

	if err := a.dismissLocked(ctx, tx, c, actor); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("claim: commit dismiss: %w", err)
	}
	return nil
}

// ChallengeClaim is the tx-scoped arbitration capability for flagging the
// claim. The caller holds the claim row lock.
func (a *Authority) ChallengeClaim(ctx context.Context, tx pgx.Tx, claimID string, at time.Time) error {
	if err := a.repo.MarkChallenged(ctx, tx, claimID, at); err != nil {
		return err
	}
	if err := InsertTimelineEvent(ctx, tx, claimID, EventClaimChallenged, "", map[string]any{
		"challenged_at": at.UTC(),
	}); err != nil {
		return err
	}
	return EnqueueOutbox(ctx, tx, OutboxTopicClaimChallenged, map[string]any{
		"claim_id":      claimID,
		"challenged_at": at.UTC(),
	})
}

// ApproveClaim is the tx-scoped arbitration capability for settling a
// challenged claim with a resolution's beneficiary and percentage. Percentage
// zero with an empty beneficiary encodes "no payout" and dismisses instead.
// Fails once the overall challenge timeout has elapsed.
func (a *Authority) ApproveClaim(ctx context.Context, tx pgx.Tx, claimID string, bountyPercentage int, beneficiary string, at time.Time) error {
	c, err := a.repo.GetForUpdate(ctx, tx, claimID)
	if err != nil {
		return err
	}
	if !c.Challenged() {
		return ErrClaimNotChallenged
	}
	deadline := c.CreatedAt.Add(a.cfg.ChallengePeriod + a.cfg.ChallengeTimeOutPeriod)
	if !at.Before(deadline) {
		return ErrChallengePeriodEnded
	}
	if bountyPercentage == 0 && beneficiary == "" {
		return a.dismissLocked(ctx, tx, c, "")
	}
	if bountyPercentage < 0 || bountyPercentage > MaxBountyLimit {
		return ErrBountyTooHigh
	}
	return a.approveLocked(ctx, tx, c, bountyPercentage, beneficiary, "")
}

// approveLocked computes the payout split, moves vault funds and terminates
// the claim. The claim row must already be locked in tx.
func (a *Authority) approveLocked(ctx context.Context, tx pgx.Tx, c Claim, bountyPercentage int, beneficiary string, actor string) error {
	balance, err := a.tokens.Balance(ctx, tx, a.cfg.VaultID)
	if err != nil {
		return err
	}
	payout := balance * int64(bountyPercentage) / HundredPercent

	split := a.cfg.Split
	vested := payout * int64(split.HackerVested) / HundredPercent
	committee := payout * int64(split.Committee) / HundredPercent
	governance := payout * int64(split.Governance) / HundredPercent
	// Rounding dust stays with the hacker's immediate share.
	hacker := payout - vested - committee - governance

	if hacker+vested > 0 {
		if err := a.tokens.Transfer(ctx, tx, a.cfg.VaultID, beneficiary, hacker+vested); err != nil {
			return err
		}
	}
	if committee > 0 {
		if err := a.tokens.Transfer(ctx, tx, a.cfg.VaultID, c.CommitteeAtSubmission, committee); err != nil {
			return err
		}
	}
	if governance > 0 {
		if err := a.tokens.Transfer(ctx, tx, a.cfg.VaultID, a.cfg.Governance, governance); err != nil {
			return err
		}
	}

	if err := a.repo.Clear(ctx, tx, c.ID, StatusApproved); err != nil {
		return err
	}

	payload := map[string]any{
		"beneficiary":       beneficiary,
		"bounty_percentage": bountyPercentage,
		"payout_total":      payout,
		"hacker_amount":     hacker,
		"vested_amount":     vested,
		"committee_amount":  committee,
		"governance_amount": governance,
	}
	if err := InsertTimelineEvent(ctx, tx, c.ID, EventClaimApproved, actor, payload); err != nil {
		return err
	}
	payload["claim_id"] = c.ID
	return EnqueueOutbox(ctx, tx, OutboxTopicClaimApproved, payload)
}

func (a *Authority) dismissLocked(ctx context.Context, tx pgx.Tx, c Claim, actor string) error {
	if err := a.repo.Clear(ctx, tx, c.ID, StatusDismissed); err != nil {
		return err
	}
	if err := InsertTimelineEvent(ctx, tx, c.ID, EventClaimDismissed, actor, map[string]any{
		"vault_id": c.VaultID,
	}); err != nil {
		return err
	}
	return EnqueueOutbox(ctx, tx, OutboxTopicClaimDismissed, map[string]any{
		"claim_id": c.ID,
		"vault_id": c.VaultID,
	})
}

// inSafetyPeriod reports whether now falls inside the recurring window during
// which committee submissions are disabled. The cycle alternates
// WithdrawPeriod of normal operation with SafetyPeriod of lockout.
func (a *Authority) inSafetyPeriod(now time.Time) bool {
	if a.cfg.SafetyPeriod <= 0 || a.cfg.WithdrawPeriod <= 0 {
		return false
	}
	cycle := a.cfg.WithdrawPeriod + a.cfg.SafetyPeriod
	phase := time.Duration(now.Unix()%int64(cycle/time.Second)) * time.Second
	return phase >= a.cfg.WithdrawPeriod
}
