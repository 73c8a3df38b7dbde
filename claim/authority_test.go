package claim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	testVault      = "vault-1"
	testCommittee  = "0xcommittee"
	testArbitrator = "0xarbitrator"
	testGovernance = "0xgovernance"
	testHacker     = "0xhacker"
	testOutsider   = "0xoutsider"
)

var testSplit = BountySplit{Hacker: 4000, HackerVested: 4000, Committee: 1000, Governance: 1000}

type authorityFixture struct {
	authority *Authority
	repo      *fakeRepo
	tokens    *fakeTokens
	clock     time.Time
}

func newAuthorityFixture(t *testing.T) *authorityFixture {
	t.Helper()
	f := &authorityFixture{
		repo: &fakeRepo{},
		tokens: &fakeTokens{balances: map[string]int64{
			testVault: 100000,
		}},
		// Unix epoch offset chosen outside the safety phase of the 12h cycle.
		clock: time.Unix(1800000000, 0).UTC(),
	}
	authority, err := NewAuthority(&fakePool{}, f.repo, f.tokens, AuthorityConfig{
		VaultID:                testVault,
		Committee:              testCommittee,
		Arbitrator:             testArbitrator,
		Governance:             testGovernance,
		ChallengePeriod:        3 * 24 * time.Hour,
		ChallengeTimeOutPeriod: 35 * 24 * time.Hour,
		WithdrawPeriod:         11 * time.Hour,
		SafetyPeriod:           time.Hour,
		Split:                  testSplit,
	})
	if err != nil {
		t.Fatalf("build authority: %v", err)
	}
	authority.now = func() time.Time { return f.clock }
	f.authority = authority

	if f.authority.inSafetyPeriod(f.clock) {
		t.Fatal("fixture clock unexpectedly inside safety period")
	}
	return f
}

func (f *authorityFixture) submit(t *testing.T) Claim {
	t.Helper()
	c, err := f.authority.Submit(context.Background(), testCommittee, SubmitParams{
		Beneficiary:      testHacker,
		BountyPercentage: 5000,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return c
}

func TestNewAuthority_SplitMustSumToHundredPercent(t *testing.T) {
	_, err := NewAuthority(&fakePool{}, &fakeRepo{}, &fakeTokens{}, AuthorityConfig{
		VaultID:                testVault,
		Committee:              testCommittee,
		Arbitrator:             testArbitrator,
		Governance:             testGovernance,
		ChallengePeriod:        time.Hour,
		ChallengeTimeOutPeriod: time.Hour,
		Split:                  BountySplit{Hacker: 5000, HackerVested: 4000, Committee: 500, Governance: 400},
	})
	if err == nil {
		t.Fatal("expected construction to fail on bad split")
	}
}

func TestSubmit_OnlyCommittee(t *testing.T) {
	f := newAuthorityFixture(t)
	_, err := f.authority.Submit(context.Background(), testOutsider, SubmitParams{
		Beneficiary:      testHacker,
		BountyPercentage: 5000,
	})
	if !errors.Is(err, ErrNotCommittee) {
		t.Fatalf("expected ErrNotCommittee, got %v", err)
	}
}

func TestSubmit_BountyCapped(t *testing.T) {
	f := newAuthorityFixture(t)
	_, err := f.authority.Submit(context.Background(), testCommittee, SubmitParams{
		Beneficiary:      testHacker,
		BountyPercentage: MaxBountyLimit + 1,
	})
	if !errors.Is(err, ErrBountyTooHigh) {
		t.Fatalf("expected ErrBountyTooHigh, got %v", err)
	}
}

func TestSubmit_SafetyPeriod(t *testing.T) {
	f := newAuthorityFixture(t)
	// Advance into the lockout phase of the 12h cycle.
	cycle := 12 * time.Hour
	phase := time.Duration(f.clock.Unix()%int64(cycle/time.Second)) * time.Second
	f.clock = f.clock.Add(11*time.Hour + 30*time.Minute - phase)

	_, err := f.authority.Submit(context.Background(), testCommittee, SubmitParams{
		Beneficiary:      testHacker,
		BountyPercentage: 5000,
	})
	if !errors.Is(err, ErrSafetyPeriod) {
		t.Fatalf("expected ErrSafetyPeriod, got %v", err)
	}
}

func TestSubmit_SingleActiveClaim(t *testing.T) {
	f := newAuthorityFixture(t)
	f.submit(t)

	_, err := f.authority.Submit(context.Background(), testCommittee, SubmitParams{
		Beneficiary:      testHacker,
		BountyPercentage: 4000,
	})
	if !errors.Is(err, ErrActiveClaimExists) {
		t.Fatalf("expected ErrActiveClaimExists, got %v", err)
	}
}

func TestChallenge_Authorization(t *testing.T) {
	f := newAuthorityFixture(t)
	c := f.submit(t)

	if err := f.authority.Challenge(context.Background(), testOutsider, c.ID); !errors.Is(err, ErrNotArbitrator) {
		t.Fatalf("expected ErrNotArbitrator, got %v", err)
	}
	if err := f.authority.Challenge(context.Background(), testArbitrator, c.ID); err != nil {
		t.Fatalf("arbitrator challenge: %v", err)
	}
	if !f.repo.claim.Challenged() {
		t.Error("claim not marked challenged")
	}
	if err := f.authority.Challenge(context.Background(), testArbitrator, c.ID); !errors.Is(err, ErrAlreadyChallenged) {
		t.Fatalf("expected ErrAlreadyChallenged, got %v", err)
	}
}

func TestChallenge_IDMismatch(t *testing.T) {
	f := newAuthorityFixture(t)
	f.submit(t)

	err := f.authority.Challenge(context.Background(), testArbitrator, "deadbeef")
	if !errors.Is(err, ErrClaimMismatch) {
		t.Fatalf("expected ErrClaimMismatch, got %v", err)
	}
}

func TestApprove_UnchallengedPath(t *testing.T) {
	f := newAuthorityFixture(t)
	c := f.submit(t)
	ctx := context.Background()

	err := f.authority.Approve(ctx, testCommittee, c.ID)
	if !errors.Is(err, ErrChallengePeriodNotOver) {
		t.Fatalf("expected ErrChallengePeriodNotOver, got %v", err)
	}

	f.clock = f.clock.Add(3*24*time.Hour + time.Minute)
	if err := f.authority.Approve(ctx, testCommittee, c.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// 50% of the 100000 vault balance, split 40/40/10/10.
	if got := f.tokens.balances[testHacker]; got != 40000 {
		t.Errorf("beneficiary received %d, want 40000", got)
	}
	if got := f.tokens.balances[testCommittee]; got != 5000 {
		t.Errorf("committee received %d, want 5000", got)
	}
	if got := f.tokens.balances[testGovernance]; got != 5000 {
		t.Errorf("governance received %d, want 5000", got)
	}
	if got := f.tokens.balances[testVault]; got != 50000 {
		t.Errorf("vault holds %d, want 50000", got)
	}
	if f.repo.claim.Status != StatusApproved {
		t.Errorf("claim status %s, want approved", f.repo.claim.Status)
	}
}

func TestApprove_ChallengedClaimRejected(t *testing.T) {
	f := newAuthorityFixture(t)
	c := f.submit(t)
	if err := f.authority.Challenge(context.Background(), testArbitrator, c.ID); err != nil {
		t.Fatalf("challenge: %v", err)
	}

	f.clock = f.clock.Add(4 * 24 * time.Hour)
	err := f.authority.Approve(context.Background(), testCommittee, c.ID)
	if !errors.Is(err, ErrAlreadyChallenged) {
		t.Fatalf("expected ErrAlreadyChallenged, got %v", err)
	}
}

func TestApproveClaim_Capability(t *testing.T) {
	f := newAuthorityFixture(t)
	c := f.submit(t)
	ctx := context.Background()
	tx := &fakeTx{}

	// Unchallenged claims cannot settle through the arbitration path.
	err := f.authority.ApproveClaim(ctx, tx, c.ID, 4000, testHacker, f.clock)
	if !errors.Is(err, ErrClaimNotChallenged) {
		t.Fatalf("expected ErrClaimNotChallenged, got %v", err)
	}

	if err := f.authority.Challenge(ctx, testArbitrator, c.ID); err != nil {
		t.Fatalf("challenge: %v", err)
	}

	// Past the overall timeout the settlement window is gone.
	late := c.CreatedAt.Add(3*24*time.Hour + 35*24*time.Hour)
	err = f.authority.ApproveClaim(ctx, tx, c.ID, 4000, testHacker, late)
	if !errors.Is(err, ErrChallengePeriodEnded) {
		t.Fatalf("expected ErrChallengePeriodEnded, got %v", err)
	}

	if err := f.authority.ApproveClaim(ctx, tx, c.ID, 4000, testHacker, f.clock.Add(time.Hour)); err != nil {
		t.Fatalf("approve via capability: %v", err)
	}
	// 40% of the 100000 vault balance, hacker immediate + vested = 80%.
	if got := f.tokens.balances[testHacker]; got != 32000 {
		t.Errorf("beneficiary received %d, want 32000", got)
	}
	if f.repo.claim.Status != StatusApproved {
		t.Errorf("claim status %s, want approved", f.repo.claim.Status)
	}
}

func TestApproveClaim_ZeroPayoutDismisses(t *testing.T) {
	f := newAuthorityFixture(t)
	c := f.submit(t)
	ctx := context.Background()

	if err := f.authority.Challenge(ctx, testArbitrator, c.ID); err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if err := f.authority.ApproveClaim(ctx, &fakeTx{}, c.ID, 0, "", f.clock.Add(time.Hour)); err != nil {
		t.Fatalf("zero-payout approve: %v", err)
	}
	if f.repo.claim.Status != StatusDismissed {
		t.Errorf("claim status %s, want dismissed", f.repo.claim.Status)
	}
	if got := f.tokens.balances[testVault]; got != 100000 {
		t.Errorf("vault balance moved on dismissal: %d", got)
	}
}

func TestDismiss_Paths(t *testing.T) {
	f := newAuthorityFixture(t)
	c := f.submit(t)
	ctx := context.Background()

	// Unchallenged claims cannot be dismissed.
	err := f.authority.Dismiss(ctx, testArbitrator, c.ID)
	if !errors.Is(err, ErrClaimNotChallenged) {
		t.Fatalf("expected ErrClaimNotChallenged, got %v", err)
	}

	if err := f.authority.Challenge(ctx, testArbitrator, c.ID); err != nil {
		t.Fatalf("challenge: %v", err)
	}

	// Before the timeout only the arbitrator may dismiss.
	err = f.authority.Dismiss(ctx, testOutsider, c.ID)
	if !errors.Is(err, ErrNotArbitrator) {
		t.Fatalf("expected ErrNotArbitrator, got %v", err)
	}

	// After the overall timeout anyone may clear the expired claim.
	f.clock = c.CreatedAt.Add(3*24*time.Hour + 35*24*time.Hour + time.Minute)
	if err := f.authority.Dismiss(ctx, testOutsider, c.ID); err != nil {
		t.Fatalf("expired dismiss: %v", err)
	}
	if f.repo.claim.Status != StatusDismissed {
		t.Errorf("claim status %s, want dismissed", f.repo.claim.Status)
	}
}

// --- fakes ---

type fakePool struct{}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

type fakeTx struct {
	committed bool
	rolled    bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

// Exec absorbs timeline and outbox appends.
func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

type fakeRepo struct {
	claim *Claim
}

func (f *fakeRepo) Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Claim, error) {
	if f.claim != nil && (f.claim.Status == StatusSubmitted || f.claim.Status == StatusChallenged) {
		return Claim{}, ErrActiveClaimExists
	}
	c := Claim{
		ID:                    params.ID,
		VaultID:               params.VaultID,
		Beneficiary:           params.Beneficiary,
		BountyPercentage:      params.BountyPercentage,
		CommitteeAtSubmission: params.CommitteeAtSubmission,
		Status:                StatusSubmitted,
		CreatedAt:             params.CreatedAt,
	}
	f.claim = &c
	return c, nil
}

func (f *fakeRepo) ActiveClaimForUpdate(ctx context.Context, tx pgx.Tx, vaultID string) (Claim, error) {
	if f.claim == nil || f.claim.VaultID != vaultID ||
		(f.claim.Status != StatusSubmitted && f.claim.Status != StatusChallenged) {
		return Claim{}, ErrNoActiveClaim
	}
	return *f.claim, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, claimID string) (Claim, error) {
	if f.claim == nil || f.claim.ID != claimID {
		return Claim{}, ErrNoActiveClaim
	}
	return *f.claim, nil
}

func (f *fakeRepo) MarkChallenged(ctx context.Context, tx pgx.Tx, claimID string, at time.Time) error {
	if f.claim == nil || f.claim.ID != claimID || f.claim.Status != StatusSubmitted {
		return ErrNoActiveClaim
	}
	ts := at
	f.claim.Status = StatusChallenged
	f.claim.ChallengedAt = &ts
	return nil
}

func (f *fakeRepo) Clear(ctx context.Context, tx pgx.Tx, claimID string, outcome Status) error {
	if f.claim == nil || f.claim.ID != claimID {
		return ErrNoActiveClaim
	}
	f.claim.Status = outcome
	return nil
}

type fakeTokens struct {
	balances map[string]int64
}

func (f *fakeTokens) Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64) error {
	if f.balances[from] < amount {
		return errors.New("fakeTokens: insufficient balance")
	}
	f.balances[from] -= amount
	f.balances[to] += amount
	return nil
}

func (f *fakeTokens) Balance(ctx context.Context, tx pgx.Tx, address string) (int64, error) {
	return f.balances[address], nil
}
