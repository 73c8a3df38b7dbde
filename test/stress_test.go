package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"bountyflow/arbitration"
	"bountyflow/bond"
	"bountyflow/claim"
	"bountyflow/test/actors"
	"bountyflow/test/chaos"
	"bountyflow/test/infra"
	"bountyflow/test/oracles"
	"bountyflow/token"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent disputers")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

const (
	stressVault      = "vault-stress"
	stressCommittee  = "0xcommittee"
	stressArbitrator = "0xarbitrator"
	stressGovernance = "0xgovernance"
	stressExpert     = "0xexpert"
	stressCourt      = "0xcourt"
	stressEscrow     = "0xescrow"
	stressHacker     = "0xhacker"

	vaultFunds     = int64(1_000_000)
	disputerFunds  = int64(50_000)
	bondsThreshold = int64(1_000)
)

func TestClaimLifecycleConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	claims := claim.NewStore(pool)
	bonds := bond.NewLedger()
	tokens := token.NewLedger(pool)
	resolutions := arbitration.NewRepository()

	authority, err := claim.NewAuthority(pool, claims, tokens, claim.AuthorityConfig{
		VaultID:                stressVault,
		Committee:              stressCommittee,
		Arbitrator:             stressArbitrator,
		Governance:             stressGovernance,
		ChallengePeriod:        3 * 24 * time.Hour,
		ChallengeTimeOutPeriod: 35 * 24 * time.Hour,
		// Near-zero lockout so submissions keep flowing during the run.
		WithdrawPeriod: time.Hour - time.Second,
		SafetyPeriod:   time.Second,
		Split:          claim.BountySplit{Hacker: 4000, HackerVested: 4000, Committee: 1000, Governance: 1000},
	})
	if err != nil {
		t.Fatalf("build authority: %v", err)
	}

	engine, err := arbitration.NewEngine(pool, claims, authority, bonds, resolutions, tokens, arbitration.Config{
		VaultID:                   stressVault,
		ExpertCommittee:           stressExpert,
		Court:                     stressCourt,
		EscrowAddress:             stressEscrow,
		BondsNeededToStartDispute: bondsThreshold,
		MinBondAmount:             100,
	})
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	totalSupply := mustSeed(t, ctx, pool, tokens, *flConcurrency)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	g.Go(func() error {
		return actors.Committee(ctx2, authority, stressCommittee, stressHacker, stop)
	})
	for i := 0; i < *flConcurrency; i++ {
		disputer := fmt.Sprintf("0xdisputer-%d", i)
		g.Go(func() error {
			return actors.Disputer(ctx2, engine, claims, stressVault, disputer, stop)
		})
		g.Go(func() error {
			return actors.RefundSpammer(ctx2, engine, claims, stressVault, disputer, stop)
		})
	}
	g.Go(func() error {
		return actors.Resolver(ctx2, engine, claims, stressVault, stressExpert, stressHacker, stop)
	})
	g.Go(func() error {
		return actors.Dismisser(ctx2, engine, claims, stressVault, stressExpert, stop)
	})
	g.Go(func() error {
		return actors.Executor(ctx2, engine, claims, stressVault, "0xanyone", stop)
	})
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
			if err := checkConservation(ctx2, pool, totalSupply); err != nil {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("%v (seed=%d)", err, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

// mustSeed funds the vault and the disputers and records the run parameters
// the oracles read. Returns the total minted supply.
func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, tokens *token.Ledger, disputers int) int64 {
	t.Helper()

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS stress_params (threshold bigint NOT NULL)`); err != nil {
		t.Fatalf("create stress_params: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO stress_params (threshold) VALUES ($1)`, bondsThreshold); err != nil {
		t.Fatalf("seed stress_params: %v", err)
	}

	if err := tokens.Mint(ctx, stressVault, vaultFunds); err != nil {
		t.Fatalf("fund vault: %v", err)
	}
	total := vaultFunds
	for i := 0; i < disputers; i++ {
		addr := fmt.Sprintf("0xdisputer-%d", i)
		if err := tokens.Mint(ctx, addr, disputerFunds); err != nil {
			t.Fatalf("fund %s: %v", addr, err)
		}
		total += disputerFunds
	}
	return total
}

// checkConservation asserts that tokens only move, never appear or vanish.
func checkConservation(ctx context.Context, pool *pgxpool.Pool, want int64) error {
	var sum int64
	if err := pool.QueryRow(ctx, `SELECT COALESCE(SUM(balance),0) FROM token_balances`).Scan(&sum); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("sum balances: %w", err)
	}
	if sum != want {
		return fmt.Errorf("token supply changed: have %d, want %d", sum, want)
	}
	return nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"claims", `SELECT id, vault_id, status, bounty_percentage, created_at, challenged_at FROM claims ORDER BY created_at DESC LIMIT 20`},
		{"dispute_bonds", `SELECT claim_id, disputer, amount, refunded_at FROM dispute_bonds ORDER BY updated_at DESC LIMIT 50`},
		{"resolutions", `SELECT claim_id, beneficiary, bounty_percentage, resolved_at FROM resolutions ORDER BY resolved_at DESC LIMIT 20`},
		{"timeline_events", `SELECT id, claim_id, seq, type, ts FROM timeline_events ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
