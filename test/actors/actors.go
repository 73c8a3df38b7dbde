// Package actors contains the concurrent participants of the stress run. Each
// actor hammers one service operation in a loop; outcomes listed in its benign
// set are expected under contention and ignored, anything else aborts the run.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bountyflow/arbitration"
	"bountyflow/claim"
	"bountyflow/token"
)

func benign(err error, expected ...error) bool {
	for _, e := range expected {
		if errors.Is(err, e) {
			return true
		}
	}
	return transient(err)
}

// transient reports connection-level failures caused by chaos injection.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "57") {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "conn closed") ||
		strings.Contains(err.Error(), "unexpected EOF")
}

func jitter(base, spread int) time.Duration {
	return time.Duration(base+rand.Intn(spread)) * time.Millisecond
}

// Committee repeatedly tries to open a claim on the vault. Under a live claim
// or during the safety period it just backs off.
func Committee(ctx context.Context, authority *claim.Authority, committee, beneficiary string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := authority.Submit(ctx, committee, claim.SubmitParams{
			Beneficiary:      beneficiary,
			BountyPercentage: 1000 + rand.Intn(claim.MaxBountyLimit-1000),
		})
		if err != nil && !benign(err, claim.ErrActiveClaimExists, claim.ErrSafetyPeriod) {
			return fmt.Errorf("committee submit: %w", err)
		}
		time.Sleep(jitter(20, 40))
	}
}

// Disputer races bonds against whatever claim is live. Races over the
// challenge threshold, the evidence window and its own balance are expected.
func Disputer(ctx context.Context, engine *arbitration.Engine, claims *claim.Store, vaultID, disputer string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		c, err := claims.GetActive(ctx, vaultID)
		if err != nil {
			if !benign(err, claim.ErrNoActiveClaim) {
				return fmt.Errorf("disputer read claim: %w", err)
			}
			time.Sleep(jitter(20, 40))
			continue
		}
		amount := int64(100 + rand.Intn(400))
		_, err = engine.Dispute(ctx, disputer, c.ID, fmt.Sprintf("ipfs://evidence-%d", rand.Int63()), amount)
		if err != nil && !benign(err,
			claim.ErrNoActiveClaim,
			claim.ErrClaimMismatch,
			arbitration.ErrCannotSubmitMoreEvidence,
			arbitration.ErrAlreadyResolved,
			token.ErrInsufficientBalance,
		) {
			return fmt.Errorf("disputer bond: %w", err)
		}
		time.Sleep(jitter(10, 30))
	}
}

// Resolver occasionally records an expert verdict on the challenged claim.
func Resolver(ctx context.Context, engine *arbitration.Engine, claims *claim.Store, vaultID, expert, beneficiary string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		// Low firing rate so dismissals keep the lifecycle churning.
		if rand.Intn(20) == 0 {
			if c, err := claims.GetActive(ctx, vaultID); err == nil {
				err = engine.AcceptDispute(ctx, expert, c.ID, 1000+rand.Intn(3000), beneficiary)
				if err != nil && !benign(err,
					claim.ErrNoActiveClaim,
					claim.ErrClaimMismatch,
					claim.ErrClaimNotChallenged,
					arbitration.ErrAlreadyResolved,
				) {
					return fmt.Errorf("resolver accept: %w", err)
				}
			} else if !benign(err, claim.ErrNoActiveClaim) {
				return fmt.Errorf("resolver read claim: %w", err)
			}
		}
		time.Sleep(jitter(100, 200))
	}
}

// Dismisser plays the expert committee rejecting disputes, which terminates
// the claim and frees the vault slot for the next submission.
func Dismisser(ctx context.Context, engine *arbitration.Engine, claims *claim.Store, vaultID, expert string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if c, err := claims.GetActive(ctx, vaultID); err == nil {
			err = engine.DismissDispute(ctx, expert, c.ID)
			if err != nil && !benign(err,
				claim.ErrNoActiveClaim,
				claim.ErrClaimMismatch,
				claim.ErrClaimNotChallenged,
				arbitration.ErrAlreadyResolved,
			) {
				return fmt.Errorf("dismisser: %w", err)
			}
		} else if !benign(err, claim.ErrNoActiveClaim) {
			return fmt.Errorf("dismisser read claim: %w", err)
		}
		time.Sleep(jitter(150, 300))
	}
}

// Executor keeps trying to execute whatever resolution exists. Within a stress
// run the challenge window never elapses, so ErrResolutionWindowOpen is the
// steady state; the point is racing the lock order, not completing payouts.
func Executor(ctx context.Context, engine *arbitration.Engine, claims *claim.Store, vaultID, caller string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if c, err := claims.GetActive(ctx, vaultID); err == nil {
			err = engine.ExecuteResolution(ctx, caller, c.ID)
			if err != nil && !benign(err,
				claim.ErrNoActiveClaim,
				claim.ErrClaimMismatch,
				claim.ErrClaimNotChallenged,
				claim.ErrChallengePeriodEnded,
				arbitration.ErrNoResolution,
				arbitration.ErrResolutionWindowOpen,
				arbitration.ErrNotCourt,
			) {
				return fmt.Errorf("executor: %w", err)
			}
		} else if !benign(err, claim.ErrNoActiveClaim) {
			return fmt.Errorf("executor read claim: %w", err)
		}
		time.Sleep(jitter(100, 200))
	}
}

// RefundSpammer hammers RefundBond for one disputer; only the first call after
// a resolution may move funds, every retry must come back zero.
func RefundSpammer(ctx context.Context, engine *arbitration.Engine, claims *claim.Store, vaultID, disputer string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if c, err := claims.GetActive(ctx, vaultID); err == nil {
			_, err = engine.RefundBond(ctx, disputer, c.ID)
			if err != nil && !benign(err,
				claim.ErrNoActiveClaim,
				claim.ErrClaimMismatch,
				claim.ErrClaimNotChallenged,
				arbitration.ErrNoResolution,
			) {
				return fmt.Errorf("refund spammer: %w", err)
			}
		} else if !benign(err, claim.ErrNoActiveClaim) {
			return fmt.Errorf("refund spammer read claim: %w", err)
		}
		time.Sleep(jitter(50, 100))
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, with simulated random delivery failures.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if transient(err) {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
