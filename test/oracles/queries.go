// Package oracles holds SQL invariant checks run repeatedly during the stress
// test. Each query must return zero rows on a healthy database; any row is a
// counterexample.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_unique_active_claim",
			SQL: `SELECT vault_id, COUNT(*) FROM claims
                  WHERE status IN ('submitted','challenged')
                  GROUP BY vault_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_no_negative_balance",
			SQL:  `SELECT address, balance FROM token_balances WHERE balance < 0`,
		},
		{
			Name: "O3_refund_requires_resolution",
			SQL: `SELECT b.claim_id, b.disputer FROM dispute_bonds b
                  WHERE b.refunded_at IS NOT NULL
                    AND NOT EXISTS (SELECT 1 FROM resolutions r WHERE r.claim_id = b.claim_id)`,
		},
		{
			Name: "O4_resolution_requires_challenge",
			SQL: `SELECT r.claim_id FROM resolutions r
                  JOIN claims c ON c.id = r.claim_id
                  WHERE c.challenged_at IS NULL OR r.resolved_at < c.challenged_at`,
		},
		{
			Name: "O5_timeline_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT claim_id, seq,
                             LAG(seq) OVER (PARTITION BY claim_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O6_challenged_claims_timestamped",
			SQL:  `SELECT id FROM claims WHERE status = 'challenged' AND challenged_at IS NULL`,
		},
		{
			Name: "O7_court_challenge_within_window",
			SQL: `SELECT rc.claim_id FROM resolution_challenges rc
                  JOIN resolutions r ON r.claim_id = rc.claim_id
                  WHERE rc.challenged_at >= r.resolved_at + interval '3 days'`,
		},
		{
			Name: "O8_challenge_threshold_respected",
			SQL: `SELECT c.id, SUM(b.amount) FROM claims c
                  JOIN dispute_bonds b ON b.claim_id = c.id
                  WHERE c.status = 'submitted'
                  GROUP BY c.id
                  HAVING SUM(b.amount) >= (SELECT MAX(threshold) FROM stress_params)`,
		},
		{
			Name: "O9_no_bond_after_resolution",
			SQL: `SELECT b.claim_id, b.disputer FROM dispute_bonds b
                  JOIN resolutions r ON r.claim_id = b.claim_id
                  WHERE b.refunded_at IS NULL AND b.updated_at > r.resolved_at`,
		},
		{
			Name: "O10_outbox_not_stuck",
			SQL: `SELECT id FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
