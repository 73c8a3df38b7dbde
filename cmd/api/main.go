package main

import (
	"context"
	"log"
	"net/http"

	"bountyflow/arbitration"
	"bountyflow/bond"
	"bountyflow/claim"
	"bountyflow/config"
	"bountyflow/db"
	"bountyflow/httpapi"
	"bountyflow/identity"
	"bountyflow/token"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	claims := claim.NewStore(pool)
	bonds := bond.NewLedger()
	tokens := token.NewLedger(pool)
	resolutions := arbitration.NewRepository()

	authority, err := claim.NewAuthority(pool, claims, tokens, claim.AuthorityConfig{
		VaultID:                cfg.VaultID,
		Committee:              cfg.CommitteeAddress,
		Arbitrator:             cfg.ArbitratorAddress,
		Governance:             cfg.GovernanceAddress,
		ChallengePeriod:        cfg.ChallengePeriod,
		ChallengeTimeOutPeriod: cfg.ChallengeTimeOutPeriod,
		WithdrawPeriod:         cfg.WithdrawPeriod,
		SafetyPeriod:           cfg.SafetyPeriod,
		Split: claim.BountySplit{
			Hacker:       cfg.SplitHacker,
			HackerVested: cfg.SplitHackerVested,
			Committee:    cfg.SplitCommittee,
			Governance:   cfg.SplitGovernance,
		},
	})
	if err != nil {
		log.Fatalf("build claim authority: %v", err)
	}

	engine, err := arbitration.NewEngine(pool, claims, authority, bonds, resolutions, tokens, arbitration.Config{
		VaultID:                   cfg.VaultID,
		ExpertCommittee:           cfg.ExpertCommittee,
		Court:                     cfg.CourtAddress,
		EscrowAddress:             cfg.EscrowAddress,
		BondsNeededToStartDispute: cfg.BondsNeededToStartDispute,
		MinBondAmount:             cfg.MinBondAmount,
	})
	if err != nil {
		log.Fatalf("build arbitration engine: %v", err)
	}

	identitySvc := identity.NewService(identity.NewRepository(pool), cfg.JWTSecret)
	handler := httpapi.NewHandler(identitySvc, authority, engine, claims, bonds, pool, cfg.VaultID)

	log.Printf("listening on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, handler.Routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
