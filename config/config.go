// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration surface.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	JWTSecret   string `env:"JWT_SECRET,required"`

	VaultID           string `env:"VAULT_ID,required"`
	CommitteeAddress  string `env:"COMMITTEE_ADDRESS,required"`
	ArbitratorAddress string `env:"ARBITRATOR_ADDRESS,required"`
	GovernanceAddress string `env:"GOVERNANCE_ADDRESS,required"`
	ExpertCommittee   string `env:"EXPERT_COMMITTEE_ADDRESS,required"`
	CourtAddress      string `env:"COURT_ADDRESS,required"`
	EscrowAddress     string `env:"ESCROW_ADDRESS" envDefault:"arbitration:escrow"`

	ChallengePeriod        time.Duration `env:"CHALLENGE_PERIOD" envDefault:"72h"`
	ChallengeTimeOutPeriod time.Duration `env:"CHALLENGE_TIMEOUT_PERIOD" envDefault:"840h"`
	WithdrawPeriod         time.Duration `env:"WITHDRAW_PERIOD" envDefault:"11h"`
	SafetyPeriod           time.Duration `env:"SAFETY_PERIOD" envDefault:"1h"`

	MinBondAmount             int64 `env:"MIN_BOND_AMOUNT" envDefault:"100"`
	BondsNeededToStartDispute int64 `env:"BONDS_NEEDED_TO_START_DISPUTE" envDefault:"1000"`

	SplitHacker       int `env:"SPLIT_HACKER_BPS" envDefault:"4000"`
	SplitHackerVested int `env:"SPLIT_HACKER_VESTED_BPS" envDefault:"4000"`
	SplitCommittee    int `env:"SPLIT_COMMITTEE_BPS" envDefault:"1000"`
	SplitGovernance   int `env:"SPLIT_GOVERNANCE_BPS" envDefault:"1000"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, nil
}
