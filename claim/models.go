package claim

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Status represents the lifecycle of a claim record.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusChallenged Status = "challenged"
	StatusApproved   Status = "approved"
	StatusDismissed  Status = "dismissed"
)

const (
	// HundredPercent is the basis-point denominator for every percentage field.
	HundredPercent = 10000
	// MaxBountyLimit caps the bounty percentage a committee may propose.
	MaxBountyLimit = 9000
)

// Claim mirrors the claims table. At most one claim per vault is live
// (submitted or challenged) at any time.
type Claim struct {
	ID                    string
	VaultID               string
	Beneficiary           string
	BountyPercentage      int
	CommitteeAtSubmission string
	Status                Status
	CreatedAt             time.Time
	ChallengedAt          *time.Time
	UpdatedAt             time.Time
}

// Challenged reports whether the claim has been flagged for dispute.
func (c Claim) Challenged() bool {
	return c.ChallengedAt != nil
}

// NewID returns a fresh opaque 32-byte claim identifier, hex encoded.
func NewID() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// Timeline event types appended on claim transitions.
const (
	EventClaimSubmitted      = "CLAIM_SUBMITTED"
	EventClaimDisputed       = "CLAIM_DISPUTED"
	EventClaimChallenged     = "CLAIM_CHALLENGED"
	EventClaimApproved       = "CLAIM_APPROVED"
	EventClaimDismissed      = "CLAIM_DISMISSED"
	EventDisputeDismissed    = "DISPUTE_DISMISSED"
	EventResolutionSet       = "RESOLUTION_SET"
	EventResolutionChallenge = "RESOLUTION_CHALLENGED"
	EventBondRefunded        = "BOND_REFUNDED"
)

// Outbox topics published alongside the timeline events.
const (
	OutboxTopicClaimSubmitted       = "claim.submitted"
	OutboxTopicClaimDisputed        = "claim.disputed"
	OutboxTopicClaimChallenged      = "claim.challenged"
	OutboxTopicClaimApproved        = "claim.approved"
	OutboxTopicClaimDismissed       = "claim.dismissed"
	OutboxTopicDisputeDismissed     = "dispute.dismissed"
	OutboxTopicResolutionSet        = "resolution.set"
	OutboxTopicResolutionChallenged = "resolution.challenged"
	OutboxTopicBondRefunded         = "bond.refunded"
)
