package arbitration

import "time"

// Resolution is the expert panel's verdict for a disputed claim. Written once
// by AcceptDispute and never mutated; ExecuteResolution consumes it without
// deleting it so refunds stay claimable afterwards.
type Resolution struct {
	ClaimID          string
	Beneficiary      string
	BountyPercentage int
	ResolvedAt       time.Time
}

// ResolutionChallenge records the court flagging a resolution within its
// challenge window. Its presence restricts execution to the court.
type ResolutionChallenge struct {
	ClaimID      string
	ChallengedAt time.Time
}
