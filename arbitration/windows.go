package arbitration

import "time"

const (
	// EvidenceWindow bounds how long after a challenge disputers may keep
	// submitting evidence.
	EvidenceWindow = 24 * time.Hour
	// ResolutionChallengeWindow is how long the court has to flag a
	// resolution, and how long everyone else must wait before executing it.
	ResolutionChallengeWindow = 3 * 24 * time.Hour
)

// EvidenceWindowOpen reports whether evidence may still accompany bonds on a
// claim challenged at challengedAt.
func EvidenceWindowOpen(challengedAt, now time.Time) bool {
	return now.Before(challengedAt.Add(EvidenceWindow))
}

// ResolutionChallengeWindowOpen reports whether the court may still flag a
// resolution recorded at resolvedAt.
func ResolutionChallengeWindowOpen(resolvedAt, now time.Time) bool {
	return now.Before(resolvedAt.Add(ResolutionChallengeWindow))
}

// ResolutionExecutable reports whether an unchallenged resolution recorded at
// resolvedAt may be executed by any caller.
func ResolutionExecutable(resolvedAt, now time.Time) bool {
	return !ResolutionChallengeWindowOpen(resolvedAt, now)
}
