package arbitration

import (
	"testing"
	"time"
)

func TestEvidenceWindowOpen(t *testing.T) {
	challenged := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"at challenge", challenged, true},
		{"just inside", challenged.Add(EvidenceWindow - time.Second), true},
		{"at boundary", challenged.Add(EvidenceWindow), false},
		{"well after", challenged.Add(48 * time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EvidenceWindowOpen(challenged, tc.now); got != tc.want {
				t.Errorf("EvidenceWindowOpen(%s) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestResolutionWindows(t *testing.T) {
	resolved := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		now        time.Time
		open       bool
		executable bool
	}{
		{"at resolution", resolved, true, false},
		{"just inside", resolved.Add(ResolutionChallengeWindow - time.Second), true, false},
		{"at boundary", resolved.Add(ResolutionChallengeWindow), false, true},
		{"well after", resolved.Add(10 * 24 * time.Hour), false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolutionChallengeWindowOpen(resolved, tc.now); got != tc.open {
				t.Errorf("ResolutionChallengeWindowOpen(%s) = %v, want %v", tc.now, got, tc.open)
			}
			if got := ResolutionExecutable(resolved, tc.now); got != tc.executable {
				t.Errorf("ResolutionExecutable(%s) = %v, want %v", tc.now, got, tc.executable)
			}
		})
	}
}
