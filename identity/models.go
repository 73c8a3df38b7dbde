package identity

import "time"

type Role string

const (
	RoleCommittee       Role = "committee"
	RoleExpertCommittee Role = "expert_committee"
	RoleCourt           Role = "court"
	RoleDisputer        Role = "disputer"
	RoleGovernance      Role = "governance"
)

// Actor is the domain representation of a registered protocol participant.
// It mirrors the actors table and carries no JSON annotations so it can be
// reused by different presentation layers.
type Actor struct {
	ID           string
	Address      string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains actor registration data supplied by callers.
type RegisterRequest struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// LoginRequest contains actor login credentials.
type LoginRequest struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}
