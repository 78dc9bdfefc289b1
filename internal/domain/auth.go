package domain

import "time"

// ActorRole enumerates operator roles carried in access tokens.
type ActorRole string

const (
	ActorRoleOperator   ActorRole = "OPERATOR"
	ActorRoleSupervisor ActorRole = "SUPERVISOR"
	ActorRoleAdmin      ActorRole = "ADMIN"
	ActorRoleSystem     ActorRole = "SYSTEM"
)

// Actor identifies who performs a write.
type Actor struct {
	ID   string
	Role ActorRole
}

// Token represents issued access token metadata.
type Token struct {
	SubjectID string
	Role      ActorRole
	ExpiresAt time.Time
	IssuedAt  time.Time
}
