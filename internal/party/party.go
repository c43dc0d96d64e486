// Package party tracks the identities the engine authorizes against:
// buyers, sellers, marketplace admins, and super-admins.
//
// Authentication itself (sessions, tokens) belongs to the surrounding app;
// this package only answers "who is this user ID and what may they do".
package party

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("party not found")
	ErrInvalidRole = errors.New("invalid role")
)

// Role is a party's authorization level.
type Role string

const (
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether the role carries admin privileges.
// Super-admins can do everything admins can.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Actor is a resolved marketplace identity.
type Actor struct {
	ID                 string    `json:"id"`
	DisplayName        string    `json:"displayName,omitempty"`
	Role               Role      `json:"role"`
	HasShippingAddress bool      `json:"hasShippingAddress"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Directory resolves user IDs to actors. Every mutating engine call goes
// through a Resolve.
type Directory interface {
	Resolve(ctx context.Context, id string) (*Actor, error)
}

// Store is a Directory that also supports registration and profile updates.
type Store interface {
	Directory
	Upsert(ctx context.Context, a *Actor) error
	SetShippingAddress(ctx context.Context, id string, has bool) error
}
