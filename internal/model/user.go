package model

import "time"

// Role is one of the closed set of user roles.
type Role string

const (
	RoleDoctor       Role = "doctor"
	RoleNurse        Role = "nurse"
	RoleAdmin        Role = "admin"
	RoleReceptionist Role = "receptionist"
)

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RoleNurse, RoleAdmin, RoleReceptionist:
		return true
	}
	return false
}

// User represents an application user record as stored in the `users`
// table. Users are never hard-deleted; IsActive is cleared instead.
type User struct {
	ID           uint64     // users.id
	Email        string     // users.email (unique, lower-cased)
	PasswordHash string     // users.password_hash (bcrypt)
	FirstName    string     // users.first_name
	LastName     string     // users.last_name
	Role         Role       // users.role
	FacilityID   *uint64    // users.facility_id (nullable)
	IsActive     bool       // users.is_active
	LastLoginAt  *time.Time // users.last_login_at (nullable)
	CreatedAt    time.Time  // users.created_at
	UpdatedAt    time.Time  // users.updated_at
}

// Identity returns the claims an access token carries for this user.
func (u User) Identity() Identity {
	return Identity{
		UserID:     u.ID,
		Email:      u.Email,
		Role:       u.Role,
		FacilityID: u.FacilityID,
	}
}

// RefreshToken models an entry in the `refresh_tokens` table. The raw token
// is never stored, only its SHA-256 hex digest.
//
// A row is usable iff !Revoked and now < ExpiresAt. Rows move from active to
// revoked (terminal) or silently expire; they are only deleted by the sweep.
type RefreshToken struct {
	ID          uint64     // refresh_tokens.id
	UserID      uint64     // refresh_tokens.user_id
	TokenHash   string     // refresh_tokens.token_hash
	ExpiresAt   time.Time  // refresh_tokens.expires_at
	Revoked     bool       // refresh_tokens.revoked
	RevokedAt   *time.Time // refresh_tokens.revoked_at (nullable)
	RevokedByIP string     // refresh_tokens.revoked_by_ip
	CreatedByIP string     // refresh_tokens.created_by_ip
	CreatedAt   time.Time  // refresh_tokens.created_at
}

// Usable reports whether the token may still be exchanged at time now.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
