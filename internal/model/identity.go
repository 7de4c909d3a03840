package model

// Identity is the verified caller as decoded from an access token. It is
// transient and never persisted.
type Identity struct {
	UserID     uint64
	Email      string
	Role       Role
	FacilityID *uint64
}
