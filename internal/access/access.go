// Package access holds the authorization predicates. Every check fails
// closed: a missing identity or a failed lookup denies access.
package access

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/afyatrack/afyatrack-api/internal/model"
)

// ErrForbidden is returned when a predicate denies an operation.
var ErrForbidden = errors.New("forbidden")

// CanAccessRecords reports whether the role may read clinical records.
func CanAccessRecords(id model.Identity) bool {
	switch id.Role {
	case model.RoleDoctor, model.RoleNurse, model.RoleAdmin:
		return true
	}
	return false
}

// CanModifyRecords reports whether the role may create or change records.
func CanModifyRecords(id model.Identity) bool {
	return id.Role == model.RoleDoctor || id.Role == model.RoleAdmin
}

func IsAdmin(id model.Identity) bool { return id.Role == model.RoleAdmin }

// SameFacility reports whether the caller belongs to facilityID. Admins
// belong everywhere; a caller without a facility belongs nowhere.
func SameFacility(id model.Identity, facilityID uint64) bool {
	if IsAdmin(id) {
		return true
	}
	return id.FacilityID != nil && *id.FacilityID == facilityID
}

// OwnershipLookup answers whether a user created or treats a patient.
type OwnershipLookup interface {
	OwnsOrTreats(ctx context.Context, patientID, userID uint64) (bool, error)
}

// Policy evaluates the ownership predicate against storage.
type Policy struct {
	lookup OwnershipLookup
	log    zerolog.Logger
}

func NewPolicy(lookup OwnershipLookup, log zerolog.Logger) *Policy {
	return &Policy{lookup: lookup, log: log}
}

// OwnsOrTreats reports whether id may act on patientID: admins always, other
// users only if they registered the patient or have a visit with them. A
// lookup error denies.
func (p *Policy) OwnsOrTreats(ctx context.Context, id model.Identity, patientID uint64) bool {
	if IsAdmin(id) {
		return true
	}
	if id.UserID == 0 || p.lookup == nil {
		return false
	}
	ok, err := p.lookup.OwnsOrTreats(ctx, patientID, id.UserID)
	if err != nil {
		p.log.Error().Err(err).Uint64("patient_id", patientID).Uint64("user_id", id.UserID).Msg("ownership lookup failed")
		return false
	}
	return ok
}

// CanSeePatient extends OwnsOrTreats for reads: a nurse may also read
// patients registered at their own facility.
func (p *Policy) CanSeePatient(ctx context.Context, id model.Identity, patientID uint64, facilityID *uint64) bool {
	if id.Role == model.RoleNurse && facilityID != nil && SameFacility(id, *facilityID) {
		return true
	}
	return p.OwnsOrTreats(ctx, id, patientID)
}
