package model

import "time"

// Gender values accepted for patients.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// Facility is a clinic or hospital that users and patients belong to.
type Facility struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// Patient mirrors the `patients` table. CreatedBy is the clinician who
// registered the patient and, together with visit doctors, defines who may
// see the record.
type Patient struct {
	ID          uint64    `json:"id"`
	FacilityID  *uint64   `json:"facility_id,omitempty"`
	CreatedBy   uint64    `json:"created_by"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DateOfBirth time.Time `json:"date_of_birth"`
	Gender      string    `json:"gender"`
	Phone       string    `json:"phone"`
	Address     string    `json:"address"`
	NationalID  *string   `json:"national_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AgeAt returns the patient's age in whole years at the given time.
func (p Patient) AgeAt(now time.Time) int {
	years := now.Year() - p.DateOfBirth.Year()
	if now.Month() < p.DateOfBirth.Month() ||
		(now.Month() == p.DateOfBirth.Month() && now.Day() < p.DateOfBirth.Day()) {
		years--
	}
	return years
}
