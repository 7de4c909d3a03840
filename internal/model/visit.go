package model

import "time"

// Visit statuses.
const (
	VisitOpen      = "open"
	VisitCompleted = "completed"
)

// SOAPNote is the four-section clinical note attached to a visit.
type SOAPNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// Complete reports whether every section has content.
func (n SOAPNote) Complete() bool {
	return n.Subjective != "" && n.Objective != "" && n.Assessment != "" && n.Plan != ""
}

// Visit mirrors the `visits` table: one encounter between a doctor and a
// patient, carrying its SOAP note.
type Visit struct {
	ID             uint64    `json:"id"`
	PatientID      uint64    `json:"patient_id"`
	DoctorID       uint64    `json:"doctor_id"`
	FacilityID     *uint64   `json:"facility_id,omitempty"`
	VisitDate      time.Time `json:"visit_date"`
	ChiefComplaint string    `json:"chief_complaint"`
	Status         string    `json:"status"`
	Note           SOAPNote  `json:"note"`
	Transcript     string    `json:"transcript,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
