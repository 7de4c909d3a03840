package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/afyatrack/afyatrack-api/internal/model"
)

// VisitRepo encapsulates all queries on the visits table.
type VisitRepo struct {
	db *sql.DB
}

func NewVisitRepo(db *sql.DB) *VisitRepo { return &VisitRepo{db: db} }

const visitColumns = "id, patient_id, doctor_id, facility_id, visit_date, chief_complaint, status, subjective, objective, assessment, plan, transcript, created_at, updated_at"

// Create inserts an open visit and sets its ID.
func (r *VisitRepo) Create(ctx context.Context, v *model.Visit) error {
	if v.Status == "" {
		v.Status = model.VisitOpen
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO visits (patient_id, doctor_id, facility_id, visit_date, chief_complaint, status, subjective, objective, assessment, plan)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		v.PatientID, v.DoctorID, nullUint(v.FacilityID), v.VisitDate.UTC(), v.ChiefComplaint, v.Status,
		nullString(v.Note.Subjective), nullString(v.Note.Objective), nullString(v.Note.Assessment), nullString(v.Note.Plan))
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	v.ID = uint64(id)
	return nil
}

// GetByID fetches a visit or returns ErrNotFound.
func (r *VisitRepo) GetByID(ctx context.Context, id uint64) (*model.Visit, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+visitColumns+" FROM visits WHERE id = ?", id)
	v, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get visit: %w", err)
	}
	return v, nil
}

// ListByPatient returns a patient's visits, newest first.
func (r *VisitRepo) ListByPatient(ctx context.Context, patientID uint64, limit, offset int) ([]model.Visit, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM visits WHERE patient_id = ?", patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count visits: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+visitColumns+" FROM visits WHERE patient_id = ? ORDER BY visit_date DESC, id DESC LIMIT ? OFFSET ?",
		patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	out := make([]model.Visit, 0, limit)
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// UpdateNote replaces the SOAP note and chief complaint of an open visit.
// A completed visit yields ErrConflict.
func (r *VisitRepo) UpdateNote(ctx context.Context, id uint64, complaint string, note model.SOAPNote) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE visits SET chief_complaint=?, subjective=?, objective=?, assessment=?, plan=?
		 WHERE id=? AND status='open'`,
		complaint, nullString(note.Subjective), nullString(note.Objective), nullString(note.Assessment), nullString(note.Plan), id)
	if err != nil {
		return fmt.Errorf("update visit note: %w", err)
	}
	return r.checkOpen(ctx, res, id)
}

// SaveDraft stores a generated note together with the transcript it was
// drafted from. Same open-visit rule as UpdateNote.
func (r *VisitRepo) SaveDraft(ctx context.Context, id uint64, transcript string, note model.SOAPNote) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE visits SET transcript=?, subjective=?, objective=?, assessment=?, plan=?
		 WHERE id=? AND status='open'`,
		nullString(transcript), nullString(note.Subjective), nullString(note.Objective), nullString(note.Assessment), nullString(note.Plan), id)
	if err != nil {
		return fmt.Errorf("save visit draft: %w", err)
	}
	return r.checkOpen(ctx, res, id)
}

// Complete moves an open visit to completed. Completing twice yields
// ErrConflict.
func (r *VisitRepo) Complete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE visits SET status='completed' WHERE id=? AND status='open'", id)
	if err != nil {
		return fmt.Errorf("complete visit: %w", err)
	}
	return r.checkOpen(ctx, res, id)
}

// checkOpen turns a zero-row update into ErrNotFound or ErrConflict.
func (r *VisitRepo) checkOpen(ctx context.Context, res sql.Result, id uint64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = r.db.QueryRowContext(ctx, "SELECT status FROM visits WHERE id=?", id).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("lookup visit: %w", err)
	case status != model.VisitOpen:
		return ErrConflict
	}
	// open and unchanged
	return nil
}

// CountSince counts visits by a doctor on or after since.
func (r *VisitRepo) CountSince(ctx context.Context, doctorID uint64, since time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM visits WHERE doctor_id = ? AND visit_date >= ?", doctorID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count visits: %w", err)
	}
	return n, nil
}

func scanVisit(s rowScanner) (*model.Visit, error) {
	var (
		v                       model.Visit
		facility                sql.NullInt64
		subj, obj, assess, plan sql.NullString
		transcript              sql.NullString
	)
	if err := s.Scan(&v.ID, &v.PatientID, &v.DoctorID, &facility, &v.VisitDate, &v.ChiefComplaint, &v.Status,
		&subj, &obj, &assess, &plan, &transcript, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.FacilityID = uintPtr(facility)
	v.Note = model.SOAPNote{
		Subjective: subj.String,
		Objective:  obj.String,
		Assessment: assess.String,
		Plan:       plan.String,
	}
	v.Transcript = transcript.String
	return &v, nil
}
