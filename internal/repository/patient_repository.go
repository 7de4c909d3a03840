package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/afyatrack/afyatrack-api/internal/database"
	"github.com/afyatrack/afyatrack-api/internal/model"
)

// PatientFilter enumerates the only fields a patient listing may filter
// on. Age bounds are turned into date-of-birth bounds here and always bound
// as parameters.
type PatientFilter struct {
	Query      string // matched against first/last name and phone
	Gender     string
	MinAge     *int
	MaxAge     *int
	FacilityID *uint64
	// ScopeUserID restricts results to patients the user created or has a
	// visit with. Nil means unrestricted (admins).
	ScopeUserID *uint64
	Limit       int
	Offset      int
	Now         time.Time
}

// Scope narrows a query to what a non-admin caller may see. The zero value
// is unrestricted.
type Scope struct {
	// UserID keeps patients the user created or has a visit with.
	UserID *uint64
	// FacilityID keeps patients registered at the facility.
	FacilityID *uint64
}

// Ownership describes who may treat a patient: the registering clinician
// and every doctor with a visit on the patient.
type Ownership struct {
	CreatedBy         uint64
	TreatingDoctorIDs []uint64
}

// AgeBand is one bucket of the age histogram in PatientStats.
type AgeBand struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// PatientStats aggregates the visible patient population.
type PatientStats struct {
	TotalPatients    int64            `json:"total_patients"`
	ByGender         map[string]int64 `json:"by_gender"`
	AgeBands         []AgeBand        `json:"age_bands"`
	VisitsLast30Days int64            `json:"visits_last_30_days"`
	OpenVisits       int64            `json:"open_visits"`
}

// ErrPatientExists is returned when a national id is already registered.
var ErrPatientExists = errors.New("patient already exists")

// PatientRepo encapsulates all queries on the patients table.
type PatientRepo struct {
	db *sql.DB
}

func NewPatientRepo(db *sql.DB) *PatientRepo { return &PatientRepo{db: db} }

const patientColumns = "p.id, p.facility_id, p.created_by, p.first_name, p.last_name, p.date_of_birth, p.gender, p.phone, p.address, p.national_id, p.created_at, p.updated_at"

// Create inserts a patient and sets its ID.
func (r *PatientRepo) Create(ctx context.Context, p *model.Patient) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO patients (facility_id, created_by, first_name, last_name, date_of_birth, gender, phone, address, national_id)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		nullUint(p.FacilityID), p.CreatedBy, p.FirstName, p.LastName, p.DateOfBirth, p.Gender, p.Phone, p.Address, nullStringPtr(p.NationalID))
	if err != nil {
		if database.IsDuplicateKey(err) {
			return ErrPatientExists
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	p.ID = uint64(id)
	return nil
}

// GetByID fetches a patient or returns ErrNotFound.
func (r *PatientRepo) GetByID(ctx context.Context, id uint64) (*model.Patient, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+patientColumns+" FROM patients p WHERE p.id = ?", id)
	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

// Update overwrites the editable demographic fields.
func (r *PatientRepo) Update(ctx context.Context, p *model.Patient) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE patients SET first_name=?, last_name=?, date_of_birth=?, gender=?, phone=?, address=?, national_id=?
		 WHERE id=?`,
		p.FirstName, p.LastName, p.DateOfBirth, p.Gender, p.Phone, p.Address, nullStringPtr(p.NationalID), p.ID)
	if err != nil {
		if database.IsDuplicateKey(err) {
			return ErrPatientExists
		}
		return fmt.Errorf("update patient: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := r.GetByID(ctx, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// OwnsOrTreats reports whether userID registered the patient or has any
// visit with them, in a single existence query.
func (r *PatientRepo) OwnsOrTreats(ctx context.Context, patientID, userID uint64) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM patients p
		WHERE p.id = ? AND (p.created_by = ? OR EXISTS (
			SELECT 1 FROM visits v WHERE v.patient_id = p.id AND v.doctor_id = ?)))`
	var ok bool
	if err := r.db.QueryRowContext(ctx, q, patientID, userID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("ownership lookup: %w", err)
	}
	return ok, nil
}

// Ownership returns the creator and the distinct treating doctors of a
// patient.
func (r *PatientRepo) Ownership(ctx context.Context, patientID uint64) (Ownership, error) {
	var o Ownership
	err := r.db.QueryRowContext(ctx, "SELECT created_by FROM patients WHERE id = ?", patientID).Scan(&o.CreatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Ownership{}, ErrNotFound
		}
		return Ownership{}, fmt.Errorf("ownership lookup: %w", err)
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT doctor_id FROM visits WHERE patient_id = ? ORDER BY doctor_id", patientID)
	if err != nil {
		return Ownership{}, fmt.Errorf("ownership lookup: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return Ownership{}, err
		}
		o.TreatingDoctorIDs = append(o.TreatingDoctorIDs, id)
	}
	return o, rows.Err()
}

// likeEscaper neutralises LIKE metacharacters; MySQL escapes with a
// backslash by default.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// where builds the WHERE clause for a filter. Only the enumerated filter
// fields contribute, and every value is bound as a parameter.
func (f PatientFilter) where() (string, []any) {
	now := f.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	where := []string{}
	args := []any{}

	if f.ScopeUserID != nil {
		where = append(where, "(p.created_by = ? OR EXISTS (SELECT 1 FROM visits v WHERE v.patient_id = p.id AND v.doctor_id = ?))")
		args = append(args, *f.ScopeUserID, *f.ScopeUserID)
	}
	if f.FacilityID != nil {
		where = append(where, "p.facility_id = ?")
		args = append(args, *f.FacilityID)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + likeEscaper.Replace(strings.ToLower(q)) + "%"
		where = append(where, "(LOWER(p.first_name) LIKE ? OR LOWER(p.last_name) LIKE ? OR p.phone LIKE ?)")
		args = append(args, like, like, like)
	}
	if f.Gender != "" {
		where = append(where, "p.gender = ?")
		args = append(args, f.Gender)
	}
	if f.MinAge != nil {
		// at least MinAge years old: born on or before now - MinAge years
		where = append(where, "p.date_of_birth <= ?")
		args = append(args, dateOnly(now.AddDate(-*f.MinAge, 0, 0)))
	}
	if f.MaxAge != nil {
		// at most MaxAge years old: born after now - (MaxAge+1) years
		where = append(where, "p.date_of_birth > ?")
		args = append(args, dateOnly(now.AddDate(-(*f.MaxAge + 1), 0, 0)))
	}

	if len(where) == 0 {
		return "1=1", args
	}
	return strings.Join(where, " AND "), args
}

// List returns one page of patients matching f and the total match count.
func (r *PatientRepo) List(ctx context.Context, f PatientFilter) ([]model.Patient, int64, error) {
	cond, args := f.where()

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patients p WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	dataSQL := "SELECT " + patientColumns + " FROM patients p WHERE " + cond +
		" ORDER BY p.last_name ASC, p.first_name ASC, p.id ASC LIMIT ? OFFSET ?"
	argsData := append(append([]any{}, args...), f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, dataSQL, argsData...)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	out := make([]model.Patient, 0, f.Limit)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Stats aggregates the patients and visits visible under scope.
func (r *PatientRepo) Stats(ctx context.Context, scope Scope, now time.Time) (PatientStats, error) {
	f := PatientFilter{ScopeUserID: scope.UserID, FacilityID: scope.FacilityID, Now: now}
	cond, args := f.where()

	st := PatientStats{ByGender: map[string]int64{}}

	child := dateOnly(now.AddDate(-18, 0, 0))
	adult := dateOnly(now.AddDate(-65, 0, 0))
	bandSQL := `SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN p.date_of_birth > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN p.date_of_birth <= ? AND p.date_of_birth > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN p.date_of_birth <= ? THEN 1 ELSE 0 END), 0)
		FROM patients p WHERE ` + cond
	bandArgs := append([]any{child, child, adult, adult}, args...)
	var under18, adults, seniors int64
	if err := r.db.QueryRowContext(ctx, bandSQL, bandArgs...).Scan(&st.TotalPatients, &under18, &adults, &seniors); err != nil {
		return PatientStats{}, fmt.Errorf("patient stats: %w", err)
	}
	st.AgeBands = []AgeBand{{"0-17", under18}, {"18-64", adults}, {"65+", seniors}}

	rows, err := r.db.QueryContext(ctx, "SELECT p.gender, COUNT(*) FROM patients p WHERE "+cond+" GROUP BY p.gender", args...)
	if err != nil {
		return PatientStats{}, fmt.Errorf("patient stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g string
		var n int64
		if err := rows.Scan(&g, &n); err != nil {
			return PatientStats{}, err
		}
		st.ByGender[g] = n
	}
	if err := rows.Err(); err != nil {
		return PatientStats{}, err
	}

	visitSQL := `SELECT
			COALESCE(SUM(CASE WHEN v.visit_date >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN v.status = 'open' THEN 1 ELSE 0 END), 0)
		FROM visits v`
	visitArgs := []any{now.AddDate(0, 0, -30)}
	var visitWhere []string
	if scope.UserID != nil {
		visitWhere = append(visitWhere, "v.doctor_id = ?")
		visitArgs = append(visitArgs, *scope.UserID)
	}
	if scope.FacilityID != nil {
		visitWhere = append(visitWhere, "EXISTS (SELECT 1 FROM patients p WHERE p.id = v.patient_id AND p.facility_id = ?)")
		visitArgs = append(visitArgs, *scope.FacilityID)
	}
	if len(visitWhere) > 0 {
		visitSQL += " WHERE " + strings.Join(visitWhere, " AND ")
	}
	if err := r.db.QueryRowContext(ctx, visitSQL, visitArgs...).Scan(&st.VisitsLast30Days, &st.OpenVisits); err != nil {
		return PatientStats{}, fmt.Errorf("visit stats: %w", err)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(s rowScanner) (*model.Patient, error) {
	var (
		p        model.Patient
		facility sql.NullInt64
		national sql.NullString
	)
	if err := s.Scan(&p.ID, &facility, &p.CreatedBy, &p.FirstName, &p.LastName, &p.DateOfBirth,
		&p.Gender, &p.Phone, &p.Address, &national, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.FacilityID = uintPtr(facility)
	if national.Valid {
		v := national.String
		p.NationalID = &v
	}
	return &p, nil
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func dateOnly(t time.Time) string { return t.Format("2006-01-02") }
