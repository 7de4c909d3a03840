package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/afyatrack/afyatrack-api/internal/access"
	"github.com/afyatrack/afyatrack-api/internal/middleware"
	"github.com/afyatrack/afyatrack-api/internal/model"
	"github.com/afyatrack/afyatrack-api/internal/repository"
	"github.com/afyatrack/afyatrack-api/pkg/pagination"
)

// PatientStore is the patient persistence the record handlers need.
type PatientStore interface {
	Create(ctx context.Context, p *model.Patient) error
	GetByID(ctx context.Context, id uint64) (*model.Patient, error)
	Update(ctx context.Context, p *model.Patient) error
	List(ctx context.Context, f repository.PatientFilter) ([]model.Patient, int64, error)
	Ownership(ctx context.Context, patientID uint64) (repository.Ownership, error)
	Stats(ctx context.Context, scope repository.Scope, now time.Time) (repository.PatientStats, error)
}

// PatientHandler serves /v1/patients.
type PatientHandler struct {
	patients PatientStore
	policy   *access.Policy
	now      func() time.Time
}

func NewPatientHandler(patients PatientStore, policy *access.Policy) *PatientHandler {
	return &PatientHandler{patients: patients, policy: policy, now: func() time.Time { return time.Now().UTC() }}
}

type patientReq struct {
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	DateOfBirth string  `json:"date_of_birth"` // YYYY-MM-DD
	Gender      string  `json:"gender"`
	Phone       string  `json:"phone"`
	Address     string  `json:"address"`
	NationalID  *string `json:"national_id"`
	FacilityID  *uint64 `json:"facility_id"` // honoured for admins only
}

type patientResp struct {
	model.Patient
	Age               int      `json:"age"`
	TreatingDoctorIDs []uint64 `json:"treating_doctor_ids,omitempty"`
}

// apply validates req and copies it onto p. It returns a client message on
// failure.
func (req patientReq) apply(p *model.Patient, now time.Time) string {
	first, last := strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)
	if first == "" || last == "" {
		return "first_name and last_name are required"
	}
	dob, err := time.Parse("2006-01-02", strings.TrimSpace(req.DateOfBirth))
	if err != nil {
		return "date_of_birth must be YYYY-MM-DD"
	}
	if dob.After(now) {
		return "date_of_birth is in the future"
	}
	gender := strings.ToLower(strings.TrimSpace(req.Gender))
	switch gender {
	case model.GenderMale, model.GenderFemale, model.GenderOther:
	default:
		return "gender must be male, female or other"
	}

	p.FirstName, p.LastName = first, last
	p.DateOfBirth = dob
	p.Gender = gender
	p.Phone = strings.TrimSpace(req.Phone)
	p.Address = strings.TrimSpace(req.Address)
	p.NationalID = nil
	if req.NationalID != nil {
		if n := strings.TrimSpace(*req.NationalID); n != "" {
			p.NationalID = &n
		}
	}
	return ""
}

func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// Create registers a patient owned by the caller.
func (h *PatientHandler) Create(c echo.Context) error {
	caller, _ := middleware.IdentityFrom(c)
	var req patientReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	p := model.Patient{CreatedBy: caller.UserID, FacilityID: caller.FacilityID}
	if msg := req.apply(&p, h.now()); msg != "" {
		return badRequest(c, msg)
	}
	if access.IsAdmin(caller) && req.FacilityID != nil {
		p.FacilityID = req.FacilityID
	}

	if err := h.patients.Create(c.Request().Context(), &p); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, patientResp{Patient: p, Age: p.AgeAt(h.now())})
}

// load fetches the patient in :id and checks the caller may read it.
func (h *PatientHandler) load(c echo.Context) (*model.Patient, error) {
	caller, _ := middleware.IdentityFrom(c)
	id, ok := parseID(c, "id")
	if !ok {
		return nil, badRequest(c, "invalid id")
	}
	p, err := h.patients.GetByID(c.Request().Context(), id)
	if err != nil {
		return nil, fail(c, err)
	}
	if !h.policy.CanSeePatient(c.Request().Context(), caller, p.ID, p.FacilityID) {
		return nil, forbidden(c)
	}
	return p, nil
}

// Get returns one patient together with the doctors treating them.
func (h *PatientHandler) Get(c echo.Context) error {
	p, err := h.load(c)
	if p == nil {
		return err
	}
	own, err := h.patients.Ownership(c.Request().Context(), p.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, patientResp{Patient: *p, Age: p.AgeAt(h.now()), TreatingDoctorIDs: own.TreatingDoctorIDs})
}

// Update replaces the demographic fields of a patient. Ownership is
// enforced by the route middleware.
func (h *PatientHandler) Update(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req patientReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	p, err := h.patients.GetByID(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	if msg := req.apply(p, h.now()); msg != "" {
		return badRequest(c, msg)
	}
	if err := h.patients.Update(c.Request().Context(), p); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, patientResp{Patient: *p, Age: p.AgeAt(h.now())})
}

func optInt(c echo.Context, name string) (*int, bool) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 150 {
		return nil, false
	}
	return &n, true
}

// List pages through the patients visible to the caller. Admins see all
// patients, nurses those of their facility, everyone else the patients
// they registered or treat.
func (h *PatientHandler) List(c echo.Context) error {
	caller, _ := middleware.IdentityFrom(c)
	pg := pagination.FromContext(c)

	f := repository.PatientFilter{
		Query:  c.QueryParam("q"),
		Limit:  pg.Limit,
		Offset: pg.Offset(),
		Now:    h.now(),
	}
	if g := strings.ToLower(strings.TrimSpace(c.QueryParam("gender"))); g != "" {
		switch g {
		case model.GenderMale, model.GenderFemale, model.GenderOther:
			f.Gender = g
		default:
			return badRequest(c, "invalid gender")
		}
	}
	var ok bool
	if f.MinAge, ok = optInt(c, "min_age"); !ok {
		return badRequest(c, "invalid min_age")
	}
	if f.MaxAge, ok = optInt(c, "max_age"); !ok {
		return badRequest(c, "invalid max_age")
	}
	if f.MinAge != nil && f.MaxAge != nil && *f.MinAge > *f.MaxAge {
		return badRequest(c, "min_age exceeds max_age")
	}

	if access.IsAdmin(caller) {
		if raw := c.QueryParam("facility_id"); raw != "" {
			fid, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return badRequest(c, "invalid facility_id")
			}
			f.FacilityID = &fid
		}
	} else {
		sc := visibleScope(caller)
		f.ScopeUserID, f.FacilityID = sc.UserID, sc.FacilityID
	}

	items, total, err := h.patients.List(c.Request().Context(), f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// visibleScope is the record scope of a caller: nothing for admins, the
// facility for nurses assigned to one, own records for everyone else.
func visibleScope(caller model.Identity) repository.Scope {
	switch {
	case access.IsAdmin(caller):
		return repository.Scope{}
	case caller.Role == model.RoleNurse && caller.FacilityID != nil:
		fid := *caller.FacilityID
		return repository.Scope{FacilityID: &fid}
	default:
		uid := caller.UserID
		return repository.Scope{UserID: &uid}
	}
}
