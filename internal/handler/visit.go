package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/afyatrack/afyatrack-api/internal/access"
	"github.com/afyatrack/afyatrack-api/internal/middleware"
	"github.com/afyatrack/afyatrack-api/internal/model"
	"github.com/afyatrack/afyatrack-api/internal/notes"
	"github.com/afyatrack/afyatrack-api/pkg/pagination"
)

// VisitStore is the visit persistence the record handlers need.
type VisitStore interface {
	Create(ctx context.Context, v *model.Visit) error
	GetByID(ctx context.Context, id uint64) (*model.Visit, error)
	ListByPatient(ctx context.Context, patientID uint64, limit, offset int) ([]model.Visit, int64, error)
	UpdateNote(ctx context.Context, id uint64, complaint string, note model.SOAPNote) error
	SaveDraft(ctx context.Context, id uint64, transcript string, note model.SOAPNote) error
	Complete(ctx context.Context, id uint64) error
	CountSince(ctx context.Context, doctorID uint64, since time.Time) (int64, error)
}

// VisitHandler serves visits and their SOAP notes.
type VisitHandler struct {
	visits   VisitStore
	patients PatientStore
	drafter  notes.Drafter
	policy   *access.Policy
	log      zerolog.Logger
	now      func() time.Time
}

func NewVisitHandler(visits VisitStore, patients PatientStore, drafter notes.Drafter, policy *access.Policy, log zerolog.Logger) *VisitHandler {
	return &VisitHandler{
		visits:   visits,
		patients: patients,
		drafter:  drafter,
		policy:   policy,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type noteReq struct {
	Subjective *string `json:"subjective"`
	Objective  *string `json:"objective"`
	Assessment *string `json:"assessment"`
	Plan       *string `json:"plan"`
}

// merge overwrites the sections present in req.
func (req noteReq) merge(n model.SOAPNote) model.SOAPNote {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&n.Subjective, req.Subjective)
	set(&n.Objective, req.Objective)
	set(&n.Assessment, req.Assessment)
	set(&n.Plan, req.Plan)
	return n
}

type createVisitReq struct {
	ChiefComplaint string     `json:"chief_complaint"`
	VisitDate      *time.Time `json:"visit_date"`
	Note           noteReq    `json:"note"`
}

type updateVisitReq struct {
	ChiefComplaint *string `json:"chief_complaint"`
	Note           noteReq `json:"note"`
}

type draftReq struct {
	Transcript string `json:"transcript"`
}

// Create opens a visit for the patient in :id with the caller as doctor.
// Ownership is enforced by the route middleware.
func (h *VisitHandler) Create(c echo.Context) error {
	caller, _ := middleware.IdentityFrom(c)
	patientID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req createVisitReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	complaint := strings.TrimSpace(req.ChiefComplaint)
	if complaint == "" {
		return badRequest(c, "chief_complaint is required")
	}

	p, err := h.patients.GetByID(c.Request().Context(), patientID)
	if err != nil {
		return fail(c, err)
	}
	v := model.Visit{
		PatientID:      p.ID,
		DoctorID:       caller.UserID,
		FacilityID:     p.FacilityID,
		VisitDate:      h.now(),
		ChiefComplaint: complaint,
		Status:         model.VisitOpen,
		Note:           req.Note.merge(model.SOAPNote{}),
	}
	if v.FacilityID == nil {
		v.FacilityID = caller.FacilityID
	}
	if req.VisitDate != nil {
		v.VisitDate = req.VisitDate.UTC()
	}
	if err := h.visits.Create(c.Request().Context(), &v); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

// ListByPatient pages through a patient's visits, newest first.
func (h *VisitHandler) ListByPatient(c echo.Context) error {
	caller, _ := middleware.IdentityFrom(c)
	patientID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	p, err := h.patients.GetByID(c.Request().Context(), patientID)
	if err != nil {
		return fail(c, err)
	}
	if !h.policy.CanSeePatient(c.Request().Context(), caller, p.ID, p.FacilityID) {
		return forbidden(c)
	}

	pg := pagination.FromContext(c)
	items, total, err := h.visits.ListByPatient(c.Request().Context(), p.ID, pg.Limit, pg.Offset())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// load fetches the visit in :id and applies the read or modify check to
// its patient. On failure the response has already been written and the
// returned visit is nil.
func (h *VisitHandler) load(c echo.Context, modify bool) (*model.Visit, error) {
	caller, _ := middleware.IdentityFrom(c)
	id, ok := parseID(c, "id")
	if !ok {
		return nil, badRequest(c, "invalid id")
	}
	ctx := c.Request().Context()
	v, err := h.visits.GetByID(ctx, id)
	if err != nil {
		return nil, fail(c, err)
	}
	allowed := h.policy.CanSeePatient(ctx, caller, v.PatientID, v.FacilityID)
	if modify {
		allowed = access.CanModifyRecords(caller) && h.policy.OwnsOrTreats(ctx, caller, v.PatientID)
	}
	if !allowed {
		return nil, forbidden(c)
	}
	return v, nil
}

// Get returns one visit with its note and transcript.
func (h *VisitHandler) Get(c echo.Context) error {
	v, err := h.load(c, false)
	if v == nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

// Update edits the chief complaint and SOAP sections of an open visit.
// Sections missing from the body are left as they are.
func (h *VisitHandler) Update(c echo.Context) error {
	var req updateVisitReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	v, err := h.load(c, true)
	if v == nil {
		return err
	}
	if req.ChiefComplaint != nil {
		complaint := strings.TrimSpace(*req.ChiefComplaint)
		if complaint == "" {
			return badRequest(c, "chief_complaint cannot be empty")
		}
		v.ChiefComplaint = complaint
	}
	v.Note = req.Note.merge(v.Note)
	if err := h.visits.UpdateNote(c.Request().Context(), v.ID, v.ChiefComplaint, v.Note); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Draft generates a SOAP note from a consultation transcript and stores it
// on the visit, replacing the current note.
func (h *VisitHandler) Draft(c echo.Context) error {
	var req draftReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(req.Transcript) == "" {
		return badRequest(c, "transcript is required")
	}
	v, err := h.load(c, true)
	if v == nil {
		return err
	}
	if v.Status != model.VisitOpen {
		return c.JSON(http.StatusConflict, echo.Map{"error": "visit is already completed"})
	}

	note, err := h.drafter.Draft(c.Request().Context(), req.Transcript)
	if err != nil {
		if errors.Is(err, notes.ErrRateLimited) || errors.Is(err, notes.ErrEmptyInput) {
			return fail(c, err)
		}
		h.log.Error().Err(err).Uint64("visit_id", v.ID).Msg("draft note")
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "note drafting failed"})
	}
	if err := h.visits.SaveDraft(c.Request().Context(), v.ID, req.Transcript, note); err != nil {
		return fail(c, err)
	}
	v.Note = note
	v.Transcript = req.Transcript
	return c.JSON(http.StatusOK, v)
}

// Complete closes a visit. The note must have all four sections.
func (h *VisitHandler) Complete(c echo.Context) error {
	v, err := h.load(c, true)
	if v == nil {
		return err
	}
	if v.Status == model.VisitOpen && !v.Note.Complete() {
		return badRequest(c, "note is incomplete")
	}
	if err := h.visits.Complete(c.Request().Context(), v.ID); err != nil {
		return fail(c, err)
	}
	v.Status = model.VisitCompleted
	return c.JSON(http.StatusOK, v)
}
