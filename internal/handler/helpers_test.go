package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/afyatrack/afyatrack-api/internal/middleware"
	"github.com/afyatrack/afyatrack-api/internal/model"
	"github.com/afyatrack/afyatrack-api/internal/repository"
)

var fixedNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func u64(n uint64) *uint64 { return &n }

// request builds an echo context for a JSON request. params alternate
// name, value.
func request(method, target, body string, id *model.Identity, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	if len(names) > 0 {
		c.SetParamNames(names...)
		c.SetParamValues(values...)
	}
	if id != nil {
		middleware.SetIdentity(c, *id)
	}
	return c, rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type lookupFake map[[2]uint64]bool

func (l lookupFake) OwnsOrTreats(_ context.Context, patientID, userID uint64) (bool, error) {
	return l[[2]uint64{patientID, userID}], nil
}

type patientsFake struct {
	mu       sync.Mutex
	rows     map[uint64]*model.Patient
	next     uint64
	lastList repository.PatientFilter
	stats    repository.PatientStats
	scope    repository.Scope
	err      error
}

func newPatientsFake(ps ...model.Patient) *patientsFake {
	f := &patientsFake{rows: map[uint64]*model.Patient{}, next: 100}
	for i := range ps {
		p := ps[i]
		f.rows[p.ID] = &p
	}
	return f
}

func (f *patientsFake) Create(_ context.Context, p *model.Patient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.next++
	p.ID = f.next
	cp := *p
	f.rows[p.ID] = &cp
	return nil
}

func (f *patientsFake) GetByID(_ context.Context, id uint64) (*model.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *patientsFake) Update(_ context.Context, p *model.Patient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := *p
	f.rows[p.ID] = &cp
	return nil
}

func (f *patientsFake) List(_ context.Context, flt repository.PatientFilter) ([]model.Patient, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastList = flt
	out := []model.Patient{}
	for _, p := range f.rows {
		out = append(out, *p)
	}
	return out, int64(len(out)), f.err
}

func (f *patientsFake) Ownership(_ context.Context, patientID uint64) (repository.Ownership, error) {
	p, err := f.GetByID(context.Background(), patientID)
	if err != nil {
		return repository.Ownership{}, err
	}
	return repository.Ownership{CreatedBy: p.CreatedBy, TreatingDoctorIDs: []uint64{p.CreatedBy}}, nil
}

func (f *patientsFake) Stats(_ context.Context, scope repository.Scope, _ time.Time) (repository.PatientStats, error) {
	f.scope = scope
	return f.stats, f.err
}

type visitsFake struct {
	mu    sync.Mutex
	rows  map[uint64]*model.Visit
	next  uint64
	since time.Time
}

func newVisitsFake(vs ...model.Visit) *visitsFake {
	f := &visitsFake{rows: map[uint64]*model.Visit{}, next: 500}
	for i := range vs {
		v := vs[i]
		f.rows[v.ID] = &v
	}
	return f
}

func (f *visitsFake) Create(_ context.Context, v *model.Visit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	v.ID = f.next
	cp := *v
	f.rows[v.ID] = &cp
	return nil
}

func (f *visitsFake) GetByID(_ context.Context, id uint64) (*model.Visit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (f *visitsFake) ListByPatient(_ context.Context, patientID uint64, limit, offset int) ([]model.Visit, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Visit{}
	for _, v := range f.rows {
		if v.PatientID == patientID {
			out = append(out, *v)
		}
	}
	return out, int64(len(out)), nil
}

func (f *visitsFake) open(id uint64) (*model.Visit, error) {
	v, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if v.Status != model.VisitOpen {
		return nil, repository.ErrConflict
	}
	return v, nil
}

func (f *visitsFake) UpdateNote(_ context.Context, id uint64, complaint string, note model.SOAPNote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.open(id)
	if err != nil {
		return err
	}
	v.ChiefComplaint, v.Note = complaint, note
	return nil
}

func (f *visitsFake) SaveDraft(_ context.Context, id uint64, transcript string, note model.SOAPNote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.open(id)
	if err != nil {
		return err
	}
	v.Transcript, v.Note = transcript, note
	return nil
}

func (f *visitsFake) Complete(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.open(id)
	if err != nil {
		return err
	}
	v.Status = model.VisitCompleted
	return nil
}

func (f *visitsFake) CountSince(_ context.Context, doctorID uint64, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	var n int64
	for _, v := range f.rows {
		if v.DoctorID == doctorID && !v.VisitDate.Before(since) {
			n++
		}
	}
	return n, nil
}

