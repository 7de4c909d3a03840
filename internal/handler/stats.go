package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/afyatrack/afyatrack-api/internal/middleware"
	"github.com/afyatrack/afyatrack-api/internal/model"
	"github.com/afyatrack/afyatrack-api/internal/repository"
)

// StatsHandler serves the dashboard aggregates.
type StatsHandler struct {
	patients PatientStore
	visits   VisitStore
	now      func() time.Time
}

func NewStatsHandler(patients PatientStore, visits VisitStore) *StatsHandler {
	return &StatsHandler{patients: patients, visits: visits, now: func() time.Time { return time.Now().UTC() }}
}

type statsResp struct {
	repository.PatientStats
	MyVisitsLast7Days *int64 `json:"my_visits_last_7_days,omitempty"`
}

// Get returns statistics over the patients visible to the caller, scoped
// the same way as the patient list. Doctors
// additionally get their own visit count for the last week.
func (h *StatsHandler) Get(c echo.Context) error {
	caller, _ := middleware.IdentityFrom(c)
	now := h.now()

	st, err := h.patients.Stats(c.Request().Context(), visibleScope(caller), now)
	if err != nil {
		return fail(c, err)
	}
	resp := statsResp{PatientStats: st}
	if caller.Role == model.RoleDoctor {
		n, err := h.visits.CountSince(c.Request().Context(), caller.UserID, now.AddDate(0, 0, -7))
		if err != nil {
			return fail(c, err)
		}
		resp.MyVisitsLast7Days = &n
	}
	return c.JSON(http.StatusOK, resp)
}
