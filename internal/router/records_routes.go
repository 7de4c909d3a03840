package router

import (
	"github.com/labstack/echo/v4"

	"github.com/afyatrack/afyatrack-api/internal/access"
	"github.com/afyatrack/afyatrack-api/internal/handler"
)

// RegisterRecords registers patient, visit and statistics endpoints on the
// protected group. Role checks run as route middleware; per-patient checks
// run either as middleware (writes keyed by patient id) or inside the
// handler once the record is loaded.
func RegisterRecords(api *echo.Group, p *handler.PatientHandler, v *handler.VisitHandler, s *handler.StatsHandler, policy *access.Policy, cache echo.MiddlewareFunc) {
	read := access.RequireRecordAccess()
	modify := access.RequireRecordModify()
	owns := policy.RequirePatientAccess("id")

	// ---- Patients ----
	api.GET("/patients", p.List, read)
	api.POST("/patients", p.Create, modify)
	api.GET("/patients/:id", p.Get, read)
	api.PUT("/patients/:id", p.Update, modify, owns)

	// ---- Visits ----
	api.GET("/patients/:id/visits", v.ListByPatient, read)
	api.POST("/patients/:id/visits", v.Create, modify, owns)
	api.GET("/visits/:id", v.Get, read)
	api.PUT("/visits/:id", v.Update, modify)
	api.POST("/visits/:id/draft", v.Draft, modify)
	api.POST("/visits/:id/complete", v.Complete, modify)

	// ---- Statistics ----
	api.GET("/stats", s.Get, read, cache)
}
