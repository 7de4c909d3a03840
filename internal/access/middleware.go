package access

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/afyatrack/afyatrack-api/internal/middleware"
	"github.com/afyatrack/afyatrack-api/internal/model"
)

func forbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
}

// require builds a middleware from a pure role predicate. It must run after
// JWTAuth; a request without an identity is denied.
func require(pred func(model.Identity) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := middleware.IdentityFrom(c)
			if !ok || !pred(id) {
				return forbidden(c)
			}
			return next(c)
		}
	}
}

// RequireRecordAccess allows roles that may read clinical records.
func RequireRecordAccess() echo.MiddlewareFunc { return require(CanAccessRecords) }

// RequireRecordModify allows roles that may change clinical records.
func RequireRecordModify() echo.MiddlewareFunc { return require(CanModifyRecords) }

// RequireAdmin allows admins only.
func RequireAdmin() echo.MiddlewareFunc { return require(IsAdmin) }

// RequirePatientAccess checks the ownership predicate for the patient id
// in the named path parameter. A malformed id is a 400.
func (p *Policy) RequirePatientAccess(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := middleware.IdentityFrom(c)
			if !ok {
				return forbidden(c)
			}
			patientID, err := strconv.ParseUint(c.Param(param), 10, 64)
			if err != nil || patientID == 0 {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
			}
			if !p.OwnsOrTreats(c.Request().Context(), id, patientID) {
				return forbidden(c)
			}
			return next(c)
		}
	}
}
