package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/afyatrack/afyatrack-api/internal/access"
	"github.com/afyatrack/afyatrack-api/internal/auth"
	"github.com/afyatrack/afyatrack-api/internal/notes"
	"github.com/afyatrack/afyatrack-api/internal/repository"
	"github.com/afyatrack/afyatrack-api/internal/utils"
)

// fail maps a domain error onto a status and a client-safe message.
// Anything unrecognised becomes an HTTPError carrying the cause as its
// internal error, so it is logged but never shown to the client.
func fail(c echo.Context, err error) error {
	status, msg := http.StatusInternalServerError, ""
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, auth.ErrInvalidOrExpiredRefreshToken):
		status, msg = http.StatusUnauthorized, "invalid or expired refresh token"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		status, msg = http.StatusUnauthorized, err.Error()
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, auth.ErrInvalidName), errors.Is(err, utils.ErrWeakPassword),
		errors.Is(err, notes.ErrEmptyInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, access.ErrForbidden):
		status, msg = http.StatusForbidden, "forbidden"
	case errors.Is(err, repository.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, repository.ErrEmailExists):
		status, msg = http.StatusConflict, "email already exists"
	case errors.Is(err, repository.ErrPatientExists):
		status, msg = http.StatusConflict, "patient already exists"
	case errors.Is(err, repository.ErrConflict):
		status, msg = http.StatusConflict, "visit is already completed"
	case errors.Is(err, notes.ErrRateLimited):
		status, msg = http.StatusTooManyRequests, "drafting service is busy, try again later"
	case errors.Is(err, notes.ErrAuthFailed), errors.Is(err, notes.ErrIncomplete):
		status, msg = http.StatusBadGateway, "note drafting failed"
	}
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	return c.JSON(status, echo.Map{"error": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func forbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
}

// ErrorHandler renders errors that escape handlers, including echo's own
// (404 routes, 405, bind failures) and panics turned into 500s, with the
// same {"error": ...} body the handlers use.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, msg := http.StatusInternalServerError, "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok && status < http.StatusInternalServerError {
			msg = m
		} else if status < http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, echo.Map{"error": msg})
}
