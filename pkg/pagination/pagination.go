// Package pagination reads page/limit query parameters and shapes paged
// responses.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request. Page is
// 1-based.
type Params struct {
	Page  int
	Limit int
}

// FromContext reads ?page= and ?limit=, clamping limit to MaxLimit and
// falling back to defaults for missing or malformed values.
func FromContext(c echo.Context) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Params{Page: page, Limit: limit}
}

// Offset is the row offset of the first item on the page.
func (p Params) Offset() int { return (p.Page - 1) * p.Limit }

// Response wraps one page of results.
type Response struct {
	Data       any   `json:"data"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int64 `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

func NewResponse(data any, total int64, p Params) Response {
	pages := total / int64(p.Limit)
	if total%int64(p.Limit) != 0 {
		pages++
	}
	return Response{
		Data:       data,
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: pages,
		HasMore:    int64(p.Offset()+p.Limit) < total,
	}
}
