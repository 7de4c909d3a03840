package middleware

// identity.go holds the context plumbing shared by the middleware: JWTAuth
// stores the verified caller here and everything downstream reads it back.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/afyatrack/afyatrack-api/internal/model"
)

const identityKey = "identity"

// SetIdentity stores the verified caller on the request context.
func SetIdentity(c echo.Context, id model.Identity) {
	c.Set(identityKey, id)
}

// IdentityFrom returns the caller stored by JWTAuth.
func IdentityFrom(c echo.Context) (model.Identity, bool) {
	id, ok := c.Get(identityKey).(model.Identity)
	if !ok || id.UserID == 0 {
		return model.Identity{}, false
	}
	return id, true
}

// userID returns the caller id as a string for cache and rate-limit keys,
// or "guest" for anonymous requests.
func userID(c echo.Context) string {
	id, ok := IdentityFrom(c)
	if !ok {
		return "guest"
	}
	return strconv.FormatUint(id.UserID, 10)
}
