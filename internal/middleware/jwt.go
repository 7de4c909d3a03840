package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/afyatrack/afyatrack-api/internal/auth"
	"github.com/afyatrack/afyatrack-api/internal/model"
)

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	VerifyAccessToken(token string) (model.Identity, error)
}

// JWTAuth validates the Bearer access token and stores the caller identity
// on the context. Verification does not touch storage.
func JWTAuth(v TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			scheme, raw, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}

			id, err := v.VerifyAccessToken(strings.TrimSpace(raw))
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "token expired"
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": msg})
			}

			SetIdentity(c, id)
			return next(c)
		}
	}
}
