// Package router wires handlers and middleware onto the echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/afyatrack/afyatrack-api/internal/access"
	"github.com/afyatrack/afyatrack-api/internal/handler"
	"github.com/afyatrack/afyatrack-api/internal/middleware"
)

// New returns an echo instance with the global middleware chain: request
// id, request logging and panic recovery, in that order.
func New(log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Use(middleware.RequestID(), middleware.Logger(log), middleware.Recovery(log))
	return e
}

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// Protected returns the /v1 group every authenticated route lives in.
// Authentication runs before the limiter so buckets can be keyed by user.
func Protected(e *echo.Echo, v middleware.TokenVerifier, limit echo.MiddlewareFunc) *echo.Group {
	return e.Group("/v1", middleware.JWTAuth(v), limit)
}

// RegisterAuth registers the session endpoints. Register, login, refresh
// and logout are public and carry their own stricter limiter; the rest
// hang off the protected group.
func RegisterAuth(e *echo.Echo, api *echo.Group, a *handler.AuthHandler, authLimit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth", authLimit)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	// logout needs only the refresh token, so a client with an expired
	// access token can still end its session
	g.POST("/logout", a.Logout)

	api.POST("/auth/logout-all", a.LogoutAll)
	api.POST("/auth/change-password", a.ChangePassword)
	api.GET("/me", a.Me)
	api.PATCH("/me", a.UpdateMe)
	api.POST("/users", a.CreateUser, access.RequireAdmin())
	api.POST("/users/:id/deactivate", a.Deactivate, access.RequireAdmin())
}
