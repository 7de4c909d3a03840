package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown email, wrong password and
	// inactive accounts alike so callers cannot enumerate users.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	// ErrInvalidOrExpiredRefreshToken is returned for unknown, revoked or
	// expired refresh tokens, and for tokens whose owner is gone.
	ErrInvalidOrExpiredRefreshToken = errors.New("invalid or expired refresh token")

	ErrInvalidEmail = errors.New("invalid email")
	ErrInvalidRole  = errors.New("invalid role")
	ErrInvalidName  = errors.New("first and last name are required")
)
