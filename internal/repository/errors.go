// Package repository contains the database/sql data access layer. The
// sentinel errors below let higher layers distinguish failure scenarios
// without inspecting driver errors.
package repository

import "errors"

// ErrNotFound is returned when a lookup matches no row. Handlers translate
// it into HTTP 404 (or 401 for credential lookups).
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when registering an email that is taken.
var ErrEmailExists = errors.New("email already exists")

// ErrConflict is returned when an update cannot proceed because of the
// current state of the row, such as editing a completed visit.
var ErrConflict = errors.New("conflict")
