// Package repository defines the persistence contract used by the fitting
// room services and its MySQL implementation.  The sentinel errors below
// allow higher layers to distinguish failure scenarios with errors.Is.
package repository

import "errors"

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with an existing row,
// such as a reused session id.
var ErrConflict = errors.New("conflict")
