// Package services implements the application services behind the HTTP API:
// users, connections, agents, chat sessions, and runs.
package services

import "errors"

// Sentinel errors mapped to HTTP statuses by the API layer.
var (
	// ErrNotFound indicates the entity does not exist or is not visible to
	// the caller.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the entity exists but belongs to another user.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalid indicates the request payload fails validation.
	ErrInvalid = errors.New("invalid input")

	// ErrConflict indicates a uniqueness violation, e.g. duplicate email.
	ErrConflict = errors.New("conflict")

	// ErrNotCancellable indicates the run already left the queued state.
	ErrNotCancellable = errors.New("run is not cancellable")
)
