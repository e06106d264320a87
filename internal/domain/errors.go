package domain

import "errors"

var (
	// ErrInvalidInput marks requests that must be fixed by the caller before retrying.
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	// ErrOfferWithdrawn is returned to callers that lose a transfer acceptance race.
	ErrOfferWithdrawn    = errors.New("offer withdrawn: transfer is no longer available")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoSubstitute      = errors.New("no substitute driver available")
	// ErrIncidentOpen rejects a second report while the route's earlier incident is unresolved.
	ErrIncidentOpen = errors.New("an open incident already covers this driver route")
)
