package repository

import "errors"

// Sentinel errors produced by the repositories. Callers match them with
// errors.Is; everything else is a wrapped infrastructure failure.
var (
	// ErrUnknownBeacon means a signal referenced a nonexistent or
	// disabled beacon. Surfaced to the caller, never retried.
	ErrUnknownBeacon = errors.New("unknown or inactive beacon")

	// ErrAlreadyAssigned means an accept lost the race: the incident
	// (or the guard) already holds an active assignment. The losing
	// alert is auto-expired inside the same transaction.
	ErrAlreadyAssigned = errors.New("already assigned")

	// ErrStaleAlert means accept/decline hit an alert that is no
	// longer SENT. Idempotent no-op for the caller.
	ErrStaleAlert = errors.New("alert is not in SENT state")

	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
)
