// Package domain contains the per-cycle views and errors shared by the scheduler components.
package domain

import "errors"

// Scheduler error taxonomy.
var (
	// ErrNotFound is returned when a view is not present in the current snapshot.
	ErrNotFound = errors.New("resource not found")

	// ErrTransport is returned when a remote call to the resource store fails or times out.
	// It aborts the current cycle only.
	ErrTransport = errors.New("resource store unavailable")

	// ErrAuth is returned when the resource store rejects the scheduler session.
	ErrAuth = errors.New("resource store authentication failed")

	// ErrExpression is returned when a requirement or rank expression cannot be parsed or evaluated.
	ErrExpression = errors.New("invalid expression")

	// ErrDispatchRejected is returned when a VM could not be placed in this cycle.
	ErrDispatchRejected = errors.New("dispatch rejected")

	// ErrConfiguration is returned when the scheduler configuration is invalid.
	ErrConfiguration = errors.New("invalid configuration")
)
