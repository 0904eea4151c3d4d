package scheduler

import "errors"

// Registration errors.
var (
	// ErrInvalidInterval is returned when an interval is shorter than two ticks.
	ErrInvalidInterval = errors.New("interval must be at least twice the tick")

	// ErrDuplicateJob is returned when a job with the same name is already registered.
	ErrDuplicateJob = errors.New("job already registered")

	// ErrJobNotFound is returned by Deregister for unknown names.
	ErrJobNotFound = errors.New("job not found")
)

// Lifecycle errors.
var (
	// ErrAlreadyRunning is returned by Start when the loop is already running.
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrCloseTimeout is returned by Close under PolicyReturnError when the
	// loop did not stop within the force timeout.
	ErrCloseTimeout = errors.New("scheduler did not stop before force timeout")
)
