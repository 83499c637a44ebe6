package service

import "errors"

// Sentinel kinds for orchestrator errors.
var (
	// ErrAlreadyRunning is the rejected-trigger response while a cycle
	// holds the running flag. It is not a fault.
	ErrAlreadyRunning = errors.New("monitoring cycle already running")

	// ErrStorageUnavailable aborts the current cycle only; previously
	// written baselines stay intact.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotStarted means the service was used before Start.
	ErrNotStarted = errors.New("service not started")

	// ErrNoCycles means no monitoring cycle has ever run.
	ErrNoCycles = errors.New("no cycles recorded")
)
