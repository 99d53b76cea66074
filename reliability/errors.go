package reliability

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when a run is in progress.
	ErrAlreadyRunning = errors.New("reliability run already in progress")
	// ErrNotRunning is returned by Stop when no run is in progress.
	ErrNotRunning = errors.New("reliability run not in progress")
	// ErrInvalidParams is returned by Start for unusable test parameters.
	ErrInvalidParams = errors.New("invalid reliability parameters")
)
