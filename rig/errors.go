package rig

import "errors"

var (
	// ErrNotInitialized is returned by operations that need a configured master.
	ErrNotInitialized = errors.New("controller not initialized")
	// ErrNotStarted is returned by operations that need the running controller.
	ErrNotStarted = errors.New("controller not started")
	// ErrReliabilityRunning is returned when a single test is requested during a reliability run.
	ErrReliabilityRunning = errors.New("reliability run in progress")
)
