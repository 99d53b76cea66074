package health

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOperational indicates that the bus is not in a state that allows hardware operations.
	ErrNotOperational = errors.New("fieldbus not operational")
	// ErrLoopNotRunning indicates that the cyclic loop is not running.
	ErrLoopNotRunning = errors.New("cyclic loop not running")
)

// OperationError reports an operation refused by the health gate.
type OperationError struct {
	Op     string
	Status Status
	Err    error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s refused: status %s: %v", e.Op, e.Status, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
