package gateway

import "errors"

var (
	// ErrInvalidChannel indicates a channel number outside the valid range of the addressed bank.
	ErrInvalidChannel = errors.New("invalid channel")
	// ErrImageUnavailable indicates that no process image has been attached yet.
	ErrImageUnavailable = errors.New("process image unavailable")
)
