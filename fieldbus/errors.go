package fieldbus

import "errors"

var (
	// ErrRequestMaster indicates that the master instance could not be acquired.
	ErrRequestMaster = errors.New("failed to request master")
	// ErrCreateDomain indicates that the process data domain could not be created.
	ErrCreateDomain = errors.New("failed to create domain")
	// ErrConfigureSlave indicates that a slave could not be configured.
	ErrConfigureSlave = errors.New("failed to configure slave")
	// ErrRegisterPdo indicates that a PDO entry could not be registered in the domain.
	ErrRegisterPdo = errors.New("failed to register pdo entry")
	// ErrActivate indicates that the master could not be activated.
	ErrActivate = errors.New("failed to activate master")
)

var (
	// ErrNotActivated is returned by cyclic operations before Activate succeeded.
	ErrNotActivated = errors.New("master not activated")
	// ErrReleased is returned by every operation after Release.
	ErrReleased = errors.New("master released")
	// ErrOffsetOutOfRange is returned by ProcessImage accessors for an offset outside the image.
	ErrOffsetOutOfRange = errors.New("process image offset out of range")
)
