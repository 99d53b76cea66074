package fieldbus

// Application-layer state bits reported per slave.
const (
	ALStateInit   uint8 = 0x01
	ALStatePreOp  uint8 = 0x02
	ALStateSafeOp uint8 = 0x04
	ALStateOp     uint8 = 0x08
)

// MasterState is a snapshot of the bus as seen by the master.
type MasterState struct {
	// SlavesResponding is the number of slaves answering on the bus.
	SlavesResponding int
	// ALStates is the bitwise OR of the application-layer states of all slaves.
	ALStates uint8
	// LinkUp reports whether the physical link is up.
	LinkUp bool
}

// ProcessImage gives byte-offset access to the activated process data domain.
//
// Implementations must be safe for concurrent use.
type ProcessImage interface {
	ReadU8(offset int) (uint8, error)
	WriteU8(offset int, v uint8) error
	ReadS16(offset int) (int16, error)
	WriteS16(offset int, v int16) error
	// Size returns the domain size in bytes.
	Size() int
}

// Driver is the fieldbus master binding consumed by the rig controller.
//
// Configuration methods are called once, in order, before Activate. Cyclic methods are only
// called from the cyclic loop goroutine. ReadMasterState may be called from any goroutine.
type Driver interface {
	RequestMaster(index int) error
	CreateDomain() error
	ConfigureSlave(cfg SlaveConfig) error
	// RegisterPdoEntries registers entries in the domain and returns one byte offset per entry.
	RegisterPdoEntries(entries []PdoEntry) ([]int, error)
	Activate() error
	// ProcessImage returns the accessor for the domain. It is nil before Activate.
	ProcessImage() ProcessImage

	Receive() error
	ProcessDomain() error
	QueueDomain() error
	Send() error

	ReadMasterState() (MasterState, error)
	Release() error
}
