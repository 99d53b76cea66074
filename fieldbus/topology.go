package fieldbus

import "fmt"

// Beckhoff vendor and product identifiers of the rig terminals.
const (
	VendorBeckhoff uint32 = 0x00000002

	ProductEK1100 uint32 = 0x044c2c52
	ProductEL1008 uint32 = 0x03f03052
	ProductEL3074 uint32 = 0x0c023052
	ProductEL2634 uint32 = 0x0a4a3052
	ProductEL6001 uint32 = 0x17713052
	ProductEL6751 uint32 = 0x1a5f3052
)

// Direction of a sync manager.
type Direction uint8

const (
	DirInput Direction = iota + 1
	DirOutput
)

// PdoEntryInfo describes one object mapped into a PDO.
type PdoEntryInfo struct {
	Index     uint16
	SubIndex  uint8
	BitLength uint8
}

// PdoInfo is a PDO and its mapped entries.
type PdoInfo struct {
	Index   uint16
	Entries []PdoEntryInfo
}

// SyncConfig assigns PDOs to a sync manager.
type SyncConfig struct {
	Index     uint8
	Direction Direction
	Pdos      []PdoInfo
	Watchdog  bool
}

// SlaveConfig identifies a slave on the bus and its PDO layout.
type SlaveConfig struct {
	Name        string
	Alias       uint16
	Position    uint16
	VendorID    uint32
	ProductCode uint32
	Syncs       []SyncConfig
}

func (s SlaveConfig) String() string {
	return fmt.Sprintf("%s@%d:%d(0x%08x/0x%08x)", s.Name, s.Alias, s.Position, s.VendorID, s.ProductCode)
}

// PdoEntry is a registration request for one PDO entry of a configured slave.
type PdoEntry struct {
	Alias       uint16
	Position    uint16
	VendorID    uint32
	ProductCode uint32
	Index       uint16
	SubIndex    uint8
}

// Role names what a registered entry is used for by the controller.
type Role uint8

const (
	RoleDigitalInputs Role = iota + 1
	RoleAnalogValue
	RoleRelayOutputs
)

// Binding couples a PdoEntry with its role and logical channel (1-based, 0 for banks).
type Binding struct {
	Role    Role
	Channel int
	Entry   PdoEntry
}

// Topology is the full slave and PDO configuration of the rig.
type Topology struct {
	Slaves   []SlaveConfig
	Bindings []Binding
}

// Entries returns the registration requests in binding order.
func (t Topology) Entries() []PdoEntry {
	entries := make([]PdoEntry, len(t.Bindings))
	for i, b := range t.Bindings {
		entries[i] = b.Entry
	}
	return entries
}

// DefaultTopology returns the rig topology: EK1100 coupler, EL1008 digital inputs, EL3074 analog
// inputs, EL2634 relays, EL6001 serial and EL6751 CANopen terminals on alias 0.
func DefaultTopology() Topology {
	digital := make([]PdoInfo, 8)
	for i := range digital {
		digital[i] = PdoInfo{
			Index:   0x1a00 + uint16(i),
			Entries: []PdoEntryInfo{{Index: 0x6000 + uint16(i)*0x10, SubIndex: 0x01, BitLength: 1}},
		}
	}

	analog := make([]PdoInfo, 4)
	for i := range analog {
		idx := 0x6000 + uint16(i)*0x10
		analog[i] = PdoInfo{
			Index: 0x1a00 + uint16(i)*2,
			Entries: []PdoEntryInfo{
				{Index: idx, SubIndex: 0x01, BitLength: 1},  // underrange
				{Index: idx, SubIndex: 0x02, BitLength: 1},  // overrange
				{Index: idx, SubIndex: 0x03, BitLength: 2},  // limit 1
				{Index: idx, SubIndex: 0x05, BitLength: 2},  // limit 2
				{Index: idx, SubIndex: 0x07, BitLength: 1},  // error
				{Index: 0, SubIndex: 0, BitLength: 7},       // gap
				{Index: idx, SubIndex: 0x0f, BitLength: 1},  // txpdo state
				{Index: idx, SubIndex: 0x10, BitLength: 1},  // txpdo toggle
				{Index: idx, SubIndex: 0x11, BitLength: 16}, // value
			},
		}
	}

	relays := make([]PdoInfo, 4)
	for i := range relays {
		relays[i] = PdoInfo{
			Index:   0x1600 + uint16(i),
			Entries: []PdoEntryInfo{{Index: 0x7000 + uint16(i)*0x10, SubIndex: 0x01, BitLength: 1}},
		}
	}

	slaves := []SlaveConfig{
		{Name: "EK1100", Position: 0, VendorID: VendorBeckhoff, ProductCode: ProductEK1100},
		{
			Name: "EL1008", Position: 1, VendorID: VendorBeckhoff, ProductCode: ProductEL1008,
			Syncs: []SyncConfig{{Index: 0, Direction: DirInput, Pdos: digital}},
		},
		{
			Name: "EL3074", Position: 2, VendorID: VendorBeckhoff, ProductCode: ProductEL3074,
			Syncs: []SyncConfig{
				{Index: 0, Direction: DirOutput},
				{Index: 1, Direction: DirInput},
				{Index: 2, Direction: DirOutput},
				{Index: 3, Direction: DirInput, Pdos: analog},
			},
		},
		{
			Name: "EL2634", Position: 3, VendorID: VendorBeckhoff, ProductCode: ProductEL2634,
			Syncs: []SyncConfig{{Index: 0, Direction: DirOutput, Pdos: relays, Watchdog: true}},
		},
		{Name: "EL6001", Position: 4, VendorID: VendorBeckhoff, ProductCode: ProductEL6001},
		{Name: "EL6751", Position: 5, VendorID: VendorBeckhoff, ProductCode: ProductEL6751},
	}

	entry := func(pos uint16, product uint32, index uint16, sub uint8) PdoEntry {
		return PdoEntry{Position: pos, VendorID: VendorBeckhoff, ProductCode: product, Index: index, SubIndex: sub}
	}

	bindings := []Binding{
		{Role: RoleDigitalInputs, Entry: entry(1, ProductEL1008, 0x6000, 0x01)},
	}
	for ch := 1; ch <= 4; ch++ {
		bindings = append(bindings, Binding{
			Role:    RoleAnalogValue,
			Channel: ch,
			Entry:   entry(2, ProductEL3074, 0x6000+uint16(ch-1)*0x10, 0x11),
		})
	}
	bindings = append(bindings, Binding{Role: RoleRelayOutputs, Entry: entry(3, ProductEL2634, 0x7000, 0x01)})

	return Topology{Slaves: slaves, Bindings: bindings}
}
