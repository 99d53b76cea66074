// Package simbus implements an in-memory fieldbus master with a hydraulic plant model.
//
// Relay 1 opens the support valve and raises the pressure of all four cylinders, relay 2 opens the
// retract valve and lowers it. Faults such as link loss, missing slaves, driver errors and forced
// sensor values can be injected at runtime.
package simbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/footrig/fieldbus"
	"github.com/arloliu/footrig/sensor"
)

// Op names a driver operation for failure injection.
type Op string

const (
	OpRequestMaster Op = "RequestMaster"
	OpCreateDomain  Op = "CreateDomain"
	OpConfigure     Op = "ConfigureSlave"
	OpRegister      Op = "RegisterPdoEntries"
	OpActivate      Op = "Activate"
	OpReceive       Op = "Receive"
	OpSend          Op = "Send"
	OpState         Op = "ReadMasterState"
)

type registration struct {
	entry  fieldbus.PdoEntry
	offset int
	width  int
}

// Bus is a simulated fieldbus master. It is safe for concurrent use.
type Bus struct {
	mu sync.Mutex

	now func() time.Time

	requested bool
	domain    bool
	activated bool
	released  bool

	slaves  []fieldbus.SlaveConfig
	regs    []registration
	imgSize int
	img     *fieldbus.MemImage

	plant   *plant
	digital uint8

	linkUp        bool
	slaveOverride *int
	alOverride    *uint8

	failures map[Op]error
	cycles   uint64
}

var _ fieldbus.Driver = (*Bus)(nil)

// Option configures a Bus.
type Option interface {
	apply(*Bus)
}

type optFunc func(*Bus)

func (f optFunc) apply(b *Bus) { f(b) }

// WithPlant replaces the default plant model.
func WithPlant(cfg PlantConfig) Option {
	return optFunc(func(b *Bus) { b.plant = newPlant(cfg) })
}

// WithClock replaces time.Now, for deterministic plant stepping in tests.
func WithClock(now func() time.Time) Option {
	return optFunc(func(b *Bus) { b.now = now })
}

// New creates a simulated master with the link up.
func New(opts ...Option) *Bus {
	b := &Bus{
		now:      time.Now,
		plant:    newPlant(DefaultPlantConfig()),
		linkUp:   true,
		failures: make(map[Op]error),
	}
	for _, opt := range opts {
		opt.apply(b)
	}

	return b
}

func (b *Bus) injected(op Op) error {
	if err := b.failures[op]; err != nil {
		return err
	}
	return nil
}

func (b *Bus) RequestMaster(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected(OpRequestMaster); err != nil {
		return fmt.Errorf("%w: %w", fieldbus.ErrRequestMaster, err)
	}
	if index != 0 {
		return fmt.Errorf("%w: no master %d", fieldbus.ErrRequestMaster, index)
	}
	b.requested = true
	b.released = false

	return nil
}

func (b *Bus) CreateDomain() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected(OpCreateDomain); err != nil {
		return fmt.Errorf("%w: %w", fieldbus.ErrCreateDomain, err)
	}
	if !b.requested {
		return fmt.Errorf("%w: master not requested", fieldbus.ErrCreateDomain)
	}
	b.domain = true

	return nil
}

func (b *Bus) ConfigureSlave(cfg fieldbus.SlaveConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected(OpConfigure); err != nil {
		return fmt.Errorf("%w: %s: %w", fieldbus.ErrConfigureSlave, cfg.Name, err)
	}
	if !b.requested {
		return fmt.Errorf("%w: %s: master not requested", fieldbus.ErrConfigureSlave, cfg.Name)
	}
	for _, s := range b.slaves {
		if s.Alias == cfg.Alias && s.Position == cfg.Position {
			return fmt.Errorf("%w: %s: position %d already configured", fieldbus.ErrConfigureSlave, cfg.Name, cfg.Position)
		}
	}
	b.slaves = append(b.slaves, cfg)

	return nil
}

func (b *Bus) findSlave(e fieldbus.PdoEntry) bool {
	for _, s := range b.slaves {
		if s.Alias == e.Alias && s.Position == e.Position && s.VendorID == e.VendorID && s.ProductCode == e.ProductCode {
			return true
		}
	}
	return false
}

func (b *Bus) RegisterPdoEntries(entries []fieldbus.PdoEntry) ([]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected(OpRegister); err != nil {
		return nil, fmt.Errorf("%w: %w", fieldbus.ErrRegisterPdo, err)
	}
	if !b.domain {
		return nil, fmt.Errorf("%w: no domain", fieldbus.ErrRegisterPdo)
	}
	if b.activated {
		return nil, fmt.Errorf("%w: master already active", fieldbus.ErrRegisterPdo)
	}

	offsets := make([]int, len(entries))
	for i, e := range entries {
		if !b.findSlave(e) {
			return nil, fmt.Errorf("%w: 0x%04x:%02x on unconfigured slave %d", fieldbus.ErrRegisterPdo, e.Index, e.SubIndex, e.Position)
		}
		width := 1
		if e.SubIndex == 0x11 {
			width = 2
		}
		offsets[i] = b.imgSize
		b.regs = append(b.regs, registration{entry: e, offset: b.imgSize, width: width})
		b.imgSize += width
	}

	return offsets, nil
}

func (b *Bus) Activate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected(OpActivate); err != nil {
		return fmt.Errorf("%w: %w", fieldbus.ErrActivate, err)
	}
	if !b.domain || b.imgSize == 0 {
		return fmt.Errorf("%w: empty domain", fieldbus.ErrActivate)
	}
	b.img = fieldbus.NewMemImage(b.imgSize)
	b.activated = true

	return nil
}

func (b *Bus) ProcessImage() fieldbus.ProcessImage {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.img == nil {
		return nil
	}
	return b.img
}

func (b *Bus) ready() error {
	if b.released {
		return fieldbus.ErrReleased
	}
	if !b.activated {
		return fieldbus.ErrNotActivated
	}
	return nil
}

// Receive advances the plant and refreshes the input part of the image.
func (b *Bus) Receive() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ready(); err != nil {
		return err
	}
	if err := b.injected(OpReceive); err != nil {
		return err
	}
	if !b.linkUp {
		return nil
	}

	b.plant.step(b.now())
	for _, r := range b.regs {
		switch {
		case r.entry.ProductCode == fieldbus.ProductEL1008:
			_ = b.img.WriteU8(r.offset, b.digital)
		case r.entry.ProductCode == fieldbus.ProductEL3074 && r.width == 2:
			ch := int(r.entry.Index-0x6000) / 0x10
			if ch >= 0 && ch < sensor.Channels {
				_ = b.img.WriteS16(r.offset, b.plant.raw(ch))
			}
		}
	}

	return nil
}

func (b *Bus) ProcessDomain() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ready()
}

func (b *Bus) QueueDomain() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ready()
}

// Send latches the relay outputs into the plant valves.
func (b *Bus) Send() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ready(); err != nil {
		return err
	}
	if err := b.injected(OpSend); err != nil {
		return err
	}
	b.cycles++
	if !b.linkUp {
		return nil
	}
	for _, r := range b.regs {
		if r.entry.ProductCode == fieldbus.ProductEL2634 {
			v, _ := b.img.ReadU8(r.offset)
			b.plant.valves = v
		}
	}

	return nil
}

func (b *Bus) ReadMasterState() (fieldbus.MasterState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return fieldbus.MasterState{}, fieldbus.ErrReleased
	}
	if err := b.injected(OpState); err != nil {
		return fieldbus.MasterState{}, err
	}

	st := fieldbus.MasterState{LinkUp: b.linkUp}
	if !b.linkUp {
		return st, nil
	}
	st.SlavesResponding = len(b.slaves)
	st.ALStates = fieldbus.ALStatePreOp
	if b.activated {
		st.ALStates = fieldbus.ALStateOp
	}
	if b.slaveOverride != nil {
		st.SlavesResponding = *b.slaveOverride
	}
	if b.alOverride != nil {
		st.ALStates = *b.alOverride
	}

	return st, nil
}

func (b *Bus) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return fieldbus.ErrReleased
	}
	b.released = true
	b.activated = false
	b.domain = false
	b.requested = false
	b.slaves = nil
	b.regs = nil
	b.imgSize = 0
	b.img = nil

	return nil
}

// SetLink sets the physical link state.
func (b *Bus) SetLink(up bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.linkUp = up
}

// SetSlavesResponding overrides the responding slave count; a negative n removes the override.
func (b *Bus) SetSlavesResponding(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 {
		b.slaveOverride = nil
		return
	}
	b.slaveOverride = &n
}

// SetALStates overrides the reported AL state bits.
func (b *Bus) SetALStates(bits uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alOverride = &bits
}

// ClearALStates removes the AL state override.
func (b *Bus) ClearALStates() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alOverride = nil
}

// Fail makes op return err until cleared with Fail(op, nil).
func (b *Bus) Fail(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

// SetDigital drives digital input ch (1-8).
func (b *Bus) SetDigital(ch int, on bool) error {
	if ch < 1 || ch > 8 {
		return errors.New("digital channel out of range")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bit := uint8(1) << (ch - 1)
	if on {
		b.digital |= bit
	} else {
		b.digital &^= bit
	}

	return nil
}

// SetPressure sets the modelled pressure of channel ch (1-4).
func (b *Bus) SetPressure(ch int, bar float64) error {
	if !sensor.ValidChannel(ch) {
		return errors.New("analog channel out of range")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plant.pressure[ch-1] = bar

	return nil
}

// SetAllPressures sets the modelled pressure of every channel.
func (b *Bus) SetAllPressures(bar float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.plant.pressure {
		b.plant.pressure[i] = bar
	}
}

// ForceRaw pins the raw value reported for channel ch regardless of the plant.
func (b *Bus) ForceRaw(ch int, raw int16) error {
	if !sensor.ValidChannel(ch) {
		return errors.New("analog channel out of range")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plant.forced[ch-1] = &raw

	return nil
}

// ReleaseRaw removes a ForceRaw pin.
func (b *Bus) ReleaseRaw(ch int) {
	if !sensor.ValidChannel(ch) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plant.forced[ch-1] = nil
}

// Pressure returns the modelled pressure of channel ch.
func (b *Bus) Pressure(ch int) float64 {
	if !sensor.ValidChannel(ch) {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.plant.pressure[ch-1]
}

// Valves returns the relay mask latched by the last Send.
func (b *Bus) Valves() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.plant.valves
}

// Cycles returns the number of completed Send calls.
func (b *Bus) Cycles() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.cycles
}
