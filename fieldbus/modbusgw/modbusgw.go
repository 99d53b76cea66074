// Package modbusgw drives the rig terminals through a Modbus-TCP bus coupler.
//
// The coupler mirrors the process image into register blocks:
//
//   - input registers starting at InputAddress carry the input part of the image verbatim,
//   - holding registers starting at OutputAddress receive the output part of the image,
//   - three holding registers at StatusAddress report responding slaves, AL state bits and link state.
//
// Input entries (digital and analog terminals) are laid out first, output entries follow.
package modbusgw

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/arloliu/footrig/fieldbus"
)

// Config describes the coupler endpoint and register map.
type Config struct {
	Endpoint      string
	SlaveID       uint8
	Timeout       time.Duration
	InputAddress  uint16
	OutputAddress uint16
	StatusAddress uint16
}

// registerClient is the subset of modbus.Client used by the driver.
type registerClient interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

type closer interface {
	Close() error
}

// Driver implements fieldbus.Driver over Modbus-TCP.
type Driver struct {
	cfg Config

	mu      sync.Mutex
	client  registerClient
	conn    closer
	dial    func(Config) (registerClient, closer, error)
	slaves  []fieldbus.SlaveConfig
	inputs  []fieldbus.PdoEntry
	outputs []fieldbus.PdoEntry
	inSize  int
	outSize int
	img     *fieldbus.MemImage
	domain  bool
	active  bool
	closed  bool
	stage   []byte
}

var _ fieldbus.Driver = (*Driver)(nil)

// New creates a driver for cfg. No connection is made until RequestMaster.
func New(cfg Config) *Driver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	return &Driver{cfg: cfg, dial: dialTCP}
}

// newWithClient creates a driver on an already connected client.
func newWithClient(cfg Config, c registerClient) *Driver {
	d := New(cfg)
	d.dial = func(Config) (registerClient, closer, error) { return c, nil, nil }
	return d
}

func dialTCP(cfg Config) (registerClient, closer, error) {
	if cfg.Endpoint == "" {
		return nil, nil, errors.New("modbus endpoint required")
	}
	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.SlaveID
	if err := h.Connect(); err != nil {
		return nil, nil, err
	}

	return modbus.NewClient(h), h, nil
}

func (d *Driver) RequestMaster(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index != 0 {
		return fmt.Errorf("%w: coupler exposes a single master, got index %d", fieldbus.ErrRequestMaster, index)
	}
	c, conn, err := d.dial(d.cfg)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", fieldbus.ErrRequestMaster, d.cfg.Endpoint, err)
	}
	d.client, d.conn, d.closed = c, conn, false

	return nil
}

func (d *Driver) CreateDomain() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return fmt.Errorf("%w: not connected", fieldbus.ErrCreateDomain)
	}
	d.domain = true

	return nil
}

func (d *Driver) ConfigureSlave(cfg fieldbus.SlaveConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return fmt.Errorf("%w: %s: not connected", fieldbus.ErrConfigureSlave, cfg.Name)
	}
	d.slaves = append(d.slaves, cfg)

	return nil
}

func isOutput(e fieldbus.PdoEntry) bool {
	return e.Index >= 0x7000 && e.Index < 0x8000
}

func entryWidth(e fieldbus.PdoEntry) int {
	if e.SubIndex == 0x11 {
		return 2
	}
	return 1
}

func (d *Driver) RegisterPdoEntries(entries []fieldbus.PdoEntry) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.domain {
		return nil, fmt.Errorf("%w: no domain", fieldbus.ErrRegisterPdo)
	}

	offsets := make([]int, len(entries))
	for i, e := range entries {
		if isOutput(e) {
			continue
		}
		offsets[i] = d.inSize
		d.inSize += entryWidth(e)
		d.inputs = append(d.inputs, e)
	}
	for i, e := range entries {
		if !isOutput(e) {
			continue
		}
		offsets[i] = d.inSize + d.outSize
		d.outSize += entryWidth(e)
		d.outputs = append(d.outputs, e)
	}

	return offsets, nil
}

func (d *Driver) Activate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.domain || d.inSize+d.outSize == 0 {
		return fmt.Errorf("%w: empty domain", fieldbus.ErrActivate)
	}
	d.img = fieldbus.NewMemImage(d.inSize + d.outSize)
	d.active = true

	return nil
}

func (d *Driver) ProcessImage() fieldbus.ProcessImage {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.img == nil {
		return nil
	}
	return d.img
}

func (d *Driver) ready() error {
	if d.closed {
		return fieldbus.ErrReleased
	}
	if !d.active {
		return fieldbus.ErrNotActivated
	}
	return nil
}

func registers(n int) uint16 {
	return uint16((n + 1) / 2)
}

// Receive reads the input register block into the image.
func (d *Driver) Receive() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ready(); err != nil {
		return err
	}
	if d.inSize == 0 {
		return nil
	}
	data, err := d.client.ReadInputRegisters(d.cfg.InputAddress, registers(d.inSize))
	if err != nil {
		return fmt.Errorf("read inputs: %w", err)
	}
	if len(data) < d.inSize {
		return fmt.Errorf("read inputs: short payload %d < %d", len(data), d.inSize)
	}

	return d.img.CopyIn(0, data[:d.inSize])
}

func (d *Driver) ProcessDomain() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.ready()
}

// QueueDomain stages the output part of the image for Send.
func (d *Driver) QueueDomain() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ready(); err != nil {
		return err
	}
	if d.outSize == 0 {
		return nil
	}
	out, err := d.img.CopyOut(d.inSize, d.outSize)
	if err != nil {
		return err
	}
	if len(out)%2 == 1 {
		out = append(out, 0)
	}
	d.stage = out

	return nil
}

// Send writes the staged outputs to the holding register block.
func (d *Driver) Send() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ready(); err != nil {
		return err
	}
	if d.stage == nil {
		return nil
	}
	payload := d.stage
	d.stage = nil
	if _, err := d.client.WriteMultipleRegisters(d.cfg.OutputAddress, uint16(len(payload)/2), payload); err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}

	return nil
}

// ReadMasterState reads the coupler status block. A transport failure reports the link as down.
func (d *Driver) ReadMasterState() (fieldbus.MasterState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fieldbus.MasterState{}, fieldbus.ErrReleased
	}
	if d.client == nil {
		return fieldbus.MasterState{}, fieldbus.ErrNotActivated
	}
	data, err := d.client.ReadHoldingRegisters(d.cfg.StatusAddress, 3)
	if err != nil {
		return fieldbus.MasterState{LinkUp: false}, nil
	}
	if len(data) < 6 {
		return fieldbus.MasterState{}, fmt.Errorf("status block: short payload %d", len(data))
	}
	reg := func(i int) uint16 { return uint16(data[2*i])<<8 | uint16(data[2*i+1]) }

	return fieldbus.MasterState{
		SlavesResponding: int(reg(0)),
		ALStates:         uint8(reg(1)),
		LinkUp:           reg(2) != 0,
	}, nil
}

func (d *Driver) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fieldbus.ErrReleased
	}
	d.closed = true
	d.active = false
	d.domain = false
	d.img = nil
	d.inputs, d.outputs, d.slaves = nil, nil, nil
	d.inSize, d.outSize = 0, 0
	d.client = nil
	if d.conn != nil {
		return d.conn.Close()
	}

	return nil
}
