package modbusgw

import (
	"errors"
	"sync"
	"testing"

	"github.com/arloliu/footrig/fieldbus"
	"github.com/arloliu/footrig/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCoupler struct {
	mu       sync.Mutex
	inputs   []byte
	holding  map[uint16][]byte
	status   []byte
	statusOK bool
}

func (f *fakeCoupler) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, int(quantity)*2)
	copy(out, f.inputs)
	return out, nil
}

func (f *fakeCoupler) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.statusOK {
		return nil, errors.New("connection reset")
	}
	return f.status, nil
}

func (f *fakeCoupler) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(quantity)*2 != len(value) {
		return nil, errors.New("quantity mismatch")
	}
	f.holding[address] = append([]byte(nil), value...)
	return nil, nil
}

func setup(t *testing.T, fc *fakeCoupler) (*Driver, []int) {
	t.Helper()

	d := newWithClient(Config{InputAddress: 0, OutputAddress: 0x800, StatusAddress: 0x1000}, fc)
	topo := fieldbus.DefaultTopology()
	require.NoError(t, d.RequestMaster(0))
	require.NoError(t, d.CreateDomain())
	for _, s := range topo.Slaves {
		require.NoError(t, d.ConfigureSlave(s))
	}
	offsets, err := d.RegisterPdoEntries(topo.Entries())
	require.NoError(t, err)
	require.NoError(t, d.Activate())

	return d, offsets
}

func TestDriver_Layout(t *testing.T) {
	d, offsets := setup(t, &fakeCoupler{holding: map[uint16][]byte{}})
	assert.Equal(t, []int{0, 1, 3, 5, 7, 9}, offsets)
	assert.Equal(t, 10, d.ProcessImage().Size())
}

func TestDriver_Exchange(t *testing.T) {
	assert := assert.New(t)

	fc := &fakeCoupler{holding: map[uint16][]byte{}}
	d, offsets := setup(t, fc)
	img := d.ProcessImage()

	raw := sensor.RawFromPressure(22)
	fc.inputs = []byte{0x05, byte(raw), byte(raw >> 8)}

	require.NoError(t, d.Receive())
	require.NoError(t, d.ProcessDomain())
	di, _ := img.ReadU8(offsets[0])
	assert.Equal(uint8(0x05), di)
	ai, _ := img.ReadS16(offsets[1])
	assert.Equal(raw, ai)

	require.NoError(t, img.WriteU8(offsets[5], 0x03))
	require.NoError(t, d.QueueDomain())
	require.NoError(t, d.Send())
	assert.Equal([]byte{0x03, 0x00}, fc.holding[0x800])
}

func TestDriver_MasterState(t *testing.T) {
	assert := assert.New(t)

	fc := &fakeCoupler{holding: map[uint16][]byte{}, statusOK: true, status: []byte{0, 6, 0, 0x08, 0, 1}}
	d, _ := setup(t, fc)

	st, err := d.ReadMasterState()
	require.NoError(t, err)
	assert.Equal(fieldbus.MasterState{SlavesResponding: 6, ALStates: fieldbus.ALStateOp, LinkUp: true}, st)

	fc.statusOK = false
	st, err = d.ReadMasterState()
	require.NoError(t, err)
	assert.False(st.LinkUp)

	require.NoError(t, d.Release())
	_, err = d.ReadMasterState()
	assert.ErrorIs(err, fieldbus.ErrReleased)
	assert.ErrorIs(d.Receive(), fieldbus.ErrReleased)
}

func TestDriver_Errors(t *testing.T) {
	assert := assert.New(t)

	d := New(Config{})
	assert.ErrorIs(d.RequestMaster(0), fieldbus.ErrRequestMaster, "empty endpoint")
	assert.ErrorIs(d.RequestMaster(2), fieldbus.ErrRequestMaster)
	assert.ErrorIs(d.CreateDomain(), fieldbus.ErrCreateDomain)
	assert.ErrorIs(d.ConfigureSlave(fieldbus.SlaveConfig{Name: "EK1100"}), fieldbus.ErrConfigureSlave)
	_, err := d.RegisterPdoEntries(nil)
	assert.ErrorIs(err, fieldbus.ErrRegisterPdo)
	assert.ErrorIs(d.Activate(), fieldbus.ErrActivate)
	assert.ErrorIs(d.Send(), fieldbus.ErrNotActivated)
}
