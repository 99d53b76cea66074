package simbus

import (
	"errors"
	"testing"
	"time"

	"github.com/arloliu/footrig/fieldbus"
	"github.com/arloliu/footrig/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T, opts ...Option) (*Bus, []int) {
	t.Helper()

	bus := New(opts...)
	topo := fieldbus.DefaultTopology()
	require.NoError(t, bus.RequestMaster(0))
	require.NoError(t, bus.CreateDomain())
	for _, s := range topo.Slaves {
		require.NoError(t, bus.ConfigureSlave(s))
	}
	offsets, err := bus.RegisterPdoEntries(topo.Entries())
	require.NoError(t, err)
	require.NoError(t, bus.Activate())

	return bus, offsets
}

func cycle(t *testing.T, bus *Bus) {
	t.Helper()
	require.NoError(t, bus.Receive())
	require.NoError(t, bus.ProcessDomain())
	require.NoError(t, bus.QueueDomain())
	require.NoError(t, bus.Send())
}

func TestBus_Configuration(t *testing.T) {
	assert := assert.New(t)

	bus, offsets := setup(t)
	assert.Equal([]int{0, 1, 3, 5, 7, 9}, offsets)
	assert.Equal(10, bus.ProcessImage().Size())

	st, err := bus.ReadMasterState()
	require.NoError(t, err)
	assert.True(st.LinkUp)
	assert.Equal(6, st.SlavesResponding)
	assert.Equal(fieldbus.ALStateOp, st.ALStates)

	require.NoError(t, bus.Release())
	assert.Nil(bus.ProcessImage())
	assert.ErrorIs(bus.Receive(), fieldbus.ErrReleased)
	assert.ErrorIs(bus.Release(), fieldbus.ErrReleased)
}

func TestBus_ConfigurationErrors(t *testing.T) {
	assert := assert.New(t)

	bus := New()
	assert.ErrorIs(bus.RequestMaster(1), fieldbus.ErrRequestMaster)
	assert.ErrorIs(bus.CreateDomain(), fieldbus.ErrCreateDomain)

	require.NoError(t, bus.RequestMaster(0))
	require.NoError(t, bus.CreateDomain())
	_, err := bus.RegisterPdoEntries(fieldbus.DefaultTopology().Entries())
	assert.ErrorIs(err, fieldbus.ErrRegisterPdo, "slaves are not configured")

	boom := errors.New("boom")
	bus.Fail(OpConfigure, boom)
	err = bus.ConfigureSlave(fieldbus.DefaultTopology().Slaves[0])
	assert.ErrorIs(err, fieldbus.ErrConfigureSlave)
	assert.ErrorIs(err, boom)
	bus.Fail(OpConfigure, nil)

	assert.ErrorIs(bus.Activate(), fieldbus.ErrActivate)
	assert.ErrorIs(bus.Receive(), fieldbus.ErrNotActivated)
}

func TestBus_PlantFollowsRelays(t *testing.T) {
	assert := assert.New(t)

	clk := &fakeClock{t: time.Unix(0, 0)}
	bus, offsets := setup(t, WithClock(clk.Now))
	img := bus.ProcessImage()
	relayOff := offsets[5]

	cycle(t, bus)

	// support valve
	require.NoError(t, img.WriteU8(relayOff, 0x01))
	cycle(t, bus)
	assert.Equal(uint8(0x01), bus.Valves())
	for i := 0; i < 100; i++ {
		clk.Advance(10 * time.Millisecond)
		cycle(t, bus)
	}
	for ch := 1; ch <= 4; ch++ {
		assert.InDelta(14*time.Second.Seconds()*[]float64{1, 1.02, 1.05, 1.08}[ch-1], bus.Pressure(ch), 0.5)
		raw, err := img.ReadS16(offsets[ch])
		require.NoError(t, err)
		assert.InDelta(bus.Pressure(ch), sensor.PressureFromRaw(raw), 0.2)
	}

	// retract valve vents everything
	require.NoError(t, img.WriteU8(relayOff, 0x02))
	cycle(t, bus)
	for i := 0; i < 200; i++ {
		clk.Advance(10 * time.Millisecond)
		cycle(t, bus)
	}
	for ch := 1; ch <= 4; ch++ {
		assert.Zero(bus.Pressure(ch))
	}
}

func TestBus_FaultInjection(t *testing.T) {
	assert := assert.New(t)

	bus, offsets := setup(t)
	img := bus.ProcessImage()

	require.NoError(t, bus.SetDigital(3, true))
	require.NoError(t, bus.ForceRaw(2, -4000))
	cycle(t, bus)

	d, _ := img.ReadU8(offsets[0])
	assert.Equal(uint8(0x04), d)
	raw, _ := img.ReadS16(offsets[2])
	assert.Equal(int16(-4000), raw)
	bus.ReleaseRaw(2)

	bus.SetLink(false)
	st, err := bus.ReadMasterState()
	require.NoError(t, err)
	assert.False(st.LinkUp)
	assert.Zero(st.SlavesResponding)
	bus.SetLink(true)

	bus.SetSlavesResponding(3)
	bus.SetALStates(fieldbus.ALStateSafeOp)
	st, _ = bus.ReadMasterState()
	assert.Equal(3, st.SlavesResponding)
	assert.Equal(fieldbus.ALStateSafeOp, st.ALStates)
	bus.SetSlavesResponding(-1)
	bus.ClearALStates()

	readErr := errors.New("mailbox timeout")
	bus.Fail(OpState, readErr)
	_, err = bus.ReadMasterState()
	assert.ErrorIs(err, readErr)

	assert.Error(bus.SetDigital(9, true))
	assert.Error(bus.SetPressure(0, 1))
	assert.Error(bus.ForceRaw(5, 0))
	assert.Positive(bus.Cycles())
}
