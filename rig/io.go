package rig

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/footrig/gateway"
	"github.com/arloliu/footrig/health"
	"github.com/arloliu/footrig/sensor"
)

const (
	moduleRelay  = "Relay"
	moduleSensor = "Sensor"
)

func onOff(on bool) string {
	if on {
		return "on"
	}

	return "off"
}

// relayGate returns the gateway once the operation is allowed and every channel in chs is valid.
func (c *Controller) relayGate(op string, chs ...int) (*gateway.Gateway, error) {
	gw, err := c.gate()
	if err != nil {
		c.journal.Errorf(moduleRelay, 0, "%s: %v", op, err)
		return nil, err
	}
	if err := c.monitor.VerifyOperation(op); err != nil {
		return nil, err
	}
	for _, ch := range chs {
		if !gateway.ValidRelay(ch) {
			err := fmt.Errorf("%w: relay %d, want 1-%d", gateway.ErrInvalidChannel, ch, gateway.RelayChannels)
			c.journal.Errorf(moduleRelay, 0, "%s: %v", op, err)
			return nil, err
		}
	}

	return gw, nil
}

// SetRelay switches relay ch (1-4).
func (c *Controller) SetRelay(ch int, on bool) error {
	gw, err := c.relayGate("set relay", ch)
	if err != nil {
		return err
	}
	if err := gw.Relays().Set(ch, on); err != nil {
		return err
	}
	c.journal.Infof(moduleRelay, 0, "relay %d %s", ch, onOff(on))

	return nil
}

// ToggleRelay inverts relay ch and returns its new state.
func (c *Controller) ToggleRelay(ch int) (bool, error) {
	gw, err := c.relayGate("toggle relay", ch)
	if err != nil {
		return false, err
	}
	on, err := gw.Relays().Toggle(ch)
	if err != nil {
		return false, err
	}
	c.journal.Infof(moduleRelay, 0, "relay %d toggled %s", ch, onOff(on))

	return on, nil
}

// ReleaseRelay switches relay ch off without consulting bus health. The bank keeps the cleared
// bit, so a link that comes back commits the valve as closed.
func (c *Controller) ReleaseRelay(ch int) error {
	gw, err := c.gate()
	if err != nil {
		c.journal.Errorf(moduleRelay, 0, "release relay %d: %v", ch, err)
		return err
	}
	if !gateway.ValidRelay(ch) {
		err := fmt.Errorf("%w: relay %d, want 1-%d", gateway.ErrInvalidChannel, ch, gateway.RelayChannels)
		c.journal.Errorf(moduleRelay, 0, "release relay: %v", err)
		return err
	}
	if err := gw.Relays().Set(ch, false); err != nil {
		return err
	}
	c.journal.Infof(moduleRelay, 0, "relay %d released", ch)

	return nil
}

// SetAllRelays switches every relay.
func (c *Controller) SetAllRelays(on bool) error {
	gw, err := c.relayGate("set all relays")
	if err != nil {
		return err
	}
	gw.Relays().SetAll(on)
	c.journal.Infof(moduleRelay, 0, "all relays %s", onOff(on))

	return nil
}

// RelayState returns the requested state of relay ch.
func (c *Controller) RelayState(ch int) (bool, error) {
	gw, err := c.gate()
	if err != nil {
		return false, err
	}
	if !gateway.ValidRelay(ch) {
		return false, fmt.Errorf("%w: relay %d", gateway.ErrInvalidChannel, ch)
	}

	return gw.Relays().State(ch), nil
}

// RelayStates returns the requested state of every relay, index 0 = relay 1.
func (c *Controller) RelayStates() ([gateway.RelayChannels]bool, error) {
	gw, err := c.gate()
	if err != nil {
		return [gateway.RelayChannels]bool{}, err
	}

	return gw.Relays().States(), nil
}

// SetRelayAsync queues SetRelay on the task queue. done, when set, runs on the queue worker.
func (c *Controller) SetRelayAsync(ch int, on bool, done func(error)) error {
	return c.submit(fmt.Sprintf("set relay %d", ch), func() {
		err := c.SetRelay(ch, on)
		if done != nil {
			done(err)
		}
	})
}

// ToggleRelayAsync queues ToggleRelay on the task queue.
func (c *Controller) ToggleRelayAsync(ch int, done func(bool, error)) error {
	return c.submit(fmt.Sprintf("toggle relay %d", ch), func() {
		on, err := c.ToggleRelay(ch)
		if done != nil {
			done(on, err)
		}
	})
}

// SetAllRelaysAsync queues SetAllRelays on the task queue.
func (c *Controller) SetAllRelaysAsync(on bool, done func(error)) error {
	return c.submit("set all relays", func() {
		err := c.SetAllRelays(on)
		if done != nil {
			done(err)
		}
	})
}

func (c *Controller) submit(name string, fn func()) error {
	q, err := c.taskQueue()
	if err != nil {
		return err
	}

	return q.Submit(name, fn)
}

// sensorGate returns the gateway when the loop is running.
func (c *Controller) sensorGate(op string) (*gateway.Gateway, error) {
	gw, err := c.gate()
	if err != nil {
		return nil, err
	}
	if !c.Running() {
		return nil, &health.OperationError{Op: op, Status: c.monitor.Status(), Err: health.ErrLoopNotRunning}
	}

	return gw, nil
}

func (c *Controller) sensorError(op string, err error) error {
	if errors.Is(err, gateway.ErrInvalidChannel) {
		c.journal.Errorf(moduleSensor, 0, "%s: %v", op, err)
	}

	return err
}

// ReadDigital returns digital input ch (1-8).
func (c *Controller) ReadDigital(ch int) (bool, error) {
	gw, err := c.sensorGate("read digital input")
	if err != nil {
		return false, err
	}
	v, err := gw.ReadDigital(ch)

	return v, c.sensorError("read digital input", err)
}

// ReadAllDigital returns every digital input, index 0 = input 1.
func (c *Controller) ReadAllDigital() ([gateway.DigitalChannels]bool, error) {
	gw, err := c.sensorGate("read digital inputs")
	if err != nil {
		return [gateway.DigitalChannels]bool{}, err
	}

	return gw.ReadAllDigital()
}

// ReadAnalogRaw returns the raw ADC value of analog channel ch (1-4).
func (c *Controller) ReadAnalogRaw(ch int) (int16, error) {
	gw, err := c.sensorGate("read analog input")
	if err != nil {
		return 0, err
	}
	v, err := gw.ReadAnalogRaw(ch)

	return v, c.sensorError("read analog input", err)
}

// ReadReading returns the derived reading of analog channel ch.
func (c *Controller) ReadReading(ch int) (sensor.Reading, error) {
	gw, err := c.sensorGate("read pressure")
	if err != nil {
		return sensor.Reading{Channel: ch, Status: sensor.OutOfRange}, err
	}
	r, err := gw.ReadReading(ch)

	return r, c.sensorError("read pressure", err)
}

// ReadAllReadings returns the derived readings of every analog channel.
func (c *Controller) ReadAllReadings() ([sensor.Channels]sensor.Reading, error) {
	gw, err := c.sensorGate("read pressures")
	if err != nil {
		return [sensor.Channels]sensor.Reading{}, err
	}

	return gw.ReadAllReadings()
}

// ReadCurrent returns the loop current of channel ch in mA.
func (c *Controller) ReadCurrent(ch int) (float64, error) {
	r, err := c.ReadReading(ch)
	return r.Current, err
}

// ReadPressure returns the pressure of channel ch in bar.
func (c *Controller) ReadPressure(ch int) (float64, error) {
	r, err := c.ReadReading(ch)
	return r.Pressure, err
}

// PressureStatus classifies channel ch. An invalid channel yields OutOfRange.
func (c *Controller) PressureStatus(ch int) (sensor.Status, error) {
	r, err := c.ReadReading(ch)
	if err != nil && errors.Is(err, gateway.ErrInvalidChannel) {
		return sensor.OutOfRange, err
	}

	return r.Status, err
}

// ReadAllPressures returns the pressure of every channel in bar.
func (c *Controller) ReadAllPressures() ([sensor.Channels]float64, error) {
	var out [sensor.Channels]float64
	rs, err := c.ReadAllReadings()
	if err != nil {
		return out, err
	}
	for i, r := range rs {
		out[i] = r.Pressure
	}

	return out, nil
}

// ReadAllCurrents returns the loop current of every channel in mA.
func (c *Controller) ReadAllCurrents() ([sensor.Channels]float64, error) {
	var out [sensor.Channels]float64
	rs, err := c.ReadAllReadings()
	if err != nil {
		return out, err
	}
	for i, r := range rs {
		out[i] = r.Current
	}

	return out, nil
}

// ReadPressureAsync reads channel ch on the task queue and passes the result to fn.
func (c *Controller) ReadPressureAsync(ch int, fn func(sensor.Reading, error)) error {
	if fn == nil {
		return errors.New("nil callback")
	}

	return c.submit(fmt.Sprintf("read pressure %d", ch), func() {
		fn(c.ReadReading(ch))
	})
}

// ReadAllPressuresAsync reads every channel on the task queue and passes the result to fn.
func (c *Controller) ReadAllPressuresAsync(fn func([sensor.Channels]sensor.Reading, error)) error {
	if fn == nil {
		return errors.New("nil callback")
	}

	return c.submit("read pressures", func() {
		fn(c.ReadAllReadings())
	})
}

// DomainSnapshot is a structured dump of the process data.
type DomainSnapshot struct {
	Time       time.Time                       `json:"time"`
	Digital    [gateway.DigitalChannels]bool   `json:"digital_inputs"`
	Readings   [sensor.Channels]sensor.Reading `json:"readings"`
	Relays     [gateway.RelayChannels]bool     `json:"relays"`
	Committed  uint8                           `json:"committed_relay_mask"`
	Health     health.StateInfo                `json:"health"`
	Iterations uint64                          `json:"iterations"`
}

// DomainSnapshot reads every channel at once. It needs an initialized master but not a running loop.
func (c *Controller) DomainSnapshot() (DomainSnapshot, error) {
	snap := DomainSnapshot{Time: time.Now(), Health: c.monitor.StateInfo()}
	gw, err := c.gate()
	if err != nil {
		return snap, err
	}

	if snap.Digital, err = gw.ReadAllDigital(); err != nil {
		return snap, err
	}
	if snap.Readings, err = gw.ReadAllReadings(); err != nil {
		return snap, err
	}
	if snap.Committed, err = gw.CommittedRelays(); err != nil {
		return snap, err
	}
	snap.Relays = gw.Relays().States()
	snap.Iterations = c.LoopMetrics().Iterations

	return snap, nil
}
