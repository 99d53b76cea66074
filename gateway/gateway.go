// Package gateway maps logical rig channels onto the fieldbus process image.
package gateway

import (
	"fmt"
	"sync/atomic"

	"github.com/arloliu/footrig/fieldbus"
	"github.com/arloliu/footrig/sensor"
)

// DigitalChannels is the number of digital inputs.
const DigitalChannels = 8

// Layout holds the byte offsets of every logical channel inside the process image.
//
// Digital inputs share one byte, bit n-1 is input n. The relay bank is one byte, bit n-1 is relay n.
type Layout struct {
	DigitalInputs int
	Analog        [sensor.Channels]int
	Relays        int
}

// LayoutFromBindings builds a Layout from the offsets returned for the topology bindings.
func LayoutFromBindings(bindings []fieldbus.Binding, offsets []int) (Layout, error) {
	var l Layout
	if len(bindings) != len(offsets) {
		return l, fmt.Errorf("%w: %d bindings but %d offsets", fieldbus.ErrRegisterPdo, len(bindings), len(offsets))
	}

	seen := map[fieldbus.Role]int{}
	for i, b := range bindings {
		switch b.Role {
		case fieldbus.RoleDigitalInputs:
			l.DigitalInputs = offsets[i]
		case fieldbus.RoleRelayOutputs:
			l.Relays = offsets[i]
		case fieldbus.RoleAnalogValue:
			if !sensor.ValidChannel(b.Channel) {
				return l, fmt.Errorf("%w: analog binding for channel %d", ErrInvalidChannel, b.Channel)
			}
			l.Analog[b.Channel-1] = offsets[i]
		}
		seen[b.Role]++
	}

	if seen[fieldbus.RoleDigitalInputs] != 1 || seen[fieldbus.RoleRelayOutputs] != 1 || seen[fieldbus.RoleAnalogValue] != sensor.Channels {
		return l, fmt.Errorf("%w: incomplete binding set %v", fieldbus.ErrRegisterPdo, seen)
	}

	return l, nil
}

type imageRef struct {
	img fieldbus.ProcessImage
}

// Gateway provides typed, fail-closed access to the process image.
//
// Reads return the zero value together with an error for invalid channels or before Attach.
// Gateway is safe for concurrent use.
type Gateway struct {
	layout Layout
	image  atomic.Pointer[imageRef]
	relays RelayBank
}

// New creates a Gateway for the given layout.
func New(layout Layout) *Gateway {
	return &Gateway{layout: layout}
}

// Layout returns the channel offsets.
func (g *Gateway) Layout() Layout {
	return g.layout
}

// Attach publishes the process image of an activated master.
func (g *Gateway) Attach(img fieldbus.ProcessImage) {
	if img == nil {
		g.image.Store(nil)
		return
	}
	g.image.Store(&imageRef{img: img})
}

// Detach drops the process image; subsequent reads fail with ErrImageUnavailable.
func (g *Gateway) Detach() {
	g.image.Store(nil)
}

// Attached reports whether a process image is available.
func (g *Gateway) Attached() bool {
	return g.image.Load() != nil
}

// Relays returns the relay bank committed by CommitRelays.
func (g *Gateway) Relays() *RelayBank {
	return &g.relays
}

func (g *Gateway) img() (fieldbus.ProcessImage, error) {
	ref := g.image.Load()
	if ref == nil {
		return nil, ErrImageUnavailable
	}
	return ref.img, nil
}

// ReadDigital returns digital input ch (1-8).
func (g *Gateway) ReadDigital(ch int) (bool, error) {
	if ch < 1 || ch > DigitalChannels {
		return false, fmt.Errorf("%w: digital input %d, want 1-%d", ErrInvalidChannel, ch, DigitalChannels)
	}
	img, err := g.img()
	if err != nil {
		return false, err
	}
	v, err := img.ReadU8(g.layout.DigitalInputs)
	if err != nil {
		return false, err
	}

	return v&(1<<(ch-1)) != 0, nil
}

// ReadAllDigital returns all digital inputs, index 0 = input 1.
func (g *Gateway) ReadAllDigital() ([DigitalChannels]bool, error) {
	var out [DigitalChannels]bool
	img, err := g.img()
	if err != nil {
		return out, err
	}
	v, err := img.ReadU8(g.layout.DigitalInputs)
	if err != nil {
		return out, err
	}
	for i := range out {
		out[i] = v&(1<<i) != 0
	}

	return out, nil
}

// ReadAnalogRaw returns the raw value of analog channel ch (1-4).
func (g *Gateway) ReadAnalogRaw(ch int) (int16, error) {
	if !sensor.ValidChannel(ch) {
		return 0, fmt.Errorf("%w: analog input %d, want 1-%d", ErrInvalidChannel, ch, sensor.Channels)
	}
	img, err := g.img()
	if err != nil {
		return 0, err
	}

	return img.ReadS16(g.layout.Analog[ch-1])
}

// ReadAllAnalogRaw returns the raw values of all analog channels.
func (g *Gateway) ReadAllAnalogRaw() ([sensor.Channels]int16, error) {
	var out [sensor.Channels]int16
	img, err := g.img()
	if err != nil {
		return out, err
	}
	for i := range out {
		v, err := img.ReadS16(g.layout.Analog[i])
		if err != nil {
			return out, err
		}
		out[i] = v
	}

	return out, nil
}

// ReadReading returns the derived reading for analog channel ch.
func (g *Gateway) ReadReading(ch int) (sensor.Reading, error) {
	raw, err := g.ReadAnalogRaw(ch)
	if err != nil {
		return sensor.Reading{Channel: ch, Status: sensor.OutOfRange}, err
	}
	return sensor.NewReading(ch, raw), nil
}

// ReadAllReadings returns the derived readings of all analog channels.
func (g *Gateway) ReadAllReadings() ([sensor.Channels]sensor.Reading, error) {
	var out [sensor.Channels]sensor.Reading
	raws, err := g.ReadAllAnalogRaw()
	if err != nil {
		return out, err
	}
	for i, raw := range raws {
		out[i] = sensor.NewReading(i+1, raw)
	}

	return out, nil
}

// CommitRelays writes the current relay mask into the process image.
// It is called by the cyclic loop only.
func (g *Gateway) CommitRelays() error {
	img, err := g.img()
	if err != nil {
		return err
	}
	return img.WriteU8(g.layout.Relays, g.relays.Mask())
}

// CommittedRelays reads back the relay byte currently in the process image.
func (g *Gateway) CommittedRelays() (uint8, error) {
	img, err := g.img()
	if err != nil {
		return 0, err
	}
	return img.ReadU8(g.layout.Relays)
}
