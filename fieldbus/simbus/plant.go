package simbus

import (
	"math"
	"time"

	"github.com/arloliu/footrig/sensor"
)

// PlantConfig parameterizes the hydraulic foot-stand model.
type PlantConfig struct {
	// RiseRate is the pressure gain in bar/s while the support valve (relay 1) is open.
	RiseRate float64
	// FallRate is the pressure loss in bar/s while the retract valve (relay 2) is open.
	FallRate float64
	// SupplyPressure caps the pressure reachable while supporting.
	SupplyPressure float64
	// LeakRate is the pressure loss in bar/s while both valves are closed.
	LeakRate float64
	// Gain scales RiseRate and FallRate per channel, modelling uneven cylinders.
	Gain [sensor.Channels]float64
}

// DefaultPlantConfig returns a model that reaches 22 bar in roughly 1.6 s and vents to 0 in 2 s.
func DefaultPlantConfig() PlantConfig {
	return PlantConfig{
		RiseRate:       14,
		FallRate:       15,
		SupplyPressure: 30,
		LeakRate:       0,
		Gain:           [sensor.Channels]float64{1, 1.02, 1.05, 1.08},
	}
}

type plant struct {
	cfg      PlantConfig
	pressure [sensor.Channels]float64
	forced   [sensor.Channels]*int16
	valves   uint8
	last     time.Time
}

func newPlant(cfg PlantConfig) *plant {
	for i, g := range cfg.Gain {
		if g <= 0 {
			cfg.Gain[i] = 1
		}
	}
	return &plant{cfg: cfg}
}

// step advances the model to now using the valve state latched by the last Send.
func (p *plant) step(now time.Time) {
	if p.last.IsZero() {
		p.last = now
		return
	}
	dt := now.Sub(p.last).Seconds()
	p.last = now
	if dt <= 0 {
		return
	}

	support := p.valves&0x01 != 0
	retract := p.valves&0x02 != 0
	for i := range p.pressure {
		switch {
		case support && !retract:
			p.pressure[i] = math.Min(p.pressure[i]+p.cfg.RiseRate*p.cfg.Gain[i]*dt, p.cfg.SupplyPressure)
		case retract && !support:
			p.pressure[i] = math.Max(p.pressure[i]-p.cfg.FallRate*p.cfg.Gain[i]*dt, 0)
		default:
			p.pressure[i] = math.Max(p.pressure[i]-p.cfg.LeakRate*dt, 0)
		}
	}
}

func (p *plant) raw(ch int) int16 {
	if f := p.forced[ch]; f != nil {
		return *f
	}
	return sensor.RawFromPressure(p.pressure[ch])
}
