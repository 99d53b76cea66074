// Package sensor converts raw 4-20 mA analog readings into pressure and classifies them.
//
// All functions are pure and safe for concurrent use.
package sensor

import (
	"fmt"
	"math"
)

const (
	// ADCMax is the raw value corresponding to full scale.
	ADCMax = 32767

	// CurrentMin and CurrentMax bound the nominal loop current in mA.
	CurrentMin = 4.0
	CurrentMax = 20.0

	// PressureMin and PressureMax bound the nominal measuring range in bar.
	PressureMin = 0.0
	PressureMax = 100.0

	// OverloadPressure is the pressure in bar above which the sensor is overloaded.
	OverloadPressure = 200.0
	// BurstPressure is the rated burst pressure of the transducer in bar.
	BurstPressure = 800.0

	// FaultCurrentLow and FaultCurrentHigh delimit the healthy current band in mA.
	FaultCurrentLow  = 3.0
	FaultCurrentHigh = 21.0
	// ZeroDriftCurrent is the current in mA below which the zero point is considered drifted.
	ZeroDriftCurrent = 3.8

	// Channels is the number of analog pressure channels.
	Channels = 4
)

// Status classifies a pressure reading. Classes are mutually exclusive.
type Status uint8

const (
	Normal Status = iota
	ZeroDrift
	OverRange
	Overload
	SensorError
	OutOfRange
)

func (s Status) String() string {
	switch s {
	case Normal:
		return "Normal"
	case ZeroDrift:
		return "ZeroDrift"
	case OverRange:
		return "OverRange"
	case Overload:
		return "Overload"
	case SensorError:
		return "SensorError"
	case OutOfRange:
		return "OutOfRange"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Description returns a human readable explanation of the status.
func (s Status) Description() string {
	switch s {
	case Normal:
		return "normal"
	case ZeroDrift:
		return "zero drift, current below 3.8 mA"
	case OverRange:
		return "over range, pressure above 100 bar"
	case Overload:
		return "overload, pressure above 200 bar"
	case SensorError:
		return "sensor fault, current outside 3-21 mA"
	case OutOfRange:
		return "invalid channel"
	default:
		return "unknown"
	}
}

// CurrentFromRaw converts a raw ADC value to loop current in mA.
func CurrentFromRaw(raw int16) float64 {
	return float64(raw)*(CurrentMax-CurrentMin)/ADCMax + CurrentMin
}

// PressureFromCurrent converts loop current in mA to pressure in bar, clamped at zero.
func PressureFromCurrent(mA float64) float64 {
	p := (mA - CurrentMin) * (PressureMax - PressureMin) / (CurrentMax - CurrentMin)
	return math.Max(p, 0)
}

// PressureFromRaw converts a raw ADC value directly to pressure in bar.
func PressureFromRaw(raw int16) float64 {
	return PressureFromCurrent(CurrentFromRaw(raw))
}

// Classify returns the status for a current/pressure pair.
//
// Precedence: SensorError > ZeroDrift > Overload > OverRange > Normal.
func Classify(mA, bar float64) Status {
	switch {
	case mA < FaultCurrentLow || mA > FaultCurrentHigh:
		return SensorError
	case mA < ZeroDriftCurrent:
		return ZeroDrift
	case bar > OverloadPressure:
		return Overload
	case bar > PressureMax:
		return OverRange
	default:
		return Normal
	}
}

// ClassifyRaw classifies a raw ADC value.
func ClassifyRaw(raw int16) Status {
	mA := CurrentFromRaw(raw)
	return Classify(mA, PressureFromCurrent(mA))
}

// ValidChannel reports whether ch addresses one of the analog channels (1-based).
func ValidChannel(ch int) bool {
	return ch >= 1 && ch <= Channels
}

// Reading is a fully derived analog sample of one channel.
type Reading struct {
	Channel  int     `json:"channel"`
	Raw      int16   `json:"raw"`
	Current  float64 `json:"current_ma"`
	Pressure float64 `json:"pressure_bar"`
	Status   Status  `json:"status"`
}

// NewReading derives a Reading from a raw value. An invalid channel yields OutOfRange with zero values.
func NewReading(ch int, raw int16) Reading {
	if !ValidChannel(ch) {
		return Reading{Channel: ch, Status: OutOfRange}
	}
	mA := CurrentFromRaw(raw)
	bar := PressureFromCurrent(mA)

	return Reading{Channel: ch, Raw: raw, Current: mA, Pressure: bar, Status: Classify(mA, bar)}
}

func (r Reading) String() string {
	return fmt.Sprintf("AI%d: raw=%d current=%.2fmA pressure=%.2fbar status=%s",
		r.Channel, r.Raw, r.Current, r.Pressure, r.Status)
}

// RawFromPressure returns the raw value that produces approximately bar. It is the inverse used by
// simulators and tests; values are clamped to the int16 range.
func RawFromPressure(bar float64) int16 {
	mA := bar*(CurrentMax-CurrentMin)/(PressureMax-PressureMin) + CurrentMin
	return RawFromCurrent(mA)
}

// RawFromCurrent returns the raw value that produces approximately mA.
func RawFromCurrent(mA float64) int16 {
	raw := math.Round((mA - CurrentMin) * ADCMax / (CurrentMax - CurrentMin))
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, raw)))
}
