package sensor

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversion_ZeroPoint(t *testing.T) {
	assert := assert.New(t)

	assert.InDelta(4.0, CurrentFromRaw(0), 0.01)
	assert.InDelta(0.0, PressureFromRaw(0), 0.01)
	assert.Equal(Normal, ClassifyRaw(0))
}

func TestConversion_FullScale(t *testing.T) {
	assert := assert.New(t)

	assert.InDelta(20.0, CurrentFromRaw(ADCMax), 0.001)
	assert.InDelta(100.0, PressureFromRaw(ADCMax), 0.001)
}

func TestConversion_Monotonic(t *testing.T) {
	prevCurrent := math.Inf(-1)
	prevPressure := math.Inf(-1)
	for raw := math.MinInt16; raw <= math.MaxInt16; raw++ {
		c := CurrentFromRaw(int16(raw))
		p := PressureFromRaw(int16(raw))
		if c < prevCurrent || p < prevPressure {
			t.Fatalf("conversion not monotonic at raw=%d", raw)
		}
		if p < 0 {
			t.Fatalf("negative pressure at raw=%d", raw)
		}
		prevCurrent, prevPressure = c, p
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		mA   float64
		bar  float64
		want Status
	}{
		{"normal", 12, 50, Normal},
		{"fault low wins over everything", 2.9, 500, SensorError},
		{"fault high", 21.5, 109, SensorError},
		{"zero drift", 3.5, 0, ZeroDrift},
		{"zero drift boundary", 3.8, 0, Normal},
		{"over range", 20.5, 103, OverRange},
		{"overload", 20.9, 201, Overload},
		{"overload beats over range", 20, 250, Overload},
		{"upper band edge", 21, 100, Normal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.mA, tt.bar))
		})
	}
}

func TestClassify_SensorErrorBelow3mA(t *testing.T) {
	for mA := -10.0; mA < 3.0; mA += 0.05 {
		for _, bar := range []float64{0, 50, 150, 900} {
			assert.Equal(t, SensorError, Classify(mA, bar))
		}
	}
}

func TestClassifyRaw_NegativeRaw(t *testing.T) {
	// roughly -2048 raw is 3 mA
	assert.Equal(t, SensorError, ClassifyRaw(-4000))
	assert.Equal(t, ZeroDrift, ClassifyRaw(RawFromCurrent(3.5)))
}

func TestNewReading(t *testing.T) {
	assert := assert.New(t)

	r := NewReading(2, RawFromPressure(22))
	assert.Equal(2, r.Channel)
	assert.InDelta(22, r.Pressure, 0.01)
	assert.Equal(Normal, r.Status)

	bad := NewReading(5, 1234)
	assert.Equal(OutOfRange, bad.Status)
	assert.Zero(bad.Pressure)

	assert.Contains(r.String(), "AI2")
}

func TestRawFromPressure_RoundTrip(t *testing.T) {
	for _, bar := range []float64{0, 1, 22, 55.5, 100} {
		assert.InDelta(t, bar, PressureFromRaw(RawFromPressure(bar)), 0.01)
	}
	assert.Equal(t, int16(math.MaxInt16), RawFromPressure(1000))
}

func TestStatus_Text(t *testing.T) {
	assert := assert.New(t)

	for st := Normal; st <= OutOfRange; st++ {
		b, err := st.MarshalText()
		require.NoError(t, err)
		var got Status
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(st, got)
		assert.NotEmpty(st.Description())
	}
	var s Status
	assert.Error(s.UnmarshalText([]byte("Melted")))
	assert.Equal("Status(42)", Status(42).String())

	b, err := json.Marshal(NewReading(1, RawFromPressure(12.345)))
	require.NoError(t, err)
	assert.Contains(string(b), `"status":"Normal"`)
}
