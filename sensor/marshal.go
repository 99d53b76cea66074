package sensor

import (
	"encoding/json"
	"fmt"
)

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name produced by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for st := Normal; st <= OutOfRange; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown sensor status %q", string(b))
}

var (
	_ json.Marshaler = Reading{}
)

// MarshalJSON rounds derived values to two decimals.
func (r Reading) MarshalJSON() ([]byte, error) {
	type wire struct {
		Channel  int     `json:"channel"`
		Raw      int16   `json:"raw"`
		Current  float64 `json:"current_ma"`
		Pressure float64 `json:"pressure_bar"`
		Status   Status  `json:"status"`
	}
	return json.Marshal(wire{
		Channel:  r.Channel,
		Raw:      r.Raw,
		Current:  round2(r.Current),
		Pressure: round2(r.Pressure),
		Status:   r.Status,
	})
}

func round2(v float64) float64 {
	if v < 0 {
		return -float64(int64(-v*100+0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}
