// Package sensor reads the BME280 and relays a subset of its readings to a
// LoRaWAN serial bridge.
package sensor

import "time"

// Measurement channels of the BME280 input
const (
	ChannelTemperature = iota
	ChannelHumidity
	ChannelPressure
	ChannelDewpoint
	ChannelAltitude
	ChannelVaporPressureDeficit
)

// Measurement describes one channel and, once set, its latest value
type Measurement struct {
	Channel     int        `json:"channel"`
	Measurement string     `json:"measurement"`
	Unit        string     `json:"unit"`
	Value       *float64   `json:"value,omitempty"`
	Timestamp   *time.Time `json:"timestamp_utc,omitempty"`
}

// Definitions lists the channels of the input
var Definitions = map[int]Measurement{
	ChannelTemperature:          {Channel: ChannelTemperature, Measurement: "temperature", Unit: "C"},
	ChannelHumidity:             {Channel: ChannelHumidity, Measurement: "humidity", Unit: "percent"},
	ChannelPressure:             {Channel: ChannelPressure, Measurement: "pressure", Unit: "Pa"},
	ChannelDewpoint:             {Channel: ChannelDewpoint, Measurement: "dewpoint", Unit: "C"},
	ChannelAltitude:             {Channel: ChannelAltitude, Measurement: "altitude", Unit: "m"},
	ChannelVaporPressureDeficit: {Channel: ChannelVaporPressureDeficit, Measurement: "vapor_pressure_deficit", Unit: "Pa"},
}

// Measurements maps channel to measurement
type Measurements map[int]Measurement

func newMeasurements() Measurements {
	out := make(Measurements, len(Definitions))
	for ch, def := range Definitions {
		out[ch] = def
	}
	return out
}

// Get returns the value of a channel, if set
func (m Measurements) Get(channel int) (float64, bool) {
	meas, ok := m[channel]
	if !ok || meas.Value == nil {
		return 0, false
	}
	return *meas.Value, true
}

func (m Measurements) set(channel int, value float64, ts time.Time) {
	meas := m[channel]
	meas.Value = &value
	meas.Timestamp = &ts
	m[channel] = meas
}

// Populated returns only the channels holding a value
func (m Measurements) Populated() Measurements {
	out := make(Measurements)
	for ch, meas := range m {
		if meas.Value != nil {
			out[ch] = meas
		}
	}
	return out
}

// ChannelSet is the set of enabled channels
type ChannelSet map[int]bool

// NewChannelSet builds a set from a channel list
func NewChannelSet(channels ...int) ChannelSet {
	s := make(ChannelSet, len(channels))
	for _, ch := range channels {
		s[ch] = true
	}
	return s
}

func (s ChannelSet) Enabled(channel int) bool {
	return s[channel]
}
