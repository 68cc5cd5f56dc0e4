package sensor

import (
	"fmt"
	"time"
)

// Reader takes one BME280 measurement cycle
type Reader struct {
	sensor    Sensor
	enabled   ChannelSet
	forwarder *Forwarder
	now       func() time.Time
}

// NewReader builds a reader. forwarder may be nil to disable the serial relay.
func NewReader(s Sensor, enabled ChannelSet, forwarder *Forwarder) *Reader {
	return &Reader{
		sensor:    s,
		enabled:   enabled,
		forwarder: forwarder,
		now:       time.Now,
	}
}

// GetMeasurement reads the enabled raw channels, derives dewpoint, altitude
// and VPD when their inputs are enabled, then hands the result to the serial
// forwarder. Sensor errors are returned; forwarding errors are not.
func (r *Reader) GetMeasurement() (Measurements, error) {
	meas := newMeasurements()
	ts := r.now().UTC()

	if r.enabled.Enabled(ChannelTemperature) {
		v, err := r.sensor.ReadTemperature()
		if err != nil {
			return nil, fmt.Errorf("read temperature: %w", err)
		}
		meas.set(ChannelTemperature, v, ts)
	}

	if r.enabled.Enabled(ChannelHumidity) {
		v, err := r.sensor.ReadHumidity()
		if err != nil {
			return nil, fmt.Errorf("read humidity: %w", err)
		}
		meas.set(ChannelHumidity, v, ts)
	}

	if r.enabled.Enabled(ChannelPressure) {
		v, err := r.sensor.ReadPressure()
		if err != nil {
			return nil, fmt.Errorf("read pressure: %w", err)
		}
		meas.set(ChannelPressure, v, ts)
	}

	temp, hasTemp := meas.Get(ChannelTemperature)
	hum, hasHum := meas.Get(ChannelHumidity)
	pres, hasPres := meas.Get(ChannelPressure)

	if r.enabled.Enabled(ChannelDewpoint) && hasTemp && hasHum {
		meas.set(ChannelDewpoint, Dewpoint(temp, hum), ts)
	}

	if r.enabled.Enabled(ChannelAltitude) && hasPres {
		meas.set(ChannelAltitude, Altitude(pres), ts)
	}

	if r.enabled.Enabled(ChannelVaporPressureDeficit) && hasTemp && hasHum {
		meas.set(ChannelVaporPressureDeficit, VaporPressureDeficit(temp, hum), ts)
	}

	if r.forwarder != nil {
		r.forwarder.Forward(meas)
	}
	return meas, nil
}
