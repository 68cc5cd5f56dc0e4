package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// Sensor is the raw BME280 interface used by Reader
type Sensor interface {
	ReadTemperature() (float64, error) // °C
	ReadHumidity() (float64, error)    // %RH
	ReadPressure() (float64, error)    // Pa
}

// BME280 talks to the chip over I2C through periph
type BME280 struct {
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

// OpenBME280 opens the named I2C bus ("" selects the first one) and the
// device at addr (0x76 or 0x77).
func OpenBME280(busName string, addr uint16) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("bme280 at 0x%02x: %w", addr, err)
	}
	return &BME280{bus: bus, dev: dev}, nil
}

func (b *BME280) sense() (physic.Env, error) {
	var env physic.Env
	err := b.dev.Sense(&env)
	return env, err
}

func (b *BME280) ReadTemperature() (float64, error) {
	env, err := b.sense()
	if err != nil {
		return 0, err
	}
	return float64(env.Temperature-physic.ZeroCelsius) / float64(physic.Kelvin), nil
}

func (b *BME280) ReadHumidity() (float64, error) {
	env, err := b.sense()
	if err != nil {
		return 0, err
	}
	return float64(env.Humidity) / float64(physic.PercentRH), nil
}

func (b *BME280) ReadPressure() (float64, error) {
	env, err := b.sense()
	if err != nil {
		return 0, err
	}
	return float64(env.Pressure) / float64(physic.Pascal), nil
}

// Close halts the device and releases the bus
func (b *BME280) Close() error {
	if err := b.dev.Halt(); err != nil {
		b.bus.Close()
		return err
	}
	return b.bus.Close()
}
