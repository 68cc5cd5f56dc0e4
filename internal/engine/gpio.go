package engine

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIOReader reads the level of a pin: 1 high, 0 low
type GPIOReader interface {
	Read(pin int) (int, error)
}

// PeriphGPIO reads pins through the host's periph drivers
type PeriphGPIO struct{}

// NewPeriphGPIO initialises the host drivers
func NewPeriphGPIO() (*PeriphGPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return &PeriphGPIO{}, nil
}

func (PeriphGPIO) Read(pin int) (int, error) {
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return 0, fmt.Errorf("gpio %d not found", pin)
	}
	if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return 0, fmt.Errorf("gpio %d as input: %w", pin, err)
	}
	if p.Read() == gpio.High {
		return 1, nil
	}
	return 0, nil
}
