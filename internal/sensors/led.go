package sensors

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// LED is a liveness indicator on a GPIO pin.
type LED struct {
	pin gpio.PinOut
	on  bool
}

// NewLED claims the named GPIO pin (e.g. "GPIO17") and switches it off.
func NewLED(name string) (*LED, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "LED: periph host init")
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("LED: pin %q not found", name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, errors.Wrapf(err, "LED: set %s low", name)
	}
	return &LED{pin: pin}, nil
}

// Toggle flips the LED.
func (l *LED) Toggle() error {
	l.on = !l.on
	return l.pin.Out(gpio.Level(l.on))
}

// Off switches the LED off.
func (l *LED) Off() error {
	l.on = false
	return l.pin.Out(gpio.Low)
}
