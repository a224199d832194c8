//go:build !tinygo

package drivers

import (
	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

// GpioLed drives a status LED on a Raspberry Pi pin.
type GpioLed struct {
	Pin    uint8
	Invert bool

	isReady bool
}

func (led *GpioLed) Setup() error {
	err := rpio.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to setup gpio led on pin %d", led.Pin)
	}

	rpio.Pin(led.Pin).Output()
	led.isReady = true

	return led.Set(false)
}

func (led *GpioLed) IsReady() bool {
	return led.isReady
}

func (led *GpioLed) Set(on bool) error {
	if !led.isReady {
		return errors.Errorf("gpio led on pin %d not set up", led.Pin)
	}

	if led.Invert {
		on = !on
	}
	if on {
		rpio.Pin(led.Pin).High()
	} else {
		rpio.Pin(led.Pin).Low()
	}

	return nil
}

func (led *GpioLed) Close() error {
	if !led.isReady {
		return nil
	}
	led.Set(false)
	led.isReady = false
	return rpio.Close()
}
