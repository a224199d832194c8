//go:build !tinygo

package drivers

import (
	"io"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// OpenI2C opens a Linux I2C bus by periph name ("" for the first one, "1", "/dev/i2c-1").
// speedHz of 0 keeps the adapter default.
func OpenI2C(name string, speedHz uint32) (shared *SharedBus, closer io.Closer, err error) {
	_, err = host.Init()
	if err != nil {
		err = errors.Wrap(err, "failed to init periph host")
		return
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		err = errors.Wrapf(err, "failed to open i2c bus %q", name)
		return
	}

	if speedHz > 0 {
		err = bus.SetSpeed(physic.Frequency(speedHz) * physic.Hertz)
		if err != nil {
			bus.Close()
			err = errors.Wrapf(err, "failed to set i2c bus speed to %d Hz", speedHz)
			return
		}
	}

	shared = NewSharedBus(bus)
	closer = bus
	return
}
