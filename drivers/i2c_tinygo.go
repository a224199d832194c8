//go:build tinygo

package drivers

import (
	tinydrivers "tinygo.org/x/drivers"
)

// NewTinyGoBus wraps an MCU bus (e.g. machine.I2C0 after Configure) for firmware builds.
func NewTinyGoBus(i2c tinydrivers.I2C) *SharedBus {
	return NewSharedBus(i2c)
}
