package drivers

import (
	"context"

	"github.com/pkg/errors"
)

// Bus is a raw I2C bus: write w, then (repeated start) read into r, in one transaction.
// periph.io i2c buses and tinygo drivers.I2C both satisfy it.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// SharedBus serializes transactions of every component talking on the same bus,
// so frames of the button monitor never interleave with e.g. codec register writes.
type SharedBus struct {
	bus  Bus
	lock chan struct{}
}

func NewSharedBus(bus Bus) *SharedBus {
	return &SharedBus{
		bus:  bus,
		lock: make(chan struct{}, 1),
	}
}

// Do runs fn with exclusive access to the bus. Waiting for the bus is bounded by ctx.
func (sb *SharedBus) Do(ctx context.Context, fn func(bus Bus) error) error {
	select {
	case sb.lock <- struct{}{}:
	case <-ctx.Done():
		return errors.Wrap(ErrBusNotReady, ctx.Err().Error())
	}
	defer func() { <-sb.lock }()

	return fn(sb.bus)
}

func (sb *SharedBus) Tx(ctx context.Context, addr uint16, w, r []byte) error {
	return sb.Do(ctx, func(bus Bus) error {
		return bus.Tx(addr, w, r)
	})
}

// Locked returns a Bus for other drivers on the same wire; every Tx takes the shared lock.
func (sb *SharedBus) Locked() Bus {
	return &lockedBus{shared: sb}
}

type lockedBus struct {
	shared *SharedBus
}

func (lb *lockedBus) Tx(addr uint16, w, r []byte) error {
	return lb.shared.Tx(context.Background(), addr, w, r)
}
