package drivers

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

const xvf3800DriverName = "xvf3800"

const (
	Xvf3800DefaultAddress uint16 = 0x2C

	ResourceIdMin uint8 = 0x00
	ResourceIdMax uint8 = 0x20

	// resource id the firmware usually exposes gpio on; only used for diagnostics
	expectedGpioResourceId uint8 = 0x08

	CmdGpiIndex    uint8 = 0x01
	CmdGpiValue    uint8 = 0x02
	CmdGpiValueAll uint8 = 0x03
)

const defaultCommandTimeout = 100 * time.Millisecond
const defaultProbeTimeout = 50 * time.Millisecond
const gpiIndexSettleDelay = 5 * time.Millisecond

type Xvf3800 struct {
	Address        uint16
	CommandTimeout time.Duration
	ProbeTimeout   time.Duration

	bus        *SharedBus
	resourceId uint8
	discovered bool
	logger     *log.Logger
}

func NewXvf3800(bus *SharedBus, logger *log.Logger) *Xvf3800 {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "XVF3800: ",
			Level:  log.GetLevel(),
		})
	}

	return &Xvf3800{
		Address:        Xvf3800DefaultAddress,
		CommandTimeout: defaultCommandTimeout,
		ProbeTimeout:   defaultProbeTimeout,
		bus:            bus,
		logger:         logger,
	}
}

func (xvf *Xvf3800) String() string {
	return xvf3800DriverName
}

// ResourceId returns the discovered gpio resource id; ok is false before Discover succeeded.
func (xvf *Xvf3800) ResourceId() (id uint8, ok bool) {
	return xvf.resourceId, xvf.discovered
}

// transact runs fn under the bus lock with a bounded deadline. A reply that
// arrives after the deadline is discarded and reported as timeout.
func (xvf *Xvf3800) transact(ctx context.Context, timeout time.Duration, resourceId, command uint8, fn func(bus Bus) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := xvf.bus.Do(ctx, fn)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return newTransportError(resourceId, command, err)
	}

	return nil
}

// Probe checks that something acks the device address.
func (xvf *Xvf3800) Probe(ctx context.Context) error {
	return xvf.transact(ctx, xvf.CommandTimeout, 0, 0, func(bus Bus) error {
		return bus.Tx(xvf.Address, []byte{}, nil)
	})
}

// WriteCommand sends [resource, command, length, payload...] and reads back one status byte.
func (xvf *Xvf3800) WriteCommand(ctx context.Context, resourceId, command uint8, payload []byte) error {
	frame, err := BuildWriteFrame(resourceId, command, payload)
	if err != nil {
		return err
	}

	status := []byte{0xFF}
	err = xvf.transact(ctx, xvf.CommandTimeout, resourceId, command, func(bus Bus) error {
		txErr := bus.Tx(xvf.Address, frame, nil)
		if txErr != nil {
			return txErr
		}
		return bus.Tx(xvf.Address, nil, status)
	})
	if err != nil {
		xvf.logger.Debug("write cmd failed", "res", hexByte(resourceId), "cmd", hexByte(command), "err", err)
		return err
	}

	if status[0] != StatusSuccess {
		xvf.logger.Debug("write cmd returned bad status", "status", hexByte(status[0]))
		return &ProtocolError{ResourceId: resourceId, Command: command, Status: status[0]}
	}

	return nil
}

// ReadCommand sends the read frame and reads status + replyLen bytes in the same transaction.
func (xvf *Xvf3800) ReadCommand(ctx context.Context, resourceId, command uint8, replyLen int) ([]byte, error) {
	return xvf.readCommand(ctx, xvf.CommandTimeout, resourceId, command, replyLen)
}

func (xvf *Xvf3800) readCommand(ctx context.Context, timeout time.Duration, resourceId, command uint8, replyLen int) ([]byte, error) {
	frame, err := BuildReadFrame(resourceId, command, replyLen)
	if err != nil {
		return nil, err
	}

	reply := make([]byte, replyLen+1)
	err = xvf.transact(ctx, timeout, resourceId, command, func(bus Bus) error {
		return bus.Tx(xvf.Address, frame, reply)
	})
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			xvf.logger.Debug("i2c error detail", "kind", te.Kind, "res", hexByte(resourceId), "cmd", hexByte(command), "err", te.Err)
		}
		return nil, err
	}

	payload, err := ParseReadReply(resourceId, command, reply, replyLen)
	if err != nil {
		xvf.logger.Debug("read cmd status error", "res", hexByte(resourceId), "cmd", hexByte(command), "err", err)
		return nil, err
	}

	return payload, nil
}

// Discover scans ResourceIdMin..ResourceIdMax in ascending order and keeps the first id
// answering the gpio bitmap read with success status.
func (xvf *Xvf3800) Discover(ctx context.Context) (uint8, error) {
	xvf.logger.Info("initializing", "addr", hexByte(uint8(xvf.Address)))

	err := xvf.Probe(ctx)
	if err != nil {
		xvf.logger.Warn("probe failed, scanning anyway", "err", err)
	} else {
		xvf.logger.Info("device acked address", "addr", hexByte(uint8(xvf.Address)))
	}

	xvf.logger.Info("scanning for gpio resource id", "from", hexByte(ResourceIdMin), "to", hexByte(ResourceIdMax))
	for id := int(ResourceIdMin); id <= int(ResourceIdMax); id++ {
		if ctx.Err() != nil {
			return 0, errors.Wrap(ctx.Err(), "discovery interrupted")
		}

		resourceId := uint8(id)
		payload, probeErr := xvf.readCommand(ctx, xvf.ProbeTimeout, resourceId, CmdGpiValueAll, gpioBitmapLength)
		if probeErr != nil {
			continue
		}

		bitmap, _ := DecodeGpioBitmap(payload)
		xvf.resourceId = resourceId
		xvf.discovered = true

		xvf.logger.Info("found gpio resource id", "res", hexByte(resourceId), "bitmap", bitmap)
		if resourceId != expectedGpioResourceId {
			xvf.logger.Warn("gpio resource id differs from the usual firmware layout", "found", hexByte(resourceId), "usual", hexByte(expectedGpioResourceId))
		}

		return resourceId, nil
	}

	xvf.logger.Error("no valid gpio resource id in range, device may need firmware initialization first")
	return 0, errors.Wrapf(ErrDiscoveryFailed, "scanned 0x%02X..0x%02X at 0x%02X", ResourceIdMin, ResourceIdMax, xvf.Address)
}

// ReadGpiAll reads all GPI levels as one bitmap. No retries.
func (xvf *Xvf3800) ReadGpiAll(ctx context.Context) (GpioBitmap, error) {
	if !xvf.discovered {
		return 0, errors.New("gpio resource id not discovered")
	}

	payload, err := xvf.ReadCommand(ctx, xvf.resourceId, CmdGpiValueAll, gpioBitmapLength)
	if err != nil {
		return 0, err
	}

	bitmap, err := DecodeGpioBitmap(payload)
	if err != nil {
		return 0, err
	}

	xvf.logger.Debug("gpi all", "bitmap", bitmap, "bit0", bitmap.Level(GpiMuteButton), "bit1", bitmap.Level(GpiActionButton))
	return bitmap, nil
}

// ReadGpi returns the logic level of one pin. It uses the bitmap read and falls
// back to selecting the pin with GPI_INDEX and reading GPI_VALUE.
func (xvf *Xvf3800) ReadGpi(ctx context.Context, pin uint8) (level bool, err error) {
	if pin > 31 {
		err = errors.Errorf("gpi pin %d out of range", pin)
		return
	}

	bitmap, err := xvf.ReadGpiAll(ctx)
	if err == nil {
		level = bitmap.Level(pin)
		return
	}
	if !xvf.discovered {
		return
	}

	xvf.logger.Debug("bitmap read failed, trying GPI_INDEX + GPI_VALUE", "pin", pin, "err", err)

	err = xvf.WriteCommand(ctx, xvf.resourceId, CmdGpiIndex, []byte{pin})
	if err != nil {
		err = errors.Wrapf(err, "failed to select gpi index %d", pin)
		return
	}

	select {
	case <-ctx.Done():
		err = ctx.Err()
		return
	case <-time.After(gpiIndexSettleDelay):
	}

	value, err := xvf.ReadCommand(ctx, xvf.resourceId, CmdGpiValue, 1)
	if err != nil {
		err = errors.Wrapf(err, "failed to read gpi value of pin %d", pin)
		return
	}

	level = value[0] != 0
	return
}

func (xvf *Xvf3800) ReadMuteButton(ctx context.Context) (pressed bool, err error) {
	level, err := xvf.ReadGpi(ctx, GpiMuteButton)
	if err != nil {
		return
	}

	pressed = !level
	return
}

func hexByte(b uint8) string {
	return fmt.Sprintf("0x%02X", b)
}
