package drivers

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// ErrDiscoveryFailed is returned by Discover when no resource id in the probe range
// answers the gpio bitmap read.
var ErrDiscoveryFailed = errors.New("no gpio resource id found")

// ErrBusNotReady is returned when the shared bus could not be acquired in time.
var ErrBusNotReady = errors.New("i2c bus not ready")

type TransportKind int

const (
	TransportNack TransportKind = iota
	TransportTimeout
	TransportNotReady
)

func (tk TransportKind) String() string {
	switch tk {
	case TransportNack:
		return "NACK/BUS_ERROR"
	case TransportTimeout:
		return "TIMEOUT"
	case TransportNotReady:
		return "NOT_READY"
	}
	return "UNKNOWN"
}

// TransportError means the bus exchange itself failed: the device did not ack,
// the call ran past its deadline or the bus was held by someone else.
type TransportError struct {
	Kind       TransportKind
	ResourceId uint8
	Command    uint8
	Err        error
}

func (te *TransportError) Error() string {
	return fmt.Sprintf("xvf3800 transport %s (res 0x%02X cmd 0x%02X): %v", te.Kind, te.ResourceId, te.Command, te.Err)
}

func (te *TransportError) Unwrap() error {
	return te.Err
}

// ProtocolError means the exchange went through but the status byte was not success.
type ProtocolError struct {
	ResourceId uint8
	Command    uint8
	Status     uint8
}

func (pe *ProtocolError) Error() string {
	return fmt.Sprintf("xvf3800 command (res 0x%02X cmd 0x%02X) returned status 0x%02X", pe.ResourceId, pe.Command, pe.Status)
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func newTransportError(resourceId, command uint8, err error) *TransportError {
	kind := TransportNack
	switch {
	case errors.Is(err, ErrBusNotReady):
		kind = TransportNotReady
	case errors.Is(err, context.DeadlineExceeded):
		kind = TransportTimeout
	}

	return &TransportError{
		Kind:       kind,
		ResourceId: resourceId,
		Command:    command,
		Err:        err,
	}
}

func IsDiscoveryFailed(err error) bool {
	return errors.Is(err, ErrDiscoveryFailed)
}
