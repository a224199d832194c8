package drivers

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
)

var ErrMockNack = errors.New("mock bus: address not acknowledged")
var ErrMockStalled = errors.New("mock bus: device stalled")

// MockBus simulates an XVF3800 on an I2C bus. Resource ids listed in Answers reply
// to gpio commands with success, ids in Nack do not respond at all and every other id
// replies with an error status.
type MockBus struct {
	Address uint16
	Answers map[uint8]bool
	Nack    map[uint8]bool

	// StallWhilePressed makes the device stop responding while any button is held,
	// which is what the real peripheral does.
	StallWhilePressed bool

	lock         sync.Mutex
	bitmap       GpioBitmap
	failures     []error
	gpiIndex     uint8
	lastStatus   uint8
	transactions int
	frames       [][]byte

	writeTo io.Writer
}

// NewMockBus returns a device answering on resourceId with both buttons released.
func NewMockBus(resourceId uint8) *MockBus {
	return &MockBus{
		Address: Xvf3800DefaultAddress,
		Answers: map[uint8]bool{resourceId: true},
		Nack:    map[uint8]bool{},
		bitmap:  GpioBitmap(0xFFFFFFFF),
	}
}

func (mb *MockBus) SetBitmap(bitmap GpioBitmap) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	mb.bitmap = bitmap
}

func (mb *MockBus) Bitmap() GpioBitmap {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	return mb.bitmap
}

func (mb *MockBus) Press(pin uint8) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	mb.bitmap &^= 1 << pin
	mb.logf("[pin %d] pressed\n", pin)
}

func (mb *MockBus) Release(pin uint8) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	mb.bitmap |= 1 << pin
	mb.logf("[pin %d] released\n", pin)
}

// FailNext makes the next n transactions fail with err.
func (mb *MockBus) FailNext(n int, err error) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	for i := 0; i < n; i++ {
		mb.failures = append(mb.failures, err)
	}
}

func (mb *MockBus) Transactions() int {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	return mb.transactions
}

// Frames returns copies of every non-empty frame written to the device.
func (mb *MockBus) Frames() [][]byte {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	frames := make([][]byte, len(mb.frames))
	copy(frames, mb.frames)
	return frames
}

// MonitorTransactions writes pin changes to writer.
func (mb *MockBus) MonitorTransactions(writer io.Writer) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	mb.writeTo = writer
}

func (mb *MockBus) logf(format string, args ...interface{}) {
	if mb.writeTo != nil {
		fmt.Fprintf(mb.writeTo, format, args...)
	}
}

func (mb *MockBus) Tx(addr uint16, w, r []byte) error {
	mb.lock.Lock()
	defer mb.lock.Unlock()

	mb.transactions++

	if addr != mb.Address {
		return ErrMockNack
	}

	if len(mb.failures) > 0 {
		err := mb.failures[0]
		mb.failures = mb.failures[1:]
		return err
	}

	if mb.StallWhilePressed && mb.bitmap&0x03 != 0x03 {
		return ErrMockStalled
	}

	if len(w) > 0 {
		mb.frames = append(mb.frames, append([]byte(nil), w...))
	}

	switch {
	case len(w) == 0 && len(r) == 0:
		return nil

	case len(w) == 0:
		// status read after a write command
		r[0] = mb.lastStatus
		for i := 1; i < len(r); i++ {
			r[i] = 0
		}
		return nil

	case len(w) < frameHeaderLength:
		return ErrMockNack
	}

	resourceId := w[0]
	if mb.Nack[resourceId] {
		return ErrMockNack
	}

	if w[1]&ReadFlag != 0 {
		return mb.handleRead(resourceId, w[1]&^ReadFlag, int(w[2]), r)
	}

	return mb.handleWrite(resourceId, w[1], w[frameHeaderLength:])
}

func (mb *MockBus) handleRead(resourceId, command uint8, length int, r []byte) error {
	for i := range r {
		r[i] = 0
	}
	if len(r) == 0 {
		return nil
	}
	if length != len(r) || !mb.Answers[resourceId] {
		r[0] = StatusError
		return nil
	}

	switch command {
	case CmdGpiValueAll:
		if len(r) != gpioBitmapLength+1 {
			r[0] = StatusError
			return nil
		}
		r[0] = StatusSuccess
		binary.LittleEndian.PutUint32(r[1:], uint32(mb.bitmap))
	case CmdGpiValue:
		r[0] = StatusSuccess
		if mb.bitmap.Level(mb.gpiIndex) {
			r[1] = 1
		}
	default:
		r[0] = StatusError
	}

	return nil
}

func (mb *MockBus) handleWrite(resourceId, command uint8, payload []byte) error {
	mb.lastStatus = StatusError
	if !mb.Answers[resourceId] {
		return nil
	}

	if command == CmdGpiIndex && len(payload) == 1 && payload[0] < 32 {
		mb.gpiIndex = payload[0]
		mb.lastStatus = StatusSuccess
	}

	return nil
}
