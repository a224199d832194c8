package drivers

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

func newTestXvf(mb *MockBus) *Xvf3800 {
	return NewXvf3800(NewSharedBus(mb), log.New(io.Discard))
}

func TestXvf3800Discover(t *testing.T) {
	t.Run("first answering id wins", func(t *testing.T) {
		mb := NewMockBus(0x08)
		mb.Answers[0x10] = true
		mb.Nack[0x05] = true

		xvf := newTestXvf(mb)
		_, ok := xvf.ResourceId()
		assertBools(t, ok, false)

		got, err := xvf.Discover(context.Background())
		if err != nil {
			t.Fatalf("Discover returned err: %v", err)
		}
		if got != 0x08 {
			t.Errorf("got 0x%02X want 0x08", got)
		}

		id, ok := xvf.ResourceId()
		assertBools(t, ok, true)
		if id != 0x08 {
			t.Errorf("cached id 0x%02X want 0x08", id)
		}
	})

	t.Run("lowest id of several", func(t *testing.T) {
		mb := NewMockBus(0x10)
		mb.Answers[0x03] = true
		xvf := newTestXvf(mb)

		got, err := xvf.Discover(context.Background())
		if err != nil {
			t.Fatalf("Discover returned err: %v", err)
		}
		if got != 0x03 {
			t.Errorf("got 0x%02X want 0x03", got)
		}
	})

	t.Run("probes ascending until match", func(t *testing.T) {
		mb := NewMockBus(0x02)
		xvf := newTestXvf(mb)

		_, err := xvf.Discover(context.Background())
		if err != nil {
			t.Fatalf("Discover returned err: %v", err)
		}

		frames := mb.Frames()
		if len(frames) != 3 {
			t.Fatalf("expected 3 probe frames, got %d", len(frames))
		}
		for i, frame := range frames {
			assertBytes(t, frame, []byte{uint8(i), CmdGpiValueAll | ReadFlag, 5})
		}
	})

	t.Run("nothing answers", func(t *testing.T) {
		mb := NewMockBus(0x40)
		xvf := newTestXvf(mb)

		_, err := xvf.Discover(context.Background())
		if !errors.Is(err, ErrDiscoveryFailed) {
			t.Fatalf("expected ErrDiscoveryFailed, got %v", err)
		}
		assertBools(t, IsDiscoveryFailed(errors.Wrap(err, "monitor not started")), true)
		_, ok := xvf.ResourceId()
		assertBools(t, ok, false)

		_, err = xvf.ReadGpiAll(context.Background())
		if err == nil {
			t.Error("ReadGpiAll should fail before discovery")
		}
	})

	t.Run("wrong device address", func(t *testing.T) {
		mb := NewMockBus(0x08)
		mb.Address = 0x2D
		xvf := newTestXvf(mb)

		_, err := xvf.Discover(context.Background())
		if !errors.Is(err, ErrDiscoveryFailed) {
			t.Fatalf("expected ErrDiscoveryFailed, got %v", err)
		}
	})
}

func TestXvf3800ReadGpiAll(t *testing.T) {
	mb := NewMockBus(0x08)
	xvf := newTestXvf(mb)
	_, err := xvf.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover returned err: %v", err)
	}

	mb.SetBitmap(0xFFFFFFFD)
	bitmap, err := xvf.ReadGpiAll(context.Background())
	if err != nil {
		t.Fatalf("ReadGpiAll returned err: %v", err)
	}
	if bitmap != 0xFFFFFFFD {
		t.Errorf("got %s want 0xFFFFFFFD", bitmap)
	}
	assertBools(t, bitmap.SetPressed(), true)
	assertBools(t, bitmap.MutePressed(), false)

	t.Run("transport error", func(t *testing.T) {
		mb.FailNext(1, ErrMockNack)
		_, err := xvf.ReadGpiAll(context.Background())
		if !IsTransport(err) {
			t.Fatalf("expected transport error, got %v", err)
		}
		if IsProtocol(err) {
			t.Error("transport error reported as protocol error")
		}

		var te *TransportError
		errors.As(err, &te)
		if te.Kind != TransportNack {
			t.Errorf("got kind %s want %s", te.Kind, TransportNack)
		}
	})

	t.Run("protocol error", func(t *testing.T) {
		mb.Answers[0x08] = false
		defer func() { mb.Answers[0x08] = true }()

		_, err := xvf.ReadGpiAll(context.Background())
		if !IsProtocol(err) {
			t.Fatalf("expected protocol error, got %v", err)
		}

		var pe *ProtocolError
		errors.As(err, &pe)
		if pe.Status != StatusError {
			t.Errorf("got status 0x%02X want 0x%02X", pe.Status, StatusError)
		}
	})
}

func TestXvf3800WriteCommand(t *testing.T) {
	mb := NewMockBus(0x08)
	xvf := newTestXvf(mb)

	err := xvf.WriteCommand(context.Background(), 0x08, CmdGpiIndex, []byte{0x01})
	if err != nil {
		t.Fatalf("WriteCommand returned err: %v", err)
	}
	frames := mb.Frames()
	assertBytes(t, frames[len(frames)-1], []byte{0x08, CmdGpiIndex, 0x04, 0x01})

	err = xvf.WriteCommand(context.Background(), 0x09, CmdGpiIndex, []byte{0x01})
	if !IsProtocol(err) {
		t.Errorf("expected protocol error for unknown resource, got %v", err)
	}

	mb.FailNext(1, ErrMockNack)
	err = xvf.WriteCommand(context.Background(), 0x08, CmdGpiIndex, []byte{0x01})
	if !IsTransport(err) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestXvf3800ReadGpiFallback(t *testing.T) {
	mb := NewMockBus(0x08)
	xvf := newTestXvf(mb)
	_, err := xvf.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover returned err: %v", err)
	}

	mb.Press(GpiMuteButton)

	pressed, err := xvf.ReadMuteButton(context.Background())
	if err != nil {
		t.Fatalf("ReadMuteButton returned err: %v", err)
	}
	assertBools(t, pressed, true)

	// bitmap read fails once, GPI_INDEX + GPI_VALUE path answers
	mb.FailNext(1, ErrMockNack)
	level, err := xvf.ReadGpi(context.Background(), GpiActionButton)
	if err != nil {
		t.Fatalf("ReadGpi fallback returned err: %v", err)
	}
	assertBools(t, level, true)

	frames := mb.Frames()
	assertBytes(t, frames[len(frames)-2], []byte{0x08, CmdGpiIndex, 0x04, GpiActionButton})
	assertBytes(t, frames[len(frames)-1], []byte{0x08, CmdGpiValue | ReadFlag, 0x02})
}

type slowBus struct {
	delay time.Duration
}

func (sb *slowBus) Tx(addr uint16, w, r []byte) error {
	time.Sleep(sb.delay)
	return nil
}

func TestXvf3800Timeout(t *testing.T) {
	xvf := NewXvf3800(NewSharedBus(&slowBus{delay: 20 * time.Millisecond}), log.New(io.Discard))
	xvf.CommandTimeout = 5 * time.Millisecond

	_, err := xvf.ReadCommand(context.Background(), 0x08, CmdGpiValueAll, 4)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if te.Kind != TransportTimeout {
		t.Errorf("got kind %s want %s", te.Kind, TransportTimeout)
	}
}
