package drivers

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

type recordingBus struct {
	lock    sync.Mutex
	active  int
	overlap bool
	calls   int
}

func (rb *recordingBus) Tx(addr uint16, w, r []byte) error {
	rb.lock.Lock()
	rb.active++
	rb.calls++
	if rb.active > 1 {
		rb.overlap = true
	}
	rb.lock.Unlock()

	time.Sleep(time.Millisecond)

	rb.lock.Lock()
	rb.active--
	rb.lock.Unlock()
	return nil
}

func TestSharedBusSerializes(t *testing.T) {
	rb := &recordingBus{}
	shared := NewSharedBus(rb)
	codec := shared.Locked()

	wg := sync.WaitGroup{}
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			shared.Tx(context.Background(), 0x2C, []byte{0x08, 0x83, 0x05}, make([]byte, 5))
		}()
		go func() {
			defer wg.Done()
			codec.Tx(0x18, []byte{0x00, 0x00}, nil)
		}()
	}
	wg.Wait()

	if rb.overlap {
		t.Error("transactions overlapped on shared bus")
	}
	if rb.calls != 8 {
		t.Errorf("got %d calls want 8", rb.calls)
	}
}

func TestSharedBusNotReady(t *testing.T) {
	shared := NewSharedBus(&recordingBus{})

	release := make(chan struct{})
	held := make(chan struct{})
	go shared.Do(context.Background(), func(bus Bus) error {
		close(held)
		<-release
		return nil
	})
	<-held
	defer close(release)

	xvf := NewXvf3800(shared, log.New(io.Discard))
	xvf.CommandTimeout = 5 * time.Millisecond

	_, err := xvf.ReadCommand(context.Background(), 0x08, CmdGpiValueAll, 4)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if te.Kind != TransportNotReady {
		t.Errorf("got kind %s want %s", te.Kind, TransportNotReady)
	}
}

func TestGpioLedNotReady(t *testing.T) {
	led := GpioLed{Pin: 17}
	assertBools(t, led.IsReady(), false)

	err := led.Set(true)
	if err == nil {
		t.Error("expected error when setting led before Setup")
	}

	err = led.Close()
	if err != nil {
		t.Errorf("Close on not ready led returned err: %v", err)
	}
}
