package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

type fakeController struct {
	lock   sync.Mutex
	starts int
	stops  int
	pings  chan struct{}
	err    error
}

func newFakeController() *fakeController {
	return &fakeController{pings: make(chan struct{}, 10)}
}

func (fc *fakeController) Start(ctx context.Context) error {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	fc.starts++
	return fc.err
}

func (fc *fakeController) Stop(ctx context.Context) error {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	fc.stops++
	return fc.err
}

func (fc *fakeController) Ping(ctx context.Context) error {
	fc.pings <- struct{}{}
	return nil
}

func (fc *fakeController) counts() (starts, stops int) {
	fc.lock.Lock()
	defer fc.lock.Unlock()
	return fc.starts, fc.stops
}

func assertCounts(t *testing.T, fc *fakeController, starts, stops int) {
	t.Helper()
	gotStarts, gotStops := fc.counts()
	if gotStarts != starts || gotStops != stops {
		t.Errorf("got %d starts %d stops, want %d starts %d stops", gotStarts, gotStops, starts, stops)
	}
}

func assertRunning(t *testing.T, d *Dispatcher, want bool) {
	t.Helper()
	if d.IsRunning() != want {
		t.Errorf("running = %v, want %v", d.IsRunning(), want)
	}
}

func newTestDispatcher(fc Controller) *Dispatcher {
	return NewDispatcher(fc, nil, log.New(io.Discard))
}

func TestDispatcherIdempotent(t *testing.T) {
	fc := newFakeController()
	d := newTestDispatcher(fc)
	ctx := context.Background()

	if err := d.Stop(ctx, "test"); err != nil {
		t.Fatalf("Stop returned err: %v", err)
	}
	assertCounts(t, fc, 0, 0)

	d.Start(ctx, "test")
	d.Start(ctx, "test")
	assertCounts(t, fc, 1, 0)
	assertRunning(t, d, true)

	d.Stop(ctx, "test")
	d.Stop(ctx, "test")
	assertCounts(t, fc, 1, 1)
	assertRunning(t, d, false)

	d.Set(ctx, true, "override")
	assertRunning(t, d, true)
	d.Set(ctx, false, "override")
	assertCounts(t, fc, 2, 2)
}

func TestDispatcherControllerFailure(t *testing.T) {
	fc := newFakeController()
	fc.err = errors.New("service down")
	d := newTestDispatcher(fc)

	err := d.Start(context.Background(), "test")
	if err == nil {
		t.Fatal("expected error from failing controller")
	}
	assertRunning(t, d, false)

	fc.err = nil
	err = d.Start(context.Background(), "retry")
	if err != nil {
		t.Fatalf("Start returned err: %v", err)
	}
	assertRunning(t, d, true)
	assertCounts(t, fc, 2, 0)
}

func TestDispatcherConcurrentStarts(t *testing.T) {
	fc := newFakeController()
	d := newTestDispatcher(fc)

	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Start(context.Background(), "race")
		}()
	}
	wg.Wait()

	assertCounts(t, fc, 1, 0)
}

type blockingController struct {
	entered chan struct{}
	release chan struct{}
}

func (bc *blockingController) Start(ctx context.Context) error {
	bc.entered <- struct{}{}
	<-bc.release
	return nil
}

func (bc *blockingController) Stop(ctx context.Context) error {
	return nil
}

func (bc *blockingController) Ping(ctx context.Context) error {
	return nil
}

func TestDispatcherIsRunningDuringSwitch(t *testing.T) {
	bc := &blockingController{entered: make(chan struct{}), release: make(chan struct{})}
	d := newTestDispatcher(bc)

	started := make(chan error)
	go func() {
		started <- d.Start(context.Background(), "override")
	}()
	<-bc.entered

	read := make(chan bool)
	go func() {
		read <- d.IsRunning()
	}()

	select {
	case running := <-read:
		if running {
			t.Error("running before controller returned")
		}
	case <-time.After(time.Second):
		t.Fatal("IsRunning blocked while a start was in flight")
	}

	close(bc.release)
	if err := <-started; err != nil {
		t.Fatalf("Start returned err: %v", err)
	}
	assertRunning(t, d, true)
}

func TestRunFlagSubscribe(t *testing.T) {
	flag := &RunFlag{}
	var got []bool
	flag.Subscribe(func(running bool) {
		got = append(got, running)
	})

	flag.Switch(true, func() error { return nil })
	flag.Switch(true, func() error { return nil })
	flag.Switch(false, func() error { return errors.New("nope") })
	flag.Switch(false, func() error { return nil })

	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("unexpected notifications: %v", got)
	}
}

func TestHttpController(t *testing.T) {
	lock := sync.Mutex{}
	var paths []string
	var lastRequest controllerRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		lock.Lock()
		defer lock.Unlock()
		paths = append(paths, r.URL.Path)
		json.NewDecoder(r.Body).Decode(&lastRequest)
		w.Write([]byte(`{"code":"0","msg":"success"}`))
	}))
	defer server.Close()

	hc := &HttpController{
		Url:         server.URL,
		ChannelName: "test_channel",
		UserId:      12345,
		GraphName:   "voice_assistant",
		Greeting:    "Can I help You?",
	}
	ctx := context.Background()

	if err := hc.Start(ctx); err != nil {
		t.Fatalf("Start returned err: %v", err)
	}
	lock.Lock()
	defer lock.Unlock()
	if lastRequest.ChannelName != "test_channel" || lastRequest.UserUid != 12345 || lastRequest.GraphName != "voice_assistant" {
		t.Errorf("unexpected start request: %+v", lastRequest)
	}
	props := agentProperties{}
	json.Unmarshal(lastRequest.Properties, &props)
	if props.Greeting != "Can I help You?" {
		t.Errorf("greeting not sent: %+v", props)
	}

	lock.Unlock()

	if err := hc.Ping(ctx); err != nil {
		t.Fatalf("Ping returned err: %v", err)
	}
	if err := hc.Stop(ctx); err != nil {
		t.Fatalf("Stop returned err: %v", err)
	}

	lock.Lock()
	want := []string{"/start", "/ping", "/stop"}
	if len(paths) != len(want) {
		t.Fatalf("got paths %v want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("path %d: got %s want %s", i, paths[i], want[i])
		}
	}
}

func TestHttpControllerErrors(t *testing.T) {
	t.Run("bad status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		hc := &HttpController{Url: server.URL}
		if err := hc.Stop(context.Background()); err == nil {
			t.Error("expected error on 500")
		}
	})

	t.Run("rejected code", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code":"10001","msg":"channel busy"}`))
		}))
		defer server.Close()

		hc := &HttpController{Url: server.URL}
		if err := hc.Start(context.Background()); err == nil {
			t.Error("expected error on non zero code")
		}
	})
}

func TestKeepalive(t *testing.T) {
	fc := newFakeController()
	d := newTestDispatcher(fc)
	clock := clockwork.NewFakeClock()

	ka := NewKeepalive(d, 0)
	ka.Clock = clock
	if ka.Interval != DefaultKeepaliveInterval {
		t.Errorf("interval %v want %v", ka.Interval, DefaultKeepaliveInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ka.Run(ctx)
	}()

	d.Start(ctx, "test")
	clock.BlockUntil(1)
	clock.Advance(DefaultKeepaliveInterval)

	select {
	case <-fc.pings:
	case <-time.After(time.Second):
		t.Fatal("no keepalive ping while running")
	}

	cancel()
	<-done
}
