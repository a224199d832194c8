package monitor

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"

	"github.com/hubertat/xvfkit/drivers"
)

const (
	DefaultRetries        = 3
	DefaultRetryDelay     = 5 * time.Millisecond
	DefaultPollInterval   = 20 * time.Millisecond
	DefaultErrorThreshold = 10
	DefaultCooldown       = 5 * time.Second
)

const debugStatusEvery = 10
const infoStatusEvery = 50

type Reader interface {
	ReadGpiAll(ctx context.Context) (drivers.GpioBitmap, error)
}

// Agent is the session the buttons control. Start and Stop must tolerate being
// called in the state they lead to.
type Agent interface {
	IsRunning() bool
	Start(ctx context.Context, reason string) error
	Stop(ctx context.Context, reason string) error
}

type Config struct {
	Retries        int
	RetryDelay     time.Duration
	PollInterval   time.Duration
	ErrorThreshold int
	Cooldown       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Retries:        DefaultRetries,
		RetryDelay:     DefaultRetryDelay,
		PollInterval:   DefaultPollInterval,
		ErrorThreshold: DefaultErrorThreshold,
		Cooldown:       DefaultCooldown,
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Retries < 1 {
		c.Retries = def.Retries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ErrorThreshold < 1 {
		c.ErrorThreshold = def.ErrorThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	return c
}

// Monitor polls the button bitmap and turns samples into agent start/stop calls.
// Tick runs one step of the state machine; Run drives Tick on a clock.
// Everything except Stats must be called from a single goroutine.
type Monitor struct {
	Config
	Clock  clockwork.Clock
	Logger *log.Logger

	reader    Reader
	agent     Agent
	listeners []Listener

	attempt  int
	prevMute bool
	prevSet  bool

	statsLock sync.Mutex
	stats     Stats
}

func New(cfg Config, reader Reader, agent Agent) *Monitor {
	return &Monitor{
		Config: cfg.withDefaults(),
		Clock:  clockwork.NewRealClock(),
		Logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "Monitor: ",
			Level:  log.GetLevel(),
		}),
		reader: reader,
		agent:  agent,
	}
}

// AddListener registers l for events. Not safe once Run has started.
func (m *Monitor) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

func (m *Monitor) Stats() Stats {
	m.statsLock.Lock()
	defer m.statsLock.Unlock()
	return m.stats
}

func (m *Monitor) updateStats(fn func(s *Stats)) Stats {
	m.statsLock.Lock()
	defer m.statsLock.Unlock()
	fn(&m.stats)
	return m.stats
}

func (m *Monitor) emit(ev Event) {
	ev.At = m.Clock.Now()
	for _, l := range m.listeners {
		l.MonitorEvent(ev)
	}
}

// Tick makes one read attempt and returns how long to wait before the next Tick.
func (m *Monitor) Tick(ctx context.Context) time.Duration {
	bitmap, err := m.reader.ReadGpiAll(ctx)
	if err != nil {
		m.attempt++
		if m.attempt < m.Retries {
			m.updateStats(func(s *Stats) { s.State = StateRetrying })
			return m.RetryDelay
		}
		m.attempt = 0
		return m.cycleFailed(err)
	}

	m.attempt = 0
	return m.cycleSucceeded(ctx, bitmap)
}

func (m *Monitor) cycleFailed(err error) time.Duration {
	entering := false
	stats := m.updateStats(func(s *Stats) {
		s.Polls++
		s.ConsecutiveErrors++
		s.LastError = err.Error()
		if !s.InFailureWindow {
			entering = true
			s.InFailureWindow = true
			s.FailureWindows++
		}
		s.State = StateFailureWindow
	})

	if entering {
		if drivers.IsProtocol(err) {
			m.Logger.Warn("gpio read rejected by device, failure window started", "poll", stats.Polls, "err", err)
		} else {
			m.Logger.Warn("i2c failure started (button held?)", "poll", stats.Polls, "err", err)
		}
		m.emit(Event{Kind: EventFailureStarted, Poll: stats.Polls})
	}

	if stats.Polls%debugStatusEvery == 0 {
		m.Logger.Debug("poll failed", "poll", stats.Polls, "retries", m.Retries, "err", err)
	}

	if stats.ConsecutiveErrors < m.ErrorThreshold {
		return m.PollInterval
	}

	m.Logger.Error("device not responding, cooling down",
		"errors", stats.ConsecutiveErrors,
		"cooldown", m.Cooldown,
		"hint", "resource id may be wrong, firmware not initialized or i2c wiring problem",
	)
	stats = m.updateStats(func(s *Stats) {
		s.ConsecutiveErrors = 0
		s.Backoffs++
		s.State = StateBackoff
	})
	m.emit(Event{Kind: EventBackoff, Poll: stats.Polls})

	return m.Cooldown
}

func (m *Monitor) cycleSucceeded(ctx context.Context, bitmap drivers.GpioBitmap) time.Duration {
	wasInFailure := false
	stats := m.updateStats(func(s *Stats) {
		wasInFailure = s.InFailureWindow
		s.Polls++
		s.ConsecutiveErrors = 0
		s.LastBitmap = bitmap
		s.InFailureWindow = false
		s.State = StateSampling
	})

	mutePressed := bitmap.MutePressed()
	setPressed := bitmap.SetPressed()

	if wasInFailure {
		m.recover(ctx, stats.Polls, bitmap, mutePressed, setPressed)
	}

	m.detectEdges(ctx, stats.Polls, bitmap, mutePressed, setPressed)

	if stats.Polls%debugStatusEvery == 0 {
		m.Logger.Debug("poll ok", "poll", stats.Polls, "bitmap", bitmap)
	}
	if stats.Polls%infoStatusEvery == 0 {
		m.Logger.Info("monitoring", "poll", stats.Polls, "mute", pressedString(mutePressed), "set", pressedString(setPressed))
	}

	return m.PollInterval
}

// recover handles the first good sample after a failure window. The device stops
// answering while a button is held, so a window that ends with both buttons released
// most likely hid a full press. Which button it was cannot be known; the guess follows
// the agent state: running means mute (stop), stopped means set (start). Best effort.
func (m *Monitor) recover(ctx context.Context, poll int, bitmap drivers.GpioBitmap, mutePressed, setPressed bool) {
	m.Logger.Warn("recovered from i2c failure", "poll", poll, "bitmap", bitmap)
	m.emit(Event{Kind: EventRecovered, Poll: poll, Bitmap: bitmap})

	if mutePressed || setPressed {
		m.Logger.Info("button still held after recovery, leaving it to edge detection", "mute", mutePressed, "set", setPressed)
		return
	}

	if m.agent.IsRunning() {
		m.Logger.Warn("assuming mute button was pressed during failure (agent is running)")
		m.emit(Event{Kind: EventPressed, Button: ButtonMute, Inferred: true, Poll: poll, Bitmap: bitmap})
		m.dispatch(ctx, ButtonMute, "inferred mute press")
		m.prevMute = false
		return
	}

	m.Logger.Warn("assuming set button was pressed during failure (agent is stopped)")
	m.emit(Event{Kind: EventPressed, Button: ButtonSet, Inferred: true, Poll: poll, Bitmap: bitmap})
	m.dispatch(ctx, ButtonSet, "inferred set press")
	m.prevSet = false
}

func (m *Monitor) detectEdges(ctx context.Context, poll int, bitmap drivers.GpioBitmap, mutePressed, setPressed bool) {
	if mutePressed && !m.prevMute {
		m.Logger.Warn("MUTE button pressed", "poll", poll)
		m.emit(Event{Kind: EventPressed, Button: ButtonMute, Poll: poll, Bitmap: bitmap})
		if m.agent.IsRunning() {
			m.dispatch(ctx, ButtonMute, "mute button")
		} else {
			m.Logger.Info("agent already stopped")
		}
	}

	if setPressed && !m.prevSet {
		m.Logger.Warn("SET button pressed", "poll", poll)
		m.emit(Event{Kind: EventPressed, Button: ButtonSet, Poll: poll, Bitmap: bitmap})
		if !m.agent.IsRunning() {
			m.dispatch(ctx, ButtonSet, "set button")
		} else {
			m.Logger.Info("agent already running")
		}
	}

	if !mutePressed && m.prevMute {
		m.Logger.Debug("MUTE button released", "poll", poll)
		m.emit(Event{Kind: EventReleased, Button: ButtonMute, Poll: poll, Bitmap: bitmap})
	}
	if !setPressed && m.prevSet {
		m.Logger.Debug("SET button released", "poll", poll)
		m.emit(Event{Kind: EventReleased, Button: ButtonSet, Poll: poll, Bitmap: bitmap})
	}

	m.prevMute = mutePressed
	m.prevSet = setPressed
}

// dispatch maps mute to stop and set to start. Agent errors are logged, the loop goes on.
func (m *Monitor) dispatch(ctx context.Context, button Button, reason string) {
	var err error
	switch button {
	case ButtonMute:
		err = m.agent.Stop(ctx, reason)
	case ButtonSet:
		err = m.agent.Start(ctx, reason)
	}

	if err != nil {
		m.Logger.Error("agent action failed", "button", button, "err", err)
	}
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.Logger.Info("button monitor started", "SET", "start agent", "MUTE", "stop agent")

	for ctx.Err() == nil {
		delay := m.Tick(ctx)
		select {
		case <-ctx.Done():
		case <-m.Clock.After(delay):
		}
	}

	m.Logger.Info("button monitor stopped", "polls", m.Stats().Polls)
}

func pressedString(pressed bool) string {
	if pressed {
		return "PRESSED"
	}
	return "released"
}
