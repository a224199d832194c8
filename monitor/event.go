package monitor

import (
	"time"

	"github.com/hubertat/xvfkit/drivers"
)

type Button int

const (
	ButtonMute Button = iota
	ButtonSet
)

func (b Button) String() string {
	switch b {
	case ButtonMute:
		return "mute"
	case ButtonSet:
		return "set"
	}
	return "unknown"
}

type EventKind int

const (
	EventPressed EventKind = iota
	EventReleased
	EventFailureStarted
	EventRecovered
	EventBackoff
)

func (ek EventKind) String() string {
	switch ek {
	case EventPressed:
		return "pressed"
	case EventReleased:
		return "released"
	case EventFailureStarted:
		return "failure_started"
	case EventRecovered:
		return "recovered"
	case EventBackoff:
		return "backoff"
	}
	return "unknown"
}

// Event is emitted by the monitor on button edges and failure window transitions.
// Button is meaningful only for EventPressed and EventReleased.
type Event struct {
	Kind   EventKind
	Button Button
	// Inferred is set for presses guessed by the failure recovery heuristic.
	Inferred bool
	Poll     int
	Bitmap   drivers.GpioBitmap
	At       time.Time
}

type Listener interface {
	MonitorEvent(Event)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(Event)

func (lf ListenerFunc) MonitorEvent(ev Event) {
	lf(ev)
}

// Stats is a snapshot of the monitor run state.
type Stats struct {
	Polls             int
	ConsecutiveErrors int
	LastBitmap        drivers.GpioBitmap
	InFailureWindow   bool
	FailureWindows    int
	Backoffs          int
	LastError         string
	State             State
}

type State int

const (
	StateSampling State = iota
	StateRetrying
	StateFailureWindow
	StateBackoff
)

func (st State) String() string {
	switch st {
	case StateSampling:
		return "sampling"
	case StateRetrying:
		return "retrying"
	case StateFailureWindow:
		return "failure_window"
	case StateBackoff:
		return "backoff"
	}
	return "unknown"
}

func (st State) MarshalText() ([]byte, error) {
	return []byte(st.String()), nil
}
