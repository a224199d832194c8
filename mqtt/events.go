package mqtt

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"

	"github.com/hubertat/xvfkit/monitor"
)

const eventQueueSize = 32
const overrideQueueSize = 4
const overrideTimeout = 15 * time.Second

// AgentSetter is the manual override entry point, satisfied by agent.Dispatcher.
type AgentSetter interface {
	Set(ctx context.Context, running bool, reason string) error
}

type message struct {
	topic   string
	payload []byte
	retain  bool
}

type buttonPayload struct {
	Event    string    `json:"event"`
	Button   string    `json:"button,omitempty"`
	Inferred bool      `json:"inferred,omitempty"`
	Poll     int       `json:"poll"`
	Bitmap   string    `json:"bitmap,omitempty"`
	At       time.Time `json:"at"`
}

// EventBridge publishes monitor events and agent state to MQTT and accepts
// start/stop overrides on <name>/agent/set. Publishing happens on Run, so
// listeners never block on the broker.
type EventBridge struct {
	Name string

	publisher Publisher
	agent     AgentSetter
	queue     chan message
	overrides chan bool
	logger    *log.Logger
}

func NewEventBridge(name string, publisher Publisher, agent AgentSetter) *EventBridge {
	return &EventBridge{
		Name:      name,
		publisher: publisher,
		agent:     agent,
		queue:     make(chan message, eventQueueSize),
		overrides: make(chan bool, overrideQueueSize),
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "MqttEvents: ",
			Level:  log.GetLevel(),
		}),
	}
}

func (eb *EventBridge) topic(parts ...string) string {
	return eb.Name + "/" + strings.Join(parts, "/")
}

func (eb *EventBridge) enqueue(msg message) {
	select {
	case eb.queue <- msg:
	default:
		eb.logger.Warn("event queue full, dropping message", "topic", msg.topic)
	}
}

func (eb *EventBridge) MonitorEvent(ev monitor.Event) {
	payload := buttonPayload{
		Event: ev.Kind.String(),
		Poll:  ev.Poll,
		At:    ev.At,
	}

	topic := eb.topic("monitor")
	if ev.Kind == monitor.EventPressed || ev.Kind == monitor.EventReleased {
		topic = eb.topic("button", ev.Button.String())
		payload.Button = ev.Button.String()
		payload.Inferred = ev.Inferred
	}
	if ev.Kind != monitor.EventFailureStarted && ev.Kind != monitor.EventBackoff {
		payload.Bitmap = ev.Bitmap.String()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		eb.logger.Error("failed to encode event", "err", err)
		return
	}

	eb.enqueue(message{topic: topic, payload: data})
}

// AgentChanged publishes the retained agent state; fits agent.RunFlag.Subscribe.
func (eb *EventBridge) AgentChanged(running bool) {
	state := "stopped"
	if running {
		state = "running"
	}
	eb.enqueue(message{topic: eb.topic("agent", "state"), payload: []byte(state), retain: true})
}

func (eb *EventBridge) MqttSubscribeTopic() string {
	return eb.topic("agent", "set")
}

func (eb *EventBridge) MqttHandle(pub *paho.Publish) {
	running, ok := parseOverride(string(pub.Payload))
	if !ok {
		eb.logger.Warn("unknown agent override", "payload", string(pub.Payload))
		return
	}

	select {
	case eb.overrides <- running:
	default:
		eb.logger.Warn("override queue full, dropping", "running", running)
	}
}

func (eb *EventBridge) runOverrides(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case running := <-eb.overrides:
			setCtx, cancel := context.WithTimeout(ctx, overrideTimeout)
			err := eb.agent.Set(setCtx, running, "mqtt override")
			cancel()
			if err != nil {
				eb.logger.Error("agent override failed", "err", err)
			}
		}
	}
}

func parseOverride(payload string) (running bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "start", "on", "1", "true":
		return true, true
	case "stop", "off", "0", "false":
		return false, true
	}
	return false, false
}

// Run publishes queued messages and applies queued overrides until ctx is done.
// Overrides run on their own goroutine so a slow agent call delays neither
// publishing nor the mqtt client callback.
func (eb *EventBridge) Run(ctx context.Context) {
	go eb.runOverrides(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-eb.queue:
			err := eb.publisher.Publish(msg.topic, msg.payload, msg.retain)
			if err != nil {
				eb.logger.Warn("publish failed", "topic", msg.topic, "err", err)
			}
		}
	}
}
