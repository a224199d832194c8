package xvfkit

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	dnslog "github.com/brutella/dnssd/log"
	hklog "github.com/brutella/hap/log"

	"github.com/hubertat/xvfkit/agent"
	"github.com/hubertat/xvfkit/drivers"
	"github.com/hubertat/xvfkit/influx"
	"github.com/hubertat/xvfkit/monitor"
	"github.com/hubertat/xvfkit/mqtt"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "xvfkit"
const homeKitBridgeAuthor = "github.com/hubertat"
const discoveryTimeout = 10 * time.Second

// XvfKit is both the config document and the running application.
type XvfKit struct {
	Name     string
	LogLevel string

	Bus     BusConfig
	Monitor MonitorConfig
	Agent   AgentConfig

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	MqttBroker string

	StatusAddr  string
	StatusToken string

	// LedPin is a Raspberry Pi gpio lit while the agent runs; 0 disables it.
	LedPin    uint8
	LedInvert bool

	Influx *InfluxConfig

	bus       *drivers.SharedBus
	busCloser io.Closer
	device    *drivers.Xvf3800

	dispatcher *agent.Dispatcher
	listeners  []monitor.Listener
	monitor    *monitor.Monitor
	handle     *monitor.Handle

	buttons     []*Button
	agentSwitch *AgentSwitch

	mqttClient  *mqtt.MqttClient
	eventBridge *mqtt.EventBridge
	influxSink  *influx.EventSink
	led         *drivers.GpioLed
	status      *StatusServer

	logger *log.Logger
}

func (xk *XvfKit) name() string {
	if len(xk.Name) > 0 {
		return xk.Name
	}
	return homeKitBridgeName
}

func (xk *XvfKit) getLogger() *log.Logger {
	if xk.logger == nil {
		xk.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "XvfKit: ",
			Level:  log.GetLevel(),
		})
	}
	return xk.logger
}

// InitBus opens the Linux I2C bus named in the config.
func (xk *XvfKit) InitBus() error {
	bus, closer, err := drivers.OpenI2C(xk.Bus.I2cBus, xk.Bus.SpeedHz)
	if err != nil {
		return errors.Wrap(err, "failed to open i2c bus")
	}

	xk.UseBus(bus, closer)
	return nil
}

// UseBus wires an already opened bus, e.g. a drivers.MockBus.
func (xk *XvfKit) UseBus(bus *drivers.SharedBus, closer io.Closer) {
	xk.bus = bus
	xk.busCloser = closer

	xk.device = drivers.NewXvf3800(bus, nil)
	if xk.Bus.Address > 0 {
		xk.device.Address = xk.Bus.Address
	}
	if xk.Bus.CommandTimeout > 0 {
		xk.device.CommandTimeout = xk.Bus.CommandTimeout.Duration()
	}
}

// InitAgent builds the dispatcher around the http agent controller.
func (xk *XvfKit) InitAgent() error {
	if len(xk.Agent.Url) == 0 {
		return errors.New("agent url not set")
	}

	xk.UseController(&agent.HttpController{
		Url:         xk.Agent.Url,
		ChannelName: xk.Agent.ChannelName,
		UserId:      xk.Agent.UserId,
		GraphName:   xk.Agent.GraphName,
		Greeting:    xk.Agent.Greeting,
		Prompt:      xk.Agent.Prompt,
		Language:    xk.Agent.Language,
		Voice:       xk.Agent.Voice,
		Model:       xk.Agent.Model,
		Timeout:     xk.Agent.Timeout.Duration(),
	})
	return nil
}

func (xk *XvfKit) UseController(controller agent.Controller) {
	xk.dispatcher = agent.NewDispatcher(controller, nil, nil)
}

func (xk *XvfKit) Dispatcher() *agent.Dispatcher {
	return xk.dispatcher
}

// AddListener registers l for monitor events; it must be called before StartMonitor.
func (xk *XvfKit) AddListener(l monitor.Listener) {
	xk.listeners = append(xk.listeners, l)
}

// StartMonitor discovers the gpio resource and starts the button monitor.
// Discovery failure is returned wrapping drivers.ErrDiscoveryFailed.
func (xk *XvfKit) StartMonitor(ctx context.Context) error {
	if xk.device == nil || xk.dispatcher == nil {
		return errors.New("bus and agent must be initialized before the monitor")
	}
	if xk.handle != nil {
		return errors.New("monitor already running")
	}

	discoverCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	_, err := xk.device.Discover(discoverCtx)
	if err != nil {
		return errors.Wrap(err, "button monitor not started")
	}

	xk.monitor = monitor.New(xk.Monitor.monitorConfig(), xk.device, xk.dispatcher)
	for _, l := range xk.listeners {
		xk.monitor.AddListener(l)
	}

	xk.handle = monitor.Start(ctx, xk.monitor)
	return nil
}

func (xk *XvfKit) StopMonitor() {
	if xk.handle == nil {
		return
	}
	xk.handle.Stop()
	xk.handle = nil
}

// MonitorStats returns ok false when the monitor never started.
func (xk *XvfKit) MonitorStats() (stats monitor.Stats, ok bool) {
	if xk.monitor == nil {
		return
	}
	return xk.monitor.Stats(), true
}

// InitLed mirrors the agent run state on LedPin.
func (xk *XvfKit) InitLed() error {
	if xk.LedPin == 0 {
		return nil
	}

	xk.led = &drivers.GpioLed{Pin: xk.LedPin, Invert: xk.LedInvert}
	err := xk.led.Setup()
	if err != nil {
		xk.led = nil
		return err
	}

	xk.dispatcher.Flag().Subscribe(func(running bool) {
		setErr := xk.led.Set(running)
		if setErr != nil {
			xk.getLogger().Warn("failed to set status led", "err", setErr)
		}
	})
	return nil
}

func (xk *XvfKit) InitMqtt(ctx context.Context) (err error) {
	if len(xk.MqttBroker) == 0 {
		err = errors.New("mqtt broker not set")
		return
	}

	mc, err := mqtt.NewMqttClient(xk.MqttBroker, xk.name())
	if err != nil {
		err = errors.Wrap(err, "failed to create mqtt client")
		return
	}
	xk.mqttClient = mc

	xk.eventBridge = mqtt.NewEventBridge(xk.name(), mc, xk.dispatcher)
	xk.AddListener(xk.eventBridge)
	xk.dispatcher.Flag().Subscribe(xk.eventBridge.AgentChanged)
	go xk.eventBridge.Run(ctx)

	err = mc.Connect([]mqtt.MqttHandler{xk.eventBridge})
	if err != nil {
		err = errors.Wrap(err, "failed to connect to mqtt broker")
	}

	return
}

func (xk *XvfKit) InitInflux(ctx context.Context) error {
	if xk.Influx == nil {
		return nil
	}

	sink := &influx.EventSink{
		Host:         xk.Influx.Host,
		Token:        xk.Influx.Token,
		Organization: xk.Influx.Organization,
		Bucket:       xk.Influx.Bucket,
		Measurement:  xk.Influx.Measurement,
		Device:       xk.name(),
	}
	err := sink.Setup(ctx)
	if err != nil {
		return err
	}

	xk.influxSink = sink
	xk.AddListener(sink)
	return nil
}

// RunKeepalive pings the agent while it runs, until ctx is done.
func (xk *XvfKit) RunKeepalive(ctx context.Context) {
	agent.NewKeepalive(xk.dispatcher, xk.Agent.KeepaliveInterval.Duration()).Run(ctx)
}

func (xk *XvfKit) Close() (err error) {
	xk.StopMonitor()

	if xk.status != nil {
		closeErr := xk.status.Close()
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close status server")
		}
	}
	if xk.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		xk.mqttClient.Disconnect(ctx)
		cancel()
	}
	if xk.influxSink != nil {
		xk.influxSink.Close()
	}
	if xk.led != nil {
		xk.led.Close()
	}
	if xk.busCloser != nil {
		closeErr := xk.busCloser.Close()
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close i2c bus")
		}
	}

	return
}

func (xk *XvfKit) PrintStatus(writer io.Writer) {
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== xvfkit ===")
	if xk.device != nil {
		fmt.Fprintf(writer, "| device: %s at 0x%02X\n", xk.device, xk.device.Address)
		id, ok := xk.device.ResourceId()
		if ok {
			fmt.Fprintf(writer, "| gpio resource id: 0x%02X\n", id)
		} else {
			fmt.Fprintln(writer, "| gpio resource id: not discovered")
		}
	}
	fmt.Fprintln(writer, "| SET button  -> start agent")
	fmt.Fprintln(writer, "| MUTE button -> stop agent")
	if xk.dispatcher != nil {
		fmt.Fprintf(writer, "| agent running: %t\n", xk.dispatcher.IsRunning())
	}
	stats, ok := xk.MonitorStats()
	if ok {
		fmt.Fprintf(writer, "| polls: %d, state: %s, failure windows: %d, backoffs: %d\n", stats.Polls, stats.State, stats.FailureWindows, stats.Backoffs)
	}
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}

// InitHomeKit creates the button and agent accessories; they listen to the monitor
// so it must run before StartMonitor.
func (xk *XvfKit) InitHomeKit() {
	xk.buttons = []*Button{
		NewButton(xk.name()+" mute", monitor.ButtonMute),
		NewButton(xk.name()+" set", monitor.ButtonSet),
	}
	for _, button := range xk.buttons {
		xk.AddListener(button)
	}

	xk.agentSwitch = NewAgentSwitch(xk.name()+" agent", xk.dispatcher)
}

func (xk *XvfKit) GetHkAccessories(firmwareVersion string) (acc []*accessory.A) {
	things := []HkThing{}
	for _, button := range xk.buttons {
		things = append(things, button)
	}
	if xk.agentSwitch != nil {
		things = append(things, xk.agentSwitch)
	}

	for _, th := range things {
		accessory := th.GetHk()
		if accessory.Info != nil && accessory.Info.FirmwareRevision != nil {
			accessory.Info.FirmwareRevision.SetValue(firmwareVersion)
		}
		accessory.Id = th.GetUniqueId()
		acc = append(acc, accessory)
	}

	return
}

func (xk *XvfKit) StartHomeKit(ctx context.Context, firmwareVersion string) error {
	bridge := accessory.NewBridge(accessory.Info{
		Name:         xk.name(),
		Manufacturer: homeKitBridgeAuthor,
		Firmware:     firmwareVersion,
	})

	var store hap.Store
	if len(xk.HkDirectory) > 1 {
		store = hap.NewFsStore(xk.HkDirectory)
	} else {
		store = hap.NewFsStore(defaultHomeKitDirectory)
	}
	hkServer, err := hap.NewServer(store, bridge.A, xk.GetHkAccessories(firmwareVersion)...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = xk.HkPin
	if len(xk.HkAddress) > 0 {
		hkServer.Addr = xk.HkAddress
	}

	if xk.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	return hkServer.ListenAndServe(ctx)
}

// StartStatusServer serves status and overrides on StatusAddr.
func (xk *XvfKit) StartStatusServer() error {
	if len(xk.StatusAddr) == 0 {
		return nil
	}

	xk.status = &StatusServer{
		Token:    xk.StatusToken,
		HttpAddr: xk.StatusAddr,
		kit:      xk,
	}
	if xk.influxSink != nil {
		xk.status.presses = xk.influxSink
	}
	return xk.status.Setup()
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-c:
		case <-ctx.Done():
		}
		signal.Stop(c)
		cancel()
	}()

	return ctx, cancel
}
