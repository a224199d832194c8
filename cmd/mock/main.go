package main

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"

	"github.com/hubertat/xvfkit"
	"github.com/hubertat/xvfkit/drivers"
)

var (
	Version string
	Build   string

	agentUrl   = flag.String("agent", "", "voice agent service url, empty to only log dispatches")
	resourceId = flag.Uint8("resource", 0x08, "gpio resource id the mock device answers on")
	stall      = flag.Bool("stall", true, "stop answering while a button is held, like the real device")
	homeKit    = flag.Bool("homekit", false, "start HomeKit server with pin 88008800")
)

type logController struct{}

func (lc logController) Start(ctx context.Context) error {
	log.Info("mock agent start")
	return nil
}

func (lc logController) Stop(ctx context.Context) error {
	log.Info("mock agent stop")
	return nil
}

func (lc logController) Ping(ctx context.Context) error {
	return nil
}

// readCommands turns stdin lines into button presses: "m"/"s" toggles mute/set, "q" quits.
func readCommands(mb *drivers.MockBus, cancel context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "m":
			toggle(mb, drivers.GpiMuteButton)
		case "s":
			toggle(mb, drivers.GpiActionButton)
		case "q":
			cancel()
			return
		}
	}
}

func toggle(mb *drivers.MockBus, pin uint8) {
	if mb.Bitmap().Pressed(pin) {
		mb.Release(pin)
	} else {
		mb.Press(pin)
	}
}

func main() {
	flag.Parse()
	log.SetLevel(log.DebugLevel)

	log.Info("xvfkit mock started", "version", Version)
	log.Info("mock instance for testing purposes, type m/s + enter to toggle buttons, q to quit")

	ctx, cancel := xvfkit.SignalContext(context.Background())
	defer cancel()

	mb := drivers.NewMockBus(*resourceId)
	mb.StallWhilePressed = *stall
	mb.MonitorTransactions(os.Stdout)

	xk := &xvfkit.XvfKit{Name: "xvfkit-mock", HkPin: "88008800", HkDirectory: "./mock_homekit"}
	xk.UseBus(drivers.NewSharedBus(mb), nil)
	defer xk.Close()

	if len(*agentUrl) > 0 {
		xk.Agent.Url = *agentUrl
		err := xk.InitAgent()
		if err != nil {
			log.Fatal("failed to init agent", "err", err)
		}
	} else {
		xk.UseController(logController{})
	}

	if *homeKit {
		xk.InitHomeKit()
	}

	err := xk.StartMonitor(ctx)
	if err != nil {
		log.Fatal("failed to start monitor", "err", err)
	}
	xk.PrintStatus(os.Stdout)

	go readCommands(mb, cancel)

	if *homeKit {
		log.Fatal(xk.StartHomeKit(ctx, "mock: "+Version))
	}
	<-ctx.Done()
}
