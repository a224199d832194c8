package main

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"
	flag "github.com/spf13/pflag"

	"github.com/hubertat/xvfkit"
	"github.com/hubertat/xvfkit/drivers"
)

var (
	Version string
	Build   string

	config      = flag.StringP("config", "c", "config.json", "path of the configuration file (json or yaml)")
	flagInstall = flag.Bool("install", false, "Install service in os")
	logLevel    = flag.String("log-level", "", "log level (debug, info, warn, error), overrides config")

	xvfService = servicemaker.ServiceMaker{
		User:               "xvfkit",
		UserGroups:         []string{"i2c", "gpio"},
		ServicePath:        "/etc/systemd/system/xvfkit.service",
		ServiceDescription: "XvfKit service: XVF3800 mic array buttons controlling a voice agent. github.com/hubertat/xvfkit",
		ExecDir:            "/srv/xvfkit",
		ExecName:           "xvfkit",
	}
)

func setLogLevel(level string) {
	if len(level) == 0 {
		return
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.Warn("unknown log level, keeping default", "level", level)
		return
	}
	log.SetLevel(parsed)
}

func main() {
	flag.Parse()
	log.Info("xvfkit started", "version", Version, "build", Build)

	if *flagInstall {
		err := xvfService.InstallService()
		if err != nil {
			log.Fatal("service install failed", "err", err)
		}
		log.Info("service installed!")
		return
	}

	xk, err := xvfkit.LoadConfig(*config)
	if err != nil {
		log.Fatal("can't load config, will terminate", "err", err)
	}
	setLogLevel(xk.LogLevel)
	setLogLevel(*logLevel)

	ctx, cancel := xvfkit.SignalContext(context.Background())
	defer cancel()

	err = xk.InitBus()
	if err != nil {
		log.Fatal("failed to init i2c bus", "err", err)
	}
	defer xk.Close()

	err = xk.InitAgent()
	if err != nil {
		log.Fatal("failed to init agent", "err", err)
	}

	err = xk.InitLed()
	if err != nil {
		log.Warn("status led disabled", "err", err)
	}

	err = xk.InitInflux(ctx)
	if err != nil {
		log.Warn("influx event sink disabled", "err", err)
	}

	if len(xk.MqttBroker) > 0 {
		err = xk.InitMqtt(ctx)
		if err != nil {
			log.Warn("mqtt failed, will proceed without it", "err", err)
		}
	}

	homeKit := len(xk.HkPin) == 8
	if homeKit {
		xk.InitHomeKit()
	}

	err = xk.StartMonitor(ctx)
	if err != nil {
		if !drivers.IsDiscoveryFailed(err) {
			log.Fatal("failed to start button monitor", "err", err)
		}
		log.Warn("button monitor disabled, device not initialized?", "err", err)
	}

	err = xk.StartStatusServer()
	if err != nil {
		log.Warn("status server disabled", "err", err)
	}

	go xk.RunKeepalive(ctx)

	xk.PrintStatus(os.Stdout)

	if homeKit {
		log.Info("Starting with HomeKit server")
		err = xk.StartHomeKit(ctx, Version)
		if err != nil {
			log.Error("HomeKit server stopped", "err", err)
		}
	} else {
		log.Info("HomeKit not configured, disabled")
		<-ctx.Done()
	}

	log.Info("xvfkit stopping")
}
