package agent

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// Dispatcher maps start/stop requests from buttons and overrides onto the controller.
// Requests for the state the agent is already in are logged and ignored.
type Dispatcher struct {
	controller Controller
	flag       *RunFlag
	logger     *log.Logger
}

func NewDispatcher(controller Controller, flag *RunFlag, logger *log.Logger) *Dispatcher {
	if flag == nil {
		flag = &RunFlag{}
	}
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "Agent: ",
			Level:  log.GetLevel(),
		})
	}

	return &Dispatcher{
		controller: controller,
		flag:       flag,
		logger:     logger,
	}
}

func (d *Dispatcher) Flag() *RunFlag {
	return d.flag
}

func (d *Dispatcher) IsRunning() bool {
	return d.flag.IsRunning()
}

func (d *Dispatcher) Start(ctx context.Context, reason string) error {
	changed, err := d.flag.Switch(true, func() error {
		d.logger.Info("starting agent", "reason", reason)
		return d.controller.Start(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "agent start failed")
	}
	if !changed {
		d.logger.Info("agent already running", "reason", reason)
		return nil
	}

	d.logger.Info("agent started")
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context, reason string) error {
	changed, err := d.flag.Switch(false, func() error {
		d.logger.Info("stopping agent", "reason", reason)
		return d.controller.Stop(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "agent stop failed")
	}
	if !changed {
		d.logger.Info("agent already stopped", "reason", reason)
		return nil
	}

	d.logger.Info("agent stopped")
	return nil
}

// Set starts or stops the agent; used by manual overrides.
func (d *Dispatcher) Set(ctx context.Context, running bool, reason string) error {
	if running {
		return d.Start(ctx, reason)
	}
	return d.Stop(ctx, reason)
}

// Ping sends a keepalive if the agent is running.
func (d *Dispatcher) Ping(ctx context.Context) error {
	if !d.flag.IsRunning() {
		return nil
	}
	return d.controller.Ping(ctx)
}
