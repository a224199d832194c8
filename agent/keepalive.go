package agent

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultKeepaliveInterval = 10 * time.Second

// Keepalive pings the agent every Interval while it is running.
type Keepalive struct {
	Interval time.Duration
	Clock    clockwork.Clock

	dispatcher *Dispatcher
}

func NewKeepalive(dispatcher *Dispatcher, interval time.Duration) *Keepalive {
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	return &Keepalive{
		Interval:   interval,
		Clock:      clockwork.NewRealClock(),
		dispatcher: dispatcher,
	}
}

// Run blocks until ctx is done.
func (ka *Keepalive) Run(ctx context.Context) {
	ticker := ka.Clock.NewTicker(ka.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !ka.dispatcher.IsRunning() {
				continue
			}
			ka.dispatcher.logger.Debug("agent keepalive")
			err := ka.dispatcher.Ping(ctx)
			if err != nil {
				ka.dispatcher.logger.Warn("agent keepalive failed", "err", err)
			}
		}
	}
}
