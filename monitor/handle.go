package monitor

import (
	"context"
	"sync"
)

// Handle owns a running monitor goroutine.
type Handle struct {
	monitor  *Monitor
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Start runs m on its own goroutine until the returned handle is stopped or ctx ends.
func Start(ctx context.Context, m *Monitor) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		monitor: m,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		m.Run(ctx)
	}()

	return h
}

// Stop cancels the loop and waits for it to return. Safe to call more than once.
func (h *Handle) Stop() {
	h.stopOnce.Do(h.cancel)
	<-h.done
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Monitor() *Monitor {
	return h.monitor
}
