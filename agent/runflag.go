package agent

import (
	"sync"
	"sync/atomic"
)

// RunFlag records whether the agent session is running. Readers never wait on a
// switch in progress.
type RunFlag struct {
	running atomic.Bool

	// switching serializes writers for the whole controller call
	switching sync.Mutex

	subLock     sync.Mutex
	subscribers []func(running bool)
}

func (rf *RunFlag) IsRunning() bool {
	return rf.running.Load()
}

// Switch runs fn and sets the flag to want, unless the flag already equals want.
// Only one Switch runs at a time, so two callers cannot both act. On fn error the
// flag is left as it was.
func (rf *RunFlag) Switch(want bool, fn func() error) (changed bool, err error) {
	rf.switching.Lock()
	if rf.running.Load() == want {
		rf.switching.Unlock()
		return
	}

	err = fn()
	if err != nil {
		rf.switching.Unlock()
		return
	}

	rf.running.Store(want)
	changed = true
	rf.switching.Unlock()

	rf.subLock.Lock()
	subscribers := rf.subscribers
	rf.subLock.Unlock()

	for _, notify := range subscribers {
		notify(want)
	}
	return
}

// Subscribe registers notify for every change of the flag. It is called outside the locks.
func (rf *RunFlag) Subscribe(notify func(running bool)) {
	rf.subLock.Lock()
	defer rf.subLock.Unlock()
	rf.subscribers = append(rf.subscribers, notify)
}
