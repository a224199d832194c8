package xvfkit

import (
	"hash/fnv"
	"sync"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"

	"github.com/hubertat/xvfkit/monitor"
)

type HkThing interface {
	GetHk() *accessory.A
	GetUniqueId() uint64
}

// Button exposes one array button as a HomeKit stateless programmable switch.
// Every press, including inferred ones, fires a single press event.
type Button struct {
	Name   string
	Button monitor.Button

	lock    sync.Mutex
	pressed bool
	presses int

	hk *accessory.A
	ss *service.StatelessProgrammableSwitch
}

func NewButton(name string, button monitor.Button) *Button {
	bu := &Button{
		Name:   name,
		Button: button,
	}

	bu.hk = accessory.New(accessory.Info{
		Name: name,
	}, accessory.TypeProgrammableSwitch)

	bu.ss = service.NewStatelessProgrammableSwitch()
	bu.hk.AddS(bu.ss.S)

	return bu
}

func (bu *Button) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("Button_" + bu.Name))
	return hash.Sum64()
}

func (bu *Button) GetHk() *accessory.A {
	return bu.hk
}

func (bu *Button) IsPressed() bool {
	bu.lock.Lock()
	defer bu.lock.Unlock()
	return bu.pressed
}

func (bu *Button) Presses() int {
	bu.lock.Lock()
	defer bu.lock.Unlock()
	return bu.presses
}

func (bu *Button) MonitorEvent(ev monitor.Event) {
	if ev.Button != bu.Button {
		return
	}

	switch ev.Kind {
	case monitor.EventPressed:
		bu.lock.Lock()
		bu.pressed = !ev.Inferred
		bu.presses++
		bu.lock.Unlock()
		bu.ss.ProgrammableSwitchEvent.SetValue(characteristic.ProgrammableSwitchEventSinglePress)
	case monitor.EventReleased:
		bu.lock.Lock()
		bu.pressed = false
		bu.lock.Unlock()
	}
}
