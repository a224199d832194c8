package xvfkit

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"

	"github.com/hubertat/xvfkit/agent"
)

const agentSwitchTimeout = 15 * time.Second

// AgentSwitch is a HomeKit switch showing and overriding the agent session.
type AgentSwitch struct {
	Name string

	dispatcher *agent.Dispatcher

	hk    *accessory.Switch
	fault *characteristic.StatusFault
}

func NewAgentSwitch(name string, dispatcher *agent.Dispatcher) *AgentSwitch {
	as := &AgentSwitch{
		Name:       name,
		dispatcher: dispatcher,
	}

	as.hk = accessory.NewSwitch(accessory.Info{
		Name:         name,
		SerialNumber: fmt.Sprintf("agent:%s", name),
	})

	as.fault = characteristic.NewStatusFault()
	as.fault.SetValue(characteristic.StatusFaultNoFault)
	as.hk.Switch.AddC(as.fault.C)

	as.hk.Switch.On.SetValue(dispatcher.IsRunning())
	as.hk.Switch.On.OnValueRemoteUpdate(as.SetValue)
	dispatcher.Flag().Subscribe(as.hk.Switch.On.SetValue)

	return as
}

func (as *AgentSwitch) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("AgentSwitch_" + as.Name))
	return hash.Sum64()
}

func (as *AgentSwitch) GetHk() *accessory.A {
	return as.hk.A
}

// SetValue handles a toggle from HomeKit. On failure the switch falls back to the real state.
func (as *AgentSwitch) SetValue(state bool) {
	ctx, cancel := context.WithTimeout(context.Background(), agentSwitchTimeout)
	defer cancel()

	err := as.dispatcher.Set(ctx, state, "homekit")
	if err != nil {
		as.fault.SetValue(characteristic.StatusFaultGeneralFault)
		as.hk.Switch.On.SetValue(as.dispatcher.IsRunning())
		return
	}

	as.fault.SetValue(characteristic.StatusFaultNoFault)
}

func (as *AgentSwitch) IsOn() bool {
	return as.hk.Switch.On.Value()
}
