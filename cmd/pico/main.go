//go:build tinygo

package main

import (
	"context"
	"machine"
	"time"

	"github.com/hubertat/xvfkit/drivers"
	"github.com/hubertat/xvfkit/monitor"
)

// ledAgent stands in for the voice agent on boards without network: the on-board
// LED is the session state.
type ledAgent struct {
	led     machine.Pin
	running bool
}

func (la *ledAgent) IsRunning() bool {
	return la.running
}

func (la *ledAgent) Start(ctx context.Context, reason string) error {
	la.running = true
	la.led.High()
	println("agent start:", reason)
	return nil
}

func (la *ledAgent) Stop(ctx context.Context, reason string) error {
	la.running = false
	la.led.Low()
	println("agent stop:", reason)
	return nil
}

func blink(led machine.Pin, times int) {
	for i := 0; i < times; i++ {
		led.High()
		time.Sleep(100 * time.Millisecond)
		led.Low()
		time.Sleep(300 * time.Millisecond)
	}
}

func main() {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})

	err := machine.I2C0.Configure(machine.I2CConfig{Frequency: 100 * machine.KHz})
	if err != nil {
		println("i2c setup failed:", err.Error())
		panic(err)
	}

	xvf := drivers.NewXvf3800(drivers.NewTinyGoBus(machine.I2C0), nil)

	ctx := context.Background()
	for {
		_, err = xvf.Discover(ctx)
		if err == nil {
			break
		}
		println("discovery failed, retrying:", err.Error())
		blink(led, 3)
		time.Sleep(2 * time.Second)
	}

	println("setup OK!")
	blink(led, 1)

	monitor.New(monitor.DefaultConfig(), xvf, &ledAgent{led: led}).Run(ctx)
}
