package xvfkit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hubertat/xvfkit/monitor"
)

// Duration is a time.Duration written as "20ms", "5s" in config files.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", string(text))
	}
	*d = Duration(parsed)
	return nil
}

type BusConfig struct {
	// I2cBus is the periph bus name, empty for the first bus found.
	I2cBus         string
	SpeedHz        uint32
	Address        uint16
	CommandTimeout Duration
}

type MonitorConfig struct {
	Retries        int
	RetryDelay     Duration
	PollInterval   Duration
	ErrorThreshold int
	Cooldown       Duration
}

func (mc MonitorConfig) monitorConfig() monitor.Config {
	return monitor.Config{
		Retries:        mc.Retries,
		RetryDelay:     mc.RetryDelay.Duration(),
		PollInterval:   mc.PollInterval.Duration(),
		ErrorThreshold: mc.ErrorThreshold,
		Cooldown:       mc.Cooldown.Duration(),
	}
}

type AgentConfig struct {
	Url         string
	ChannelName string
	UserId      uint32
	GraphName   string

	Greeting string
	Prompt   string
	Language string
	Voice    string
	Model    string

	Timeout           Duration
	KeepaliveInterval Duration
}

type InfluxConfig struct {
	Host         string
	Token        string
	Organization string
	Bucket       string
	Measurement  string
}

// LoadConfig reads a json config, or yaml for .yml/.yaml files.
func LoadConfig(path string) (xk *XvfKit, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = errors.Wrapf(err, "can't open config file (%s)", path)
		return
	}

	xk = &XvfKit{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, xk)
	default:
		err = json.Unmarshal(data, xk)
	}
	if err != nil {
		err = errors.Wrapf(err, "failed unmarshalling config (%s)", path)
		xk = nil
	}

	return
}
