package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

type ConfigMap map[string]interface{}

// EnvConfig contains the environment configuration. It is populated by
// coalescing values from these sources, in descending order of precedence:
//
//  1. environment variables.
//  2. .env.toml.
//  3. default fallbacks.
type EnvConfig struct {
	dirs Directories

	Coordinator CoordinatorConfig    `toml:"coordinator"`
	Worker      WorkerConfig         `toml:"worker"`
	Results     ResultsConfig        `toml:"results"`
	Networks    map[string]ConfigMap `toml:"networks"`
}

func (e EnvConfig) Dirs() Directories {
	return e.dirs
}

// Network decodes the section of the named network into out, which is
// typically a pointer to the network's own config struct.
func (e EnvConfig) Network(name string, out interface{}) error {
	m, ok := e.Networks[name]
	if !ok {
		return fmt.Errorf("no configuration for network %s", name)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]interface{}(m)); err != nil {
		return fmt.Errorf("invalid configuration for network %s: %w", name, err)
	}
	return nil
}

type CoordinatorConfig struct {
	Listen            string   `toml:"listen" validate:"required"`
	Auto              bool     `toml:"auto"`
	Connections       int      `toml:"connections" validate:"gte=0"`
	BarrierTimeout    Duration `toml:"barrier_timeout"`
	ReplayGrace       Duration `toml:"replay_grace"`
	DisconnectTimeout Duration `toml:"disconnect_timeout"`
}

type WorkerConfig struct {
	Endpoint         string      `toml:"endpoint" validate:"required"`
	User             string      `toml:"user"`
	ID               string      `toml:"id"`
	Times            int         `toml:"times" validate:"gte=1"`
	PropagationDelay Duration    `toml:"propagation_delay"`
	ReconnectDelay   Duration    `toml:"reconnect_delay"`
	Retry            RetryConfig `toml:"retry"`
	Data             DataConfig  `toml:"data"`
}

type RetryConfig struct {
	MaxAttempts uint     `toml:"max_attempts" validate:"gte=1"`
	Delay       Duration `toml:"delay"`
	OnFailure   string   `toml:"on_failure" validate:"oneof=abort skip retry"`
}

type DataConfig struct {
	Start string `toml:"start" validate:"required"`
	Max   string `toml:"max" validate:"required"`
	Step  uint64 `toml:"step" validate:"gte=1"`
	Op    string `toml:"op" validate:"oneof=* +"`
}

type ResultsConfig struct {
	// Dir is the root of the CSV results tree. Relative paths are resolved
	// against the home directory.
	Dir    string       `toml:"dir"`
	Influx InfluxConfig `toml:"influxdb"`
}

// InfluxConfig enables the InfluxDB results sink when Addr is set.
type InfluxConfig struct {
	Addr     string `toml:"addr"`
	Database string `toml:"database"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Duration is a time.Duration that reads and writes as a string ("10s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
