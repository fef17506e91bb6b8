package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/imdario/mergo"

	"github.com/dfsbench/dfsbench/pkg/logging"
)

const (
	EnvHomeDir  = "DFSBENCH_HOME"
	EnvListen   = "DFSBENCH_LISTEN"
	EnvEndpoint = "DFSBENCH_ENDPOINT"
	EnvInfluxDB = "DFSBENCH_INFLUXDB_URL"

	DefaultListenAddr = "localhost:8040"
)

var validate = validator.New()

// Defaults returns the fallback configuration.
func Defaults() EnvConfig {
	return EnvConfig{
		Coordinator: CoordinatorConfig{
			Listen:         DefaultListenAddr,
			Connections:    2,
			BarrierTimeout: Duration{10 * time.Second},
			ReplayGrace:    Duration{5 * time.Second},
		},
		Worker: WorkerConfig{
			Endpoint:         DefaultListenAddr,
			Times:            1,
			PropagationDelay: Duration{5 * time.Second},
			ReconnectDelay:   Duration{time.Second},
			Retry: RetryConfig{
				MaxAttempts: 1,
				Delay:       Duration{time.Second},
				OnFailure:   "abort",
			},
			Data: DataConfig{
				Start: "4KiB",
				Max:   "16MiB",
				Step:  4,
				Op:    "*",
			},
		},
		Results: ResultsConfig{
			Dir: "results",
			Influx: InfluxConfig{
				Database: "dfsbench",
			},
		},
		Networks: map[string]ConfigMap{
			"ipfs":  {"api": "localhost:5001"},
			"swarm": {"api": "http://localhost:1633", "debug_api": "http://localhost:1635"},
		},
	}
}

// Load resolves the home directory, reads the optional .env.toml found there,
// applies environment overrides and defaults, and validates the result.
func (e *EnvConfig) Load() error {
	// calculate home directory; use env var, or fall back to $HOME/dfsbench
	// otherwise.
	var home string
	if v, ok := os.LookupEnv(EnvHomeDir); ok {
		home = v
	} else {
		v, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to obtain user home dir: %w", err)
		}
		home = filepath.Join(v, "dfsbench")
	}

	switch fi, err := os.Stat(home); {
	case os.IsNotExist(err):
		logging.S().Infof("creating home directory at %s", home)
		if err := os.MkdirAll(home, 0777); err != nil {
			return fmt.Errorf("failed to create home directory at %s: %w", home, err)
		}
	case err != nil:
		return fmt.Errorf("failed to stat home directory %s: %w", home, err)
	case !fi.IsDir():
		return fmt.Errorf("home path is not a directory %s", home)
	default:
		logging.S().Debugf("using home directory: %s", home)
	}

	e.dirs = Directories{home}
	for _, d := range []string{e.dirs.Home(), e.dirs.State(), e.dirs.Results()} {
		if err := ensureDir(d); err != nil {
			return fmt.Errorf("failed to check/create directory %s: %w", d, err)
		}
	}

	// parse the .env.toml file, if it exists.
	f := filepath.Join(e.dirs.Home(), ".env.toml")
	if _, err := os.Stat(f); err == nil {
		if _, err = toml.DecodeFile(f, e); err != nil {
			return fmt.Errorf("found .env.toml at %s, but failed to parse: %w", f, err)
		}
		logging.S().Infof(".env.toml loaded from: %s", f)
	} else {
		logging.S().Debugf("no .env.toml found at %s; running with defaults", f)
	}

	e.applyEnv()

	if err := e.applyDefaults(); err != nil {
		return err
	}
	if !filepath.IsAbs(e.Results.Dir) {
		e.Results.Dir = filepath.Join(e.dirs.Home(), e.Results.Dir)
	}
	return e.Validate()
}

// Validate checks the merged configuration.
func (e *EnvConfig) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (e *EnvConfig) applyEnv() {
	if v, ok := os.LookupEnv(EnvListen); ok {
		e.Coordinator.Listen = v
	}
	if v, ok := os.LookupEnv(EnvEndpoint); ok {
		e.Worker.Endpoint = v
	}
	if v, ok := os.LookupEnv(EnvInfluxDB); ok {
		e.Results.Influx.Addr = v
	}
}

// applyDefaults fills every zero value with its fallback. Values present in
// .env.toml or the environment are never overridden.
func (e *EnvConfig) applyDefaults() error {
	def := Defaults()
	nets := def.Networks
	def.Networks = nil

	dirs := e.dirs
	if err := mergo.Merge(e, def); err != nil {
		return fmt.Errorf("failed to apply configuration defaults: %w", err)
	}
	e.dirs = dirs

	// network sections are merged key by key, so a partially configured
	// network keeps the remaining defaults.
	if e.Networks == nil {
		e.Networks = make(map[string]ConfigMap, len(nets))
	}
	for name, dm := range nets {
		m := e.Networks[name]
		if m == nil {
			m = make(ConfigMap, len(dm))
			e.Networks[name] = m
		}
		for k, v := range dm {
			if _, ok := m[k]; !ok {
				m[k] = v
			}
		}
	}
	return nil
}

// ensureDir checks whether the specified path is a directory, and if not it
// attempts to create it.
func ensureDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return os.MkdirAll(path, os.ModePerm)
	}

	if !fi.IsDir() {
		return fmt.Errorf("path %s exists, and it is not a directory", path)
	}
	return nil
}
