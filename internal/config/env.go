package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "VOXELPIPE_"

type envBinding struct {
	name string
	get  func(*Config) string
	set  func(*Config, string) error
}

func stringBinding(name string, field func(*Config) *string) envBinding {
	return envBinding{
		name: name,
		get:  func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			*field(c) = v
			return nil
		},
	}
}

func intBinding(name string, field func(*Config) *int) envBinding {
	return envBinding{
		name: name,
		get:  func(c *Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*field(c) = n
			return nil
		},
	}
}

var envBindings = []envBinding{
	stringBinding("DATA_DIR", func(c *Config) *string { return &c.Paths.DataDir }),
	stringBinding("STATE_DIR", func(c *Config) *string { return &c.Paths.StateDir }),
	stringBinding("LOG_DIR", func(c *Config) *string { return &c.Paths.LogDir }),
	stringBinding("SOCKET", func(c *Config) *string { return &c.Paths.Socket }),
	stringBinding("SIDECAR_EXTENSION", func(c *Config) *string { return &c.Pipeline.SidecarExtension }),
	stringBinding("SKIP_POLICY", func(c *Config) *string { return &c.Pipeline.DefaultSkipPolicy }),
	intBinding("NUM_PROCESSES", func(c *Config) *int { return &c.Pipeline.NumProcesses }),
	intBinding("POLL_INTERVAL_SECONDS", func(c *Config) *int { return &c.Scheduler.PollIntervalSeconds }),
	intBinding("WORKER_POLL_SECONDS", func(c *Config) *int { return &c.Scheduler.WorkerPollSeconds }),
	stringBinding("LOG_FORMAT", func(c *Config) *string { return &c.Logging.Format }),
	stringBinding("LOG_LEVEL", func(c *Config) *string { return &c.Logging.Level }),
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, binding := range envBindings {
		value, ok := lookup(EnvPrefix + binding.name)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := binding.set(c, value); err != nil {
			return err
		}
	}
	return nil
}

// Environ renders the effective configuration as VOXELPIPE_* assignments so
// child processes observe exactly the settings of their parent.
func (c *Config) Environ() []string {
	out := make([]string, 0, len(envBindings))
	for _, binding := range envBindings {
		value := binding.get(c)
		if value == "" {
			continue
		}
		out = append(out, EnvPrefix+binding.name+"="+value)
	}
	return out
}
