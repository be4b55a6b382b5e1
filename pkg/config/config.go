// Package config loads and validates the maybenot CLI's YAML configuration:
// logging, the simulator's network model, and simulator run limits.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the maybenot CLI's configuration.
type Config struct {
	Framework FrameworkConfig `yaml:"framework"`
	Network   NetworkConfig   `yaml:"network"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// FrameworkConfig contains general framework settings.
type FrameworkConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// NetworkConfig parameterizes the simulator's network model: a one-way
// propagation delay, a rolling packets-per-second window, and an optional
// cap on packets per window (see pkg/simulator.Network/NetworkBottleneck).
type NetworkConfig struct {
	DelayMicrosec  uint64 `yaml:"delay_microsec"`
	WindowMillisec uint64 `yaml:"window_millisec"`
	PPSCap         *int   `yaml:"pps_cap"`
}

// SimulatorConfig bounds and filters one simulator run.
type SimulatorConfig struct {
	MaxTraceLength      int  `yaml:"max_trace_length"`
	MaxSimIterations    int  `yaml:"max_sim_iterations"`
	OnlyNetworkActivity bool `yaml:"only_network_activity"`
	OnlyClientEvents    bool `yaml:"only_client_events"`
}

// MetricsConfig controls the optional Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Framework: FrameworkConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Network: NetworkConfig{
			DelayMicrosec:  10_000,
			WindowMillisec: 1000,
		},
		Simulator: SimulatorConfig{
			MaxTraceLength:   10_000,
			MaxSimIterations: 1_000_000,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults for
// any field the file doesn't set. If path is empty, "config.yaml" in the
// current directory is tried; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Simulator.MaxTraceLength < 0 {
		return fmt.Errorf("simulator.max_trace_length must not be negative")
	}
	if c.Simulator.MaxSimIterations < 0 {
		return fmt.Errorf("simulator.max_sim_iterations must not be negative")
	}
	if c.Network.PPSCap != nil && *c.Network.PPSCap < 1 {
		return fmt.Errorf("network.pps_cap must be at least 1 when set")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics.enabled is true")
	}
	return nil
}
