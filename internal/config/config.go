package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the Dynamo configuration
type Config struct {
	Simulation SimulationConfig `json:"simulation" mapstructure:"simulation"`
	Executor   ExecutorConfig   `json:"executor" mapstructure:"executor"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
	Metrics    MetricsConfig    `json:"metrics" mapstructure:"metrics"`
	Tracing    TracingConfig    `json:"tracing" mapstructure:"tracing"`
}

// SimulationConfig holds tick loop settings
type SimulationConfig struct {
	Steps             int           `json:"steps" mapstructure:"steps"`
	Tick              time.Duration `json:"tick" mapstructure:"tick"`
	DrainPolicy       string        `json:"drain_policy" mapstructure:"drain_policy"` // barrier, span
	BarrierTimeout    time.Duration `json:"barrier_timeout" mapstructure:"barrier_timeout"`
	MinLivenessWindow time.Duration `json:"min_liveness_window" mapstructure:"min_liveness_window"`
	CancelOnShutdown  bool          `json:"cancel_on_shutdown" mapstructure:"cancel_on_shutdown"`
	Seed              uint64        `json:"seed" mapstructure:"seed"`
	Scenario          string        `json:"scenario" mapstructure:"scenario"` // scenario file path
}

// ExecutorConfig holds worker pool settings
type ExecutorConfig struct {
	Workers int `json:"workers" mapstructure:"workers"` // 0 means GOMAXPROCS
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`

	// AuditFile receives one JSON line per applied command and liveness fault.
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// MetricsConfig holds the prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	Exporter    string  `json:"exporter" mapstructure:"exporter"`         // log or stdout
	File        string  `json:"file" mapstructure:"file"`                 // stdout exporter target, empty for stdout
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"` // fraction of root traces kept
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Steps:             100,
			Tick:              100 * time.Millisecond,
			DrainPolicy:       "barrier",
			BarrierTimeout:    5 * time.Second,
			MinLivenessWindow: time.Second,
			Seed:              1,
		},
		Executor: ExecutorConfig{
			Workers: 0,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "dynamo",
			Exporter:    "log",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	errs := NewValidator().ValidateConfig(c)
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Errorf("%d configuration errors, first: %w", len(errs), errs[0])
}
