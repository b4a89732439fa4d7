package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DYNAMO_SIMULATION_STEPS.
const EnvPrefix = "DYNAMO"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, if any, then applies environment overrides on
// top of the defaults. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err == nil {
			v.SetConfigFile(l.configPath)
			v.SetConfigType(configType(l.configPath))
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	return l.configPath
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

// setDefaults registers every key so environment overrides apply even
// without a config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("simulation.steps", cfg.Simulation.Steps)
	v.SetDefault("simulation.tick", cfg.Simulation.Tick)
	v.SetDefault("simulation.drain_policy", cfg.Simulation.DrainPolicy)
	v.SetDefault("simulation.barrier_timeout", cfg.Simulation.BarrierTimeout)
	v.SetDefault("simulation.min_liveness_window", cfg.Simulation.MinLivenessWindow)
	v.SetDefault("simulation.cancel_on_shutdown", cfg.Simulation.CancelOnShutdown)
	v.SetDefault("simulation.seed", cfg.Simulation.Seed)
	v.SetDefault("simulation.scenario", cfg.Simulation.Scenario)

	v.SetDefault("executor.workers", cfg.Executor.Workers)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.audit_file", cfg.Logging.AuditFile)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.exporter", cfg.Tracing.Exporter)
	v.SetDefault("tracing.file", cfg.Tracing.File)
	v.SetDefault("tracing.sample_ratio", cfg.Tracing.SampleRatio)
}
