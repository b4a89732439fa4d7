package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateDrainPolicy validates the command queue drain policy
func (v *Validator) ValidateDrainPolicy(policy string) error {
	if policy == "" {
		return nil // Use default
	}

	validPolicies := []string{"barrier", "span"}
	for _, valid := range validPolicies {
		if policy == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid drain policy: %s (must be one of: %s)", policy, strings.Join(validPolicies, ", "))
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePositiveDuration validates a strictly positive duration
func (v *Validator) ValidatePositiveDuration(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

// ValidateAddr validates a host:port listen address
func (v *Validator) ValidateAddr(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	sim := cfg.Simulation
	if sim.Steps < 0 {
		errors = append(errors, fmt.Errorf("simulation.steps must be >= 0"))
	}
	if err := v.ValidatePositiveDuration("simulation.tick", sim.Tick); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateDrainPolicy(sim.DrainPolicy); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidatePositiveDuration("simulation.barrier_timeout", sim.BarrierTimeout); err != nil {
		errors = append(errors, err)
	}
	if sim.MinLivenessWindow < 0 {
		errors = append(errors, fmt.Errorf("simulation.min_liveness_window must be >= 0"))
	}

	if cfg.Executor.Workers < 0 {
		errors = append(errors, fmt.Errorf("executor.workers must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Metrics.Enabled {
		if err := v.ValidateAddr(cfg.Metrics.Addr); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Tracing.Enabled {
		if strings.TrimSpace(cfg.Tracing.ServiceName) == "" {
			errors = append(errors, fmt.Errorf("tracing.service_name is required when tracing is enabled"))
		}
		if err := v.ValidateExporter(cfg.Tracing.Exporter); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("tracing.sample_ratio must be in [0, 1], got %g", cfg.Tracing.SampleRatio))
	}

	return errors
}

// ValidateExporter validates the trace exporter name
func (v *Validator) ValidateExporter(exporter string) error {
	validExporters := []string{"log", "stdout"}
	for _, valid := range validExporters {
		if exporter == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid trace exporter: %q (must be one of: %s)", exporter, strings.Join(validExporters, ", "))
}
