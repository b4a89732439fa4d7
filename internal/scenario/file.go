// Package scenario is the demonstration content run by the CLI: stressed
// agents deciding whether to flee, how they feel, whom to address and with
// which gesture.
package scenario

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentSpec describes a group of agents.
type AgentSpec struct {
	Model  string  `yaml:"model"`
	Count  int     `yaml:"count"`
	Stress float64 `yaml:"stress"`
	Jitter float64 `yaml:"jitter"`
}

// FlowSpec overrides scheduling of the decide flow for a model.
type FlowSpec struct {
	Model  string        `yaml:"model"`
	Period time.Duration `yaml:"period"`
	Cyclic bool          `yaml:"cyclic"`
	Delay  time.Duration `yaml:"delay"`
}

// File is a scenario file.
type File struct {
	Seed            uint64      `yaml:"seed"`
	DecayRate       float64     `yaml:"decay_rate"`       // stress lost per second
	StressThreshold float64     `yaml:"stress_threshold"` // above it an agent is stressed
	InboxSize       int         `yaml:"inbox_size"`
	Agents          []AgentSpec `yaml:"agents"`
	Flows           []FlowSpec  `yaml:"flows"`
}

// Default returns the built-in scenario.
func Default() *File {
	return &File{
		DecayRate:       0.05,
		StressThreshold: 0.5,
		InboxSize:       8,
		Agents: []AgentSpec{
			{Model: "person", Count: 20, Stress: 0.5, Jitter: 0.4},
		},
		Flows: []FlowSpec{
			{Model: "person", Period: 500 * time.Millisecond, Cyclic: true},
		},
	}
}

// Load reads a scenario file. Unset fields keep Default values.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML scenario.
func Parse(data []byte) (*File, error) {
	f := Default()
	f.Agents = nil
	f.Flows = nil
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(f.Agents) == 0 {
		f.Agents = Default().Agents
	}
	if len(f.Flows) == 0 {
		f.Flows = Default().Flows
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the scenario.
func (f *File) Validate() error {
	if f.DecayRate < 0 {
		return fmt.Errorf("decay_rate must be >= 0")
	}
	if f.StressThreshold <= 0 || f.StressThreshold >= 1 {
		return fmt.Errorf("stress_threshold must be in (0, 1), got %g", f.StressThreshold)
	}
	if f.InboxSize <= 0 {
		return fmt.Errorf("inbox_size must be positive")
	}

	models := make(map[string]bool)
	for _, fl := range f.Flows {
		if fl.Model == "" {
			return fmt.Errorf("flow: model is required")
		}
		if models[fl.Model] {
			return fmt.Errorf("flow: model %s declared twice", fl.Model)
		}
		if fl.Period < 0 || fl.Delay < 0 {
			return fmt.Errorf("flow %s: period and delay must be >= 0", fl.Model)
		}
		models[fl.Model] = true
	}

	for i, a := range f.Agents {
		if !models[a.Model] {
			return fmt.Errorf("agents %d: model %q has no flow", i, a.Model)
		}
		if a.Count < 0 {
			return fmt.Errorf("agents %d: count must be >= 0", i)
		}
		if a.Stress < 0 || a.Stress > 1 || a.Jitter < 0 {
			return fmt.Errorf("agents %d: stress must be in [0, 1] and jitter >= 0", i)
		}
	}
	return nil
}
