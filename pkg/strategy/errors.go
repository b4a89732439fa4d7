package strategy

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveBehaviour is returned when every behaviour of a strategy is
	// inactive for the agent being decided for.
	ErrNoActiveBehaviour = errors.New("no active behaviour")
	// ErrEmptyCandidateSet is returned by an influence graph given no candidates.
	ErrEmptyCandidateSet = errors.New("empty candidate set")
	// ErrFrozen is returned when behaviours are added after a flow was built on the strategy.
	ErrFrozen = errors.New("strategy is frozen")
	// ErrDuplicate is returned for a second registration of the same key or behaviour.
	ErrDuplicate = errors.New("already registered")
	// ErrNotRegistered is returned by lookups of unknown strategies.
	ErrNotRegistered = errors.New("not registered")
	// ErrSealed is returned for registrations after flow construction started.
	ErrSealed = errors.New("registry is sealed")

	errNoCompute = errors.New("behaviour has no compute function")
)

// ConfigurationError reports a registration or build-time mistake.
type ConfigurationError struct {
	Op   string
	Name string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configError(op, name string, err error) error {
	return &ConfigurationError{Op: op, Name: name, Err: err}
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
