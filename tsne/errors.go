package tsne

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the package. Match them with errors.Is.
var (
	// ErrConfiguration is returned for an invalid Options value.
	ErrConfiguration = errors.New("tsne: invalid configuration")

	// ErrInputShape is returned when the data handed to Fit does not fit the
	// configuration (too few samples, non-square precomputed matrix, mismatched
	// initial embedding).
	ErrInputShape = errors.New("tsne: invalid input shape")

	// ErrState is returned when results are queried before a fit has finished.
	ErrState = errors.New("tsne: embedding not finished")

	// ErrInvalidMode is returned for an unknown gradient formulation.
	ErrInvalidMode = errors.New("tsne: invalid gradient mode")
)

// ConfigError names the offending option and the constraint it violates.
type ConfigError struct {
	Parameter string
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("tsne: invalid %s: %s", e.Parameter, e.Reason)
}

// Unwrap lets errors.Is(err, ErrConfiguration) match.
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

func configErrorf(parameter, format string, args ...any) error {
	return &ConfigError{Parameter: parameter, Reason: fmt.Sprintf(format, args...)}
}

func inputErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInputShape, fmt.Sprintf(format, args...))
}
