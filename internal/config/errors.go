package config

import (
	"errors"
	"fmt"
)

// ErrConfiguration matches every configuration error with errors.Is.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError reports an invalid or unreadable configuration.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return "configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ModelConfigurationError reports an inconsistent model endpoint setup.
type ModelConfigurationError struct {
	Reason string
}

func (e *ModelConfigurationError) Error() string {
	return "model configuration: " + e.Reason
}

// Is reports whether target is ErrConfiguration.
func (e *ModelConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ParameterMissingError reports a required parameter that was not set,
// with the environment variable that sets it.
type ParameterMissingError struct {
	Parameter string
	EnvVar    string
}

func (e *ParameterMissingError) Error() string {
	return fmt.Sprintf("%s is missing. Set it with `%s`", e.Parameter, e.EnvVar)
}

// Is reports whether target is ErrConfiguration.
func (e *ParameterMissingError) Is(target error) bool { return target == ErrConfiguration }
