// Unified error handling for the printstream host
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Stream pipeline errors
	ErrStreamSource ErrorCode = "STREAM_SOURCE"
	ErrStreamStage  ErrorCode = "STREAM_STAGE"
	ErrStreamMacro  ErrorCode = "STREAM_MACRO"

	// Session errors
	ErrSessionState ErrorCode = "SESSION_STATE"
	ErrSessionTask  ErrorCode = "SESSION_TASK"

	// Transport errors
	ErrTransport        ErrorCode = "TRANSPORT"
	ErrTransportClosed  ErrorCode = "TRANSPORT_CLOSED"
	ErrTransportTimeout ErrorCode = "TRANSPORT_TIMEOUT"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or component context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *HostError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *HostError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for missing or invalid config option
func ConfigOptionError(section, option string) *HostError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// Stream errors

// SourceError creates an error for a line source failure
func SourceError(path string, err error) *HostError {
	return Wrap(err, ErrStreamSource, fmt.Sprintf("line source %s failed", path))
}

// MacroError creates an error for a macro expansion failure
func MacroError(name, reason string) *HostError {
	return New(ErrStreamMacro, fmt.Sprintf("macro '%s': %s", name, reason))
}

// Session errors

// StateTransitionError creates an error for an illegal state transition
func StateTransitionError(from, to string) *HostError {
	return New(ErrSessionState, fmt.Sprintf("illegal transition %s -> %s", from, to))
}

// TaskError creates an error for a print task failure
func TaskError(reason string) *HostError {
	return New(ErrSessionTask, reason)
}

// Transport errors

// TransportError creates an error for a transport failure
func TransportError(operation string, err error) *HostError {
	return Wrap(err, ErrTransport, fmt.Sprintf("transport %s failed", operation))
}

// TransportTimeoutError creates an error for a transport timeout
func TransportTimeoutError(operation string) *HostError {
	return New(ErrTransportTimeout, fmt.Sprintf("transport %s timed out", operation))
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if hostErr, ok := err.(*HostError); ok {
		return hostErr.Code == code
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation)
}

// IsTransport checks if error is a transport error
func IsTransport(err error) bool {
	return Is(err, ErrTransport) ||
		Is(err, ErrTransportClosed) ||
		Is(err, ErrTransportTimeout)
}
