package core

import (
	"errors"
	"fmt"
)

// Error represents a session error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrConfiguration covers invalid or missing static configuration,
	// such as an absent API key.
	ErrConfiguration ErrorType = "configuration_error"
	// ErrDevice covers local audio hardware failures on either the
	// capture or the playback side.
	ErrDevice ErrorType = "device_error"
	// ErrConnection covers connect failures and mid-session transport
	// failures on the remote channel.
	ErrConnection ErrorType = "connection_error"
	// ErrDecode covers malformed inbound audio payloads.
	ErrDecode ErrorType = "decode_error"
)

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string) *Error {
	return &Error{
		Type:    ErrConfiguration,
		Message: message,
	}
}

// NewDeviceError creates a device error wrapping the hardware failure.
func NewDeviceError(message string, cause error) *Error {
	return &Error{
		Type:    ErrDevice,
		Message: wrapMessage(message, cause),
		cause:   cause,
	}
}

// NewConnectionError creates a connection error wrapping the transport failure.
func NewConnectionError(message string, cause error) *Error {
	return &Error{
		Type:    ErrConnection,
		Message: wrapMessage(message, cause),
		cause:   cause,
	}
}

// NewDecodeError creates a decode error wrapping the codec failure.
func NewDecodeError(message string, cause error) *Error {
	return &Error{
		Type:    ErrDecode,
		Message: wrapMessage(message, cause),
		cause:   cause,
	}
}

func wrapMessage(message string, cause error) string {
	if cause == nil {
		return message
	}
	return fmt.Sprintf("%s: %v", message, cause)
}

// TypeOf returns the ErrorType of err, or "" when err is not a *Error.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}
