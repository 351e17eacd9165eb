package nfc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrStopTimeout   = errors.New("timed out waiting for the reader to stop")
	ErrStillStopping = errors.New("previous poll loop has not exited yet")
	ErrNoCard        = errors.New("no card detected")
	ErrTimeout       = errors.New("timed out waiting for the device")
)

// FieldError describes a single schema violation.
type FieldError struct {
	Field   string
	Message string
}

func (f FieldError) Error() string {
	return fmt.Sprintf("%v: %v", f.Field, f.Message)
}

// ConfigurationError is returned for unknown plugin ids and for configuration that does not satisfy a plugin
// schema. It is always reported before any hardware has been touched.
type ConfigurationError struct {
	Plugin string
	Reason string
	Fields []FieldError
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Plugin != "" {
		fmt.Fprintf(&b, " for plugin %q", e.Plugin)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Fields) > 0 {
		msgs := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			msgs = append(msgs, f.Error())
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(msgs, ", "))
	}
	return b.String()
}

// HasField reports whether the error names the given configuration field.
func (e *ConfigurationError) HasField(name string) bool {
	for _, f := range e.Fields {
		if f.Field == name {
			return true
		}
	}
	return false
}

func UnknownPlugin(id string) *ConfigurationError {
	return &ConfigurationError{Plugin: id, Reason: fmt.Sprintf("unknown plugin %q", id)}
}

func InvalidConfig(id string, fields []FieldError) *ConfigurationError {
	return &ConfigurationError{Plugin: id, Reason: "invalid configuration", Fields: fields}
}

// HardwareInitError is returned by Start when the reader hardware could not be brought up.
type HardwareInitError struct {
	Plugin string
	Cause  error
}

func (e *HardwareInitError) Error() string {
	return fmt.Sprintf("%v: hardware init failed: %v", e.Plugin, e.Cause)
}

func (e *HardwareInitError) Unwrap() error {
	return e.Cause
}

// TransientReadError is a failed poll iteration. It is logged by the polling loop and never leaves it.
type TransientReadError struct {
	Plugin string
	Err    error
}

func (e *TransientReadError) Error() string {
	return fmt.Sprintf("%v: read failed: %v", e.Plugin, e.Err)
}

func (e *TransientReadError) Unwrap() error {
	return e.Err
}

// CallbackError wraps a failure (returned error or panic) of the scan callback.
type CallbackError struct {
	CardID string
	Err    error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("scan callback failed for card %v: %v", e.CardID, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}
