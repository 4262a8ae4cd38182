package models

import (
	"errors"
)

// Severity is the check status carried by an event. Values match the
// conventional plugin exit codes.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityCritical
	SeverityUnknown
)

// String returns the severity label used as output prefix
func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "OK"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	case SeverityUnknown:
		return "UNKNOWN"
	default:
		return "INVALID"
	}
}

// ExitCode returns the process exit status for the severity
func (s Severity) ExitCode() int {
	if !s.IsValid() {
		return int(SeverityUnknown)
	}
	return int(s)
}

// IsValid checks if the severity level is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityOK, SeverityWarning, SeverityCritical, SeverityUnknown:
		return true
	default:
		return false
	}
}

// Event is one check result sent to the local monitoring agent
type Event struct {
	// Check name
	Name string `json:"name"`

	// Client the result is reported for; empty means the agent itself
	Source string `json:"source,omitempty"`

	// Check status (0 OK, 1 WARNING, 2 CRITICAL, 3 UNKNOWN)
	Status Severity `json:"status"`

	// Human readable output, prefixed with the severity label
	Output string `json:"output"`

	// Handlers the agent should route the event to
	Handlers []string `json:"handlers"`
}

// Validation errors
var (
	ErrEmptyName       = errors.New("event name cannot be empty")
	ErrInvalidSeverity = errors.New("invalid severity level")
	ErrEmptyOutput     = errors.New("event output cannot be empty")
	ErrOutputTooLong   = errors.New("event output exceeds maximum length")
)

const (
	// MaxOutputLength keeps a serialized event inside a single datagram
	MaxOutputLength = 32768
)

// NewEvent builds the event for one classified record
func NewEvent(name, source string, severity Severity, message string, handlers []string) Event {
	hs := make([]string, len(handlers))
	copy(hs, handlers)

	return Event{
		Name:     name,
		Source:   source,
		Status:   severity,
		Output:   severity.String() + ": " + message,
		Handlers: hs,
	}
}

// Validate checks if the Event has all required fields and valid values
func (e *Event) Validate() error {
	if e.Name == "" {
		return ErrEmptyName
	}

	if !e.Status.IsValid() {
		return ErrInvalidSeverity
	}

	if e.Output == "" {
		return ErrEmptyOutput
	}

	if len(e.Output) > MaxOutputLength {
		return ErrOutputTooLong
	}

	return nil
}
