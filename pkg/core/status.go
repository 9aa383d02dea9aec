package core

import "strings"

// SessionStatus represents the state of an analysis session or a single capture.
type SessionStatus int

const (
	StatusPending SessionStatus = iota // Not yet started
	StatusRunning                      // Currently capturing or analyzing
	StatusPassed                       // Analyzed, no issues at or above the failure severity
	StatusFailed                       // Analyzed, issues found
	StatusErrored                      // Capture or analysis could not complete
	StatusStopped                      // Cancelled by the user
)

// String returns the string representation of SessionStatus
func (s SessionStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "errored"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the status is a final state
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusStopped:
		return true
	default:
		return false
	}
}

// ErrorCategory classifies the type of error for reporting and retry decisions
type ErrorCategory int

const (
	ErrCategoryNone      ErrorCategory = iota // No error
	ErrCategoryCapture                        // Screenshot could not be taken
	ErrCategoryDevice                         // Simulator/emulator tooling failed
	ErrCategoryDetection                      // Image decode, detector build, baseline lookup
	ErrCategoryRule                           // Rule evaluation or rule script failure
	ErrCategoryPatch                          // Anchor missing, validation failed
	ErrCategoryConfig                         // Invalid configuration, missing required field
	ErrCategoryStorage                        // History database or report files
	ErrCategoryNotify                         // Outbound notification
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryCapture:
		return "capture"
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryDetection:
		return "detection"
	case ErrCategoryRule:
		return "rule"
	case ErrCategoryPatch:
		return "patch"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryStorage:
		return "storage"
	case ErrCategoryNotify:
		return "notify"
	default:
		return "unknown"
	}
}

// Severity ranks an issue. The zero value is SeverityLow.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

// String returns the string representation of Severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseSeverity accepts low, medium and high in any case.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, true
	case "medium":
		return SeverityMedium, true
	case "high":
		return SeverityHigh, true
	default:
		return SeverityLow, false
	}
}

// MarshalText encodes the severity by name in JSON and YAML.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	v, ok := ParseSeverity(string(text))
	if !ok {
		return ErrInvalidConfig.Messagef("unknown severity %q", string(text))
	}
	*s = v
	return nil
}
