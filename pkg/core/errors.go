package core

import (
	"errors"
	"fmt"
)

// Error represents a structured error with category and details.
type Error struct {
	Category  ErrorCategory
	Code      string                 // Machine-readable code: capture_failed, anchor_not_found, etc.
	Message   string                 // Human-readable message
	Details   map[string]interface{} // Additional context
	Cause     error                  // Underlying error
	Transient bool                   // Retrying may succeed
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by category and code, so derived copies still
// compare equal to the predefined value they came from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

func (e *Error) clone() *Error {
	c := *e
	return &c
}

// WithCause returns a copy of the error with the given cause
func (e *Error) WithCause(cause error) *Error {
	c := e.clone()
	c.Cause = cause
	return c
}

// WithMessage returns a copy of the error with a custom message
func (e *Error) WithMessage(msg string) *Error {
	c := e.clone()
	c.Message = msg
	return c
}

// Messagef is WithMessage with formatting.
func (e *Error) Messagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	merged := make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	c := e.clone()
	c.Details = merged
	return c
}

// IsTransient reports whether any error in the chain is a transient *Error.
func IsTransient(err error) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Transient {
			return true
		}
		err = e.Cause
	}
	return false
}

// CategoryOf returns the category of the outermost *Error in the chain.
func CategoryOf(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ErrCategoryNone
}

// Predefined errors
var (
	// Capture errors
	ErrCaptureFailed = &Error{
		Category:  ErrCategoryCapture,
		Code:      "capture_failed",
		Message:   "screenshot capture failed",
		Transient: true,
	}
	ErrEmptyCapture = &Error{
		Category:  ErrCategoryCapture,
		Code:      "empty_capture",
		Message:   "screenshot is empty",
		Transient: true,
	}

	// Device errors
	ErrNoBootedDevice = &Error{
		Category: ErrCategoryDevice,
		Code:     "no_booted_device",
		Message:  "no booted device found",
	}
	ErrDeviceNotFound = &Error{
		Category: ErrCategoryDevice,
		Code:     "device_not_found",
		Message:  "device not found",
	}
	ErrDeviceTimeout = &Error{
		Category:  ErrCategoryDevice,
		Code:      "device_timeout",
		Message:   "device did not respond in time",
		Transient: true,
	}
	ErrCommandFailed = &Error{
		Category:  ErrCategoryDevice,
		Code:      "command_failed",
		Message:   "device command failed",
		Transient: true,
	}

	// Detection errors
	ErrDecodeFailed = &Error{
		Category: ErrCategoryDetection,
		Code:     "decode_failed",
		Message:  "could not decode image",
	}
	ErrDetectorUnavailable = &Error{
		Category: ErrCategoryDetection,
		Code:     "detector_unavailable",
		Message:  "image detector is not available in this build",
	}
	ErrBaselineMissing = &Error{
		Category: ErrCategoryDetection,
		Code:     "baseline_missing",
		Message:  "no baseline for screen",
	}

	// Rule errors
	ErrRuleScript = &Error{
		Category: ErrCategoryRule,
		Code:     "rule_script",
		Message:  "rule script failed",
	}

	// Patch errors
	ErrAnchorNotFound = &Error{
		Category: ErrCategoryPatch,
		Code:     "anchor_not_found",
		Message:  "patch anchor not found",
	}
	ErrPatchInvalid = &Error{
		Category: ErrCategoryPatch,
		Code:     "patch_invalid",
		Message:  "invalid patch rule",
	}
	ErrSyntaxBroken = &Error{
		Category: ErrCategoryPatch,
		Code:     "syntax_broken",
		Message:  "patched source no longer parses",
	}
	ErrFileChanged = &Error{
		Category: ErrCategoryPatch,
		Code:     "file_changed",
		Message:  "file changed since the patch was planned",
	}

	// Config errors
	ErrInvalidConfig = &Error{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &Error{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}

	// Storage errors
	ErrStorage = &Error{
		Category: ErrCategoryStorage,
		Code:     "storage",
		Message:  "storage operation failed",
	}

	// Notify errors
	ErrNotifyFailed = &Error{
		Category:  ErrCategoryNotify,
		Code:      "notify_failed",
		Message:   "notification failed",
		Transient: true,
	}
)

// NewError creates a new Error with the given parameters
func NewError(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category: category,
		Code:     code,
		Message:  message,
	}
}
