// Package fault defines the structured error type shared by the gather,
// compute, and audit stages. Failures are classified by code so the
// pipeline can tell the difference between a condition that poisons one
// artifact and one that must unwind the whole run.
package fault

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Code identifies a failure class. Codes are stable strings: they are
// persisted inside saved artifact sets and surfaced in audit results.
type Code string

const (
	// CodeUnknown covers errors that were not produced by this package.
	CodeUnknown Code = "UNKNOWN"

	// CodeNoDocumentRequest means the protocol log for a pass contained no
	// main-document request at all.
	CodeNoDocumentRequest Code = "NO_DOCUMENT_REQUEST"

	// CodeFailedDocumentRequest means the main-document request was observed
	// but did not complete successfully.
	CodeFailedDocumentRequest Code = "FAILED_DOCUMENT_REQUEST"

	// CodeProtocol is a DevTools command or connection failure. Always fatal.
	CodeProtocol Code = "PROTOCOL"

	// CodeInvalidURL means the requested target URL cannot be audited. Fatal.
	CodeInvalidURL Code = "INVALID_URL"

	// CodeMissingArtifact is raised by the audit executor when a required
	// artifact name is absent from the artifact set.
	CodeMissingArtifact Code = "MISSING_ARTIFACT"

	// CodeErroredArtifact is raised when a required artifact resolved to an
	// error produced by its gatherer.
	CodeErroredArtifact Code = "ERRORED_REQUIRED_ARTIFACT"

	// CodeMissingTrace is the trace-specific flavor of CodeMissingArtifact:
	// the set has a trace map but not one for the pass the audit needs.
	CodeMissingTrace Code = "MISSING_TRACE"

	// CodeCircularDependency means two computed artifacts requested each
	// other. A programming error; fails fast instead of deadlocking.
	CodeCircularDependency Code = "CIRCULAR_DEPENDENCY"

	// CodeAuditPanic wraps a panic recovered from an audit implementation.
	CodeAuditPanic Code = "AUDIT_PANIC"
)

// Error is the pipeline's error value. Fatal errors abort the run; all
// other faults are captured as data (artifact values, audit results).
type Error struct {
	Code    Code
	Message string
	Fatal   bool
	cause   error
}

// New returns a non-fatal fault with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Fatalf returns a fault flagged fatal. Fatal faults unwind the entire run
// no matter where they surface.
func Fatalf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Fatal: true}
}

// Wrap attaches a cause to a fault so errors.Is/As keep working through it.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Protocol wraps a DevTools connection or command failure. Protocol faults
// are fatal: once the channel is gone nothing downstream can be trusted.
func Protocol(op string, cause error) *Error {
	return &Error{
		Code:    CodeProtocol,
		Message: fmt.Sprintf("protocol error during %s: %v", op, cause),
		Fatal:   true,
		cause:   cause,
	}
}

// NoDocumentRequest reports a pass whose protocol log never saw the main
// document load.
func NoDocumentRequest(url string) *Error {
	return Newf(CodeNoDocumentRequest, "no document request found for %s", url)
}

// FailedDocumentRequest reports a main-document request that was observed
// but failed, with the underlying network reason when known.
func FailedDocumentRequest(url, reason string) *Error {
	if reason == "" {
		reason = "unknown"
	}
	return Newf(CodeFailedDocumentRequest, "document request for %s failed: %s", url, reason)
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// IsFatal reports whether err (anywhere in its chain) is a fault flagged
// fatal.
func IsFatal(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Fatal
}

// IsPageLoad reports whether err is a page-load classification failure.
// Page-load faults are counted against the run's abort budget.
func IsPageLoad(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Code == CodeNoDocumentRequest || fe.Code == CodeFailedDocumentRequest
}

// CodeOf extracts the fault code from err, or CodeUnknown for foreign errors.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeUnknown
}

// Friendly returns the user-facing message for err: the fault's message if
// err carries one, otherwise the error's own text.
func Friendly(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// From coerces an arbitrary error into a fault, preserving an existing one.
// Used when storing hook failures as artifact values.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Code: CodeUnknown, Message: err.Error(), cause: err}
}

// jsonError is the persisted form of Error inside saved artifact sets.
type jsonError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonError{Code: e.Code, Message: e.Message, Fatal: e.Fatal})
}

func (e *Error) UnmarshalJSON(data []byte) error {
	var je jsonError
	if err := json.Unmarshal(data, &je); err != nil {
		return err
	}
	e.Code = je.Code
	e.Message = je.Message
	e.Fatal = je.Fatal
	e.cause = nil
	return nil
}
