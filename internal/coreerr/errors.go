// Package coreerr defines the structured error taxonomy every browserkeeper
// component returns instead of ad hoc errors, so callers can branch on Kind
// with errors.As and read the attached Diagnostic map. Error() does not
// include that map, and the diagnose report carries only error messages.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error tag.
type Kind string

const (
	BinaryNotFound      Kind = "BinaryNotFound"
	WrongChannel        Kind = "WrongChannel"
	NetworkError        Kind = "NetworkError"
	DigestMismatch      Kind = "DigestMismatch"
	UnsupportedPlatform Kind = "UnsupportedPlatform"
	ExtractError        Kind = "ExtractError"
	DiskError           Kind = "DiskError"
	PortInUse           Kind = "PortInUse"
	LaunchError         Kind = "LaunchError"
	ProcessEnumError    Kind = "ProcessEnumError"
	ProcessKillError    Kind = "ProcessKillError"
	ProbeFailure        Kind = "ProbeFailure"
	HealthDegraded      Kind = "HealthDegraded"
	RecoveryExhausted   Kind = "RecoveryExhausted"
	StateWriteError     Kind = "StateWriteError"
	NoUsableContext     Kind = "NoUsableContext"
	AlreadyExists       Kind = "AlreadyExists"
	NotFound            Kind = "NotFound"
	Refused             Kind = "Refused"
	Cancelled           Kind = "Cancelled"
)

// remedies gives the one-line human remediation hint per kind, used when a
// call site does not supply a more specific one via WithRemediation.
var remedies = map[Kind]string{
	BinaryNotFound:      "run install, or set launch.binary_path_override to an existing test-build binary",
	WrongChannel:        "the found binary is a consumer-channel build; automation with a persistent profile requires the test build",
	NetworkError:        "check network connectivity to the vendor metadata and download hosts",
	DigestMismatch:      "the downloaded archive did not match its declared digest; retry or check for a corrupted mirror",
	UnsupportedPlatform: "no known-good build exists for this OS/architecture",
	ExtractError:        "check disk space and permissions under the cache root",
	DiskError:           "check disk space and permissions for the affected path",
	PortInUse:           "choose a different debug_port or close the process holding it",
	LaunchError:         "check that the binary is executable and the profile directory is writable",
	ProcessEnumError:    "process enumeration failed; check OS permissions for inspecting other processes",
	ProcessKillError:    "the process did not exit after graceful and forced termination; intervene manually",
	ProbeFailure:        "the remote-debugging endpoint did not become usable within the readiness window",
	HealthDegraded:      "recent health samples exceeded the failure threshold",
	RecoveryExhausted:   "the restart budget for this supervisor lifetime was exhausted",
	StateWriteError:     "the state file could not be written; continuing with in-memory state only",
	NoUsableContext:     "no browsing context could be found or created on the endpoint",
	AlreadyExists:       "an item with that name already exists",
	NotFound:            "no matching item was found",
	Refused:             "the operation was refused",
	Cancelled:           "the operation was cancelled",
}

// Error is the structured error every core component returns for expected
// failure modes. It is never used for programming bugs, which are allowed
// to panic.
type Error struct {
	Kind        Kind
	Op          string
	Message     string
	Remediation string
	Cause       error
	Diagnostic  map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a structured Error, filling in the default remediation for Kind
// unless one is supplied via WithRemediation.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Remediation: remedies[kind]}
}

// Wrap builds a structured Error around an existing cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	e := New(kind, op, message)
	e.Cause = cause
	return e
}

// WithRemediation overrides the default remediation hint.
func (e *Error) WithRemediation(remediation string) *Error {
	e.Remediation = remediation
	return e
}

// WithDiagnostic attaches a diagnostic key/value to the Diagnostic field.
// It is not part of Error()'s text and is not rendered by `diagnose`.
func (e *Error) WithDiagnostic(key string, value any) *Error {
	if e.Diagnostic == nil {
		e.Diagnostic = map[string]any{}
	}
	e.Diagnostic[key] = value
	return e
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
