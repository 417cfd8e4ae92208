package coreerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewFillsDefaultRemediation(t *testing.T) {
	err := New(WrongChannel, "finder.verify", "found a consumer build")
	if err.Remediation == "" {
		t.Fatal("expected a default remediation")
	}
	if err.Kind != WrongChannel {
		t.Errorf("expected kind WrongChannel, got %v", err.Kind)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(NetworkError, "installer.download", "archive fetch failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected Unwrap chain to reach the original cause")
	}
	if err.Error() == "" {
		t.Error("expected non-empty error string")
	}
}

func TestIsAndKindOf(t *testing.T) {
	err := New(ProbeFailure, "prober.probe", "refused")
	wrapped := fmt.Errorf("acquire: %w", err)

	if !Is(wrapped, ProbeFailure) {
		t.Error("expected Is to match through fmt.Errorf wrapping")
	}
	if KindOf(wrapped) != ProbeFailure {
		t.Errorf("expected KindOf to return ProbeFailure, got %v", KindOf(wrapped))
	}
	if Is(wrapped, LaunchError) {
		t.Error("expected Is to reject the wrong kind")
	}
}

func TestKindOfNonStructuredError(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Error("expected empty Kind for a non-structured error")
	}
}

func TestWithDiagnosticAccumulates(t *testing.T) {
	err := New(LaunchError, "process.launch", "spawn failed").
		WithDiagnostic("port", 9222).
		WithDiagnostic("profile", "default")

	if err.Diagnostic["port"] != 9222 || err.Diagnostic["profile"] != "default" {
		t.Errorf("expected both diagnostic keys to be present, got %v", err.Diagnostic)
	}
}
