package corelog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNopLogger(t *testing.T) {
	// Must never panic, regardless of nil-ish fields.
	Nop.Debug("x", nil)
	Nop.Info("x", map[string]any{"a": 1})
	Nop.Warn("x", nil)
	Nop.Error("x", nil)
	if Nop.With(map[string]any{"a": 1}) == nil {
		t.Fatal("With must return a usable logger")
	}
}

func TestNewWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := New("debug", &buf)

	l.Info("started", map[string]any{"profile": "default"})

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log output")
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("expected valid JSON line, got error: %v, line=%q", err, line)
	}
	if decoded["message"] != "started" {
		t.Errorf("expected message 'started', got %v", decoded["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New("warn", &buf)

	l.Debug("should be dropped", nil)
	l.Info("should also be dropped", nil)

	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got %q", buf.String())
	}

	l.Warn("should appear", nil)
	if buf.Len() == 0 {
		t.Error("expected output at configured level")
	}
}

func TestWithAddsContext(t *testing.T) {
	var buf bytes.Buffer
	l := New("debug", &buf).With(map[string]any{"session_id": "abc"})
	l.Info("hello", nil)

	if !strings.Contains(buf.String(), "abc") {
		t.Errorf("expected context field in output, got %q", buf.String())
	}
}
