package corestate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))
	st := s.Load()
	if st.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("expected current schema version, got %d", st.SchemaVersion)
	}
	if st.Profiles == nil {
		t.Error("expected initialized profile map")
	}
}

func TestLoadCorruptFileYieldsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0644); err != nil {
		t.Fatal(err)
	}
	s := New(path)
	st := s.Load()
	if st.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("expected empty/default state, got %+v", st)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path)

	st := Empty()
	st.CachedBinary = &CachedBinary{Path: "/opt/chromium/chrome", Version: "131.0.6778.85", VerifiedAt: time.Now().UTC().Truncate(time.Second)}
	st.Profiles["default"] = ProfileEntry{Directory: "/data/profiles/default", CreatedAt: time.Now().UTC().Truncate(time.Second)}
	st.LastLaunch = &LastLaunch{PID: 1234, Port: 9222, Profile: "default", StartedAt: time.Now().UTC().Truncate(time.Second)}

	if err := s.Save(st); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded := s.Load()
	if loaded.CachedBinary == nil || loaded.CachedBinary.Path != st.CachedBinary.Path {
		t.Errorf("expected cached binary to round-trip, got %+v", loaded.CachedBinary)
	}
	if _, ok := loaded.Profiles["default"]; !ok {
		t.Error("expected default profile to round-trip")
	}
	if loaded.LastLaunch == nil || loaded.LastLaunch.PID != 1234 {
		t.Errorf("expected last_launch to round-trip, got %+v", loaded.LastLaunch)
	}
}

func TestSaveIsAtomic_NoPartialFileObserved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := New(path)

	if err := s.Save(Empty()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "state.json" {
			t.Errorf("expected no leftover temp files, found %q", e.Name())
		}
	}
}

func TestUnknownFutureKeysPreservedOnWriteBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	doc := map[string]any{
		"schema_version": 1,
		"profiles":       map[string]any{},
		"future_field":   map[string]any{"some": "data"},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatal(err)
	}

	s := New(path)
	st := s.Load()
	if _, ok := st.Extra["future_field"]; !ok {
		t.Fatalf("expected future_field to be preserved, got extras: %v", st.Extra)
	}

	if err := s.Save(st); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	rawAfter, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var after map[string]json.RawMessage
	if err := json.Unmarshal(rawAfter, &after); err != nil {
		t.Fatal(err)
	}
	if _, ok := after["future_field"]; !ok {
		t.Error("expected future_field to survive a write-back")
	}
}

func TestEmptyStateHasNoError(t *testing.T) {
	st := Empty()
	if st.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("expected current schema version in Empty(), got %d", st.SchemaVersion)
	}
}
