// Package corestate persists PersistedState to a single JSON document
// with atomic writes. The file is a cache and hint, never a source of
// truth: every field here must be re-derivable from the filesystem, and
// a corrupt or missing file degrades to an empty state rather than an
// error.
package corestate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/browserkeeper/browserkeeper/internal/coreerr"
)

// CurrentSchemaVersion is the schema version this build writes.
const CurrentSchemaVersion = 1

// CachedBinary records the last binary Finder/Installer resolved.
type CachedBinary struct {
	Path       string    `json:"path"`
	Version    string    `json:"version"`
	VerifiedAt time.Time `json:"verified_at"`
}

// ProfileEntry is one entry in the profile index.
type ProfileEntry struct {
	Directory  string    `json:"directory"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	Label      string    `json:"label,omitempty"`
}

// LastLaunch records the most recent successful launch, used for warm-start
// reconciliation.
type LastLaunch struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	Profile   string    `json:"profile"`
	StartedAt time.Time `json:"started_at"`
}

// PersistedState is the on-disk state document: cached binary info, the
// profile index, and the last successful launch. Unknown keys from a
// future schema version are preserved via Extra.
type PersistedState struct {
	SchemaVersion int                     `json:"schema_version"`
	CachedBinary  *CachedBinary           `json:"cached_binary,omitempty"`
	Profiles      map[string]ProfileEntry `json:"profiles"`
	LastLaunch    *LastLaunch             `json:"last_launch,omitempty"`

	// Extra preserves any top-level key this build does not understand,
	// so a write-back from an older binary never drops a newer one's data.
	Extra map[string]json.RawMessage `json:"-"`
}

// Empty returns a fresh, valid PersistedState at the current schema
// version with an initialized (empty) profile index.
func Empty() PersistedState {
	return PersistedState{
		SchemaVersion: CurrentSchemaVersion,
		Profiles:      map[string]ProfileEntry{},
	}
}

// Store is a file-backed, in-process-serialized State Store.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store persisting to path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the state file. Any failure to read or parse it (missing,
// truncated, corrupt JSON) yields Empty() rather than an error, per the
// spec's "never aborts" contract; migrate() is applied if the on-disk
// schema_version is older than CurrentSchemaVersion.
func (s *Store) Load() PersistedState {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Empty()
	}

	var onDisk map[string]json.RawMessage
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return Empty()
	}

	var st PersistedState
	if err := json.Unmarshal(raw, &st); err != nil {
		return Empty()
	}
	if st.Profiles == nil {
		st.Profiles = map[string]ProfileEntry{}
	}

	knownKeys := map[string]bool{
		"schema_version": true, "cached_binary": true, "profiles": true, "last_launch": true,
	}
	extra := map[string]json.RawMessage{}
	for k, v := range onDisk {
		if !knownKeys[k] {
			extra[k] = v
		}
	}
	st.Extra = extra

	for st.SchemaVersion < CurrentSchemaVersion {
		st = migrate(st)
	}

	return st
}

// Save atomically rewrites the state file: write to a temp file in the
// same directory, fsync, then rename. The rename is atomic on every
// supported OS, so a reader never observes a partially written file.
func (s *Store) Save(st PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.Profiles == nil {
		st.Profiles = map[string]ProfileEntry{}
	}
	if st.SchemaVersion == 0 {
		st.SchemaVersion = CurrentSchemaVersion
	}

	merged, err := marshalWithExtra(st)
	if err != nil {
		return coreerr.Wrap(coreerr.StateWriteError, "state.save", "failed to encode state", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return coreerr.Wrap(coreerr.StateWriteError, "state.save", "failed to create state directory", err).
			WithDiagnostic("path", s.path)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json.tmp")
	if err != nil {
		return coreerr.Wrap(coreerr.StateWriteError, "state.save", "failed to create temp file", err).
			WithDiagnostic("path", s.path)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(merged); err != nil {
		tmp.Close()
		return coreerr.Wrap(coreerr.StateWriteError, "state.save", "failed to write temp file", err).
			WithDiagnostic("path", s.path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return coreerr.Wrap(coreerr.StateWriteError, "state.save", "failed to fsync temp file", err).
			WithDiagnostic("path", s.path)
	}
	if err := tmp.Close(); err != nil {
		return coreerr.Wrap(coreerr.StateWriteError, "state.save", "failed to close temp file", err).
			WithDiagnostic("path", s.path)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return coreerr.Wrap(coreerr.StateWriteError, "state.save", "failed to rename temp file into place", err).
			WithDiagnostic("path", s.path)
	}
	return nil
}

// marshalWithExtra encodes st, re-injecting any preserved unknown
// top-level keys from a future schema version.
func marshalWithExtra(st PersistedState) ([]byte, error) {
	type alias PersistedState
	base, err := json.MarshalIndent(alias(st), "", "  ")
	if err != nil {
		return nil, err
	}
	if len(st.Extra) == 0 {
		return append(base, '\n'), nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, err
	}
	for k, v := range st.Extra {
		doc[k] = v
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// migrate is a pure function from schema version N to N+1. There is only
// one schema version so far; future migrations are added as additional
// cases here, never by mutating an existing one.
func migrate(st PersistedState) PersistedState {
	switch st.SchemaVersion {
	default:
		st.SchemaVersion = CurrentSchemaVersion
		return st
	}
}
