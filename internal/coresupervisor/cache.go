package coresupervisor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/browserkeeper/browserkeeper/internal/corebinary"
	"github.com/browserkeeper/browserkeeper/internal/coreerr"
	"github.com/browserkeeper/browserkeeper/internal/coreprocess"
	"github.com/browserkeeper/browserkeeper/internal/corestate"
)

// ClearCacheOptions controls clear_cache()'s blast radius.
type ClearCacheOptions struct {
	DeleteProfiles bool
}

// ClearCache kills every managed (test-build, non-consumer-channel)
// process this host can see, deletes the downloaded binary cache, and
// optionally deletes profile directories and the profile index.
func (s *Supervisor) ClearCache(ctx context.Context, opts ClearCacheOptions) error {
	s.stopHealthLoop()

	candidates, err := s.Process.Enumerate()
	if err == nil {
		for _, c := range candidates {
			if c.IsConsumerChannel {
				continue
			}
			_ = s.Process.Terminate(ctx, c.PID, 5*time.Second)
		}
	}

	cacheRoot, err := s.Paths.CacheRoot()
	if err != nil {
		return err
	}
	managedDir := filepath.Join(cacheRoot, "chromium-testing")
	if err := os.RemoveAll(managedDir); err != nil {
		return coreerr.Wrap(coreerr.DiskError, "supervisor.clear_cache", "failed to remove managed binary cache", err).
			WithDiagnostic("path", managedDir)
	}

	st := s.State.Load()
	st.CachedBinary = nil

	if opts.DeleteProfiles {
		for name, entry := range st.Profiles {
			_ = os.RemoveAll(entry.Directory)
			delete(st.Profiles, name)
		}
	}

	if err := s.State.Save(st); err != nil {
		s.log.Warn("supervisor.clear_cache_state_write_failed", map[string]any{"error": err.Error()})
	}

	s.mu.Lock()
	s.binary = corebinary.BrowserBinary{}
	s.handle = coreprocess.Handle{}
	s.state = StateInit
	s.mu.Unlock()
	return nil
}

// profileDefaultName is the always-present, never-deletable profile.
const profileDefaultName = "default"

// ProfileList returns the profile index from the State Store, ensuring
// "default" is always present: every installation has an implicit
// profile to fall back to even if the index was never touched.
func (s *Supervisor) ProfileList() map[string]corestate.ProfileEntry {
	st := s.State.Load()
	s.ensureDefaultProfile(&st)
	return st.Profiles
}

// ProfileShow returns one profile entry, or NotFound.
func (s *Supervisor) ProfileShow(name string) (corestate.ProfileEntry, error) {
	st := s.State.Load()
	s.ensureDefaultProfile(&st)
	entry, ok := st.Profiles[name]
	if !ok {
		return corestate.ProfileEntry{}, coreerr.New(coreerr.NotFound, "supervisor.profile_show", "no such profile").WithDiagnostic("name", name)
	}
	return entry, nil
}

// ProfileCreate adds name to the profile index, creating its directory.
// Creating an existing name is idempotent unless strict is set, in
// which case it fails with AlreadyExists.
func (s *Supervisor) ProfileCreate(name, label string, strict bool) (corestate.ProfileEntry, error) {
	dir, err := s.Paths.ProfileRoot(name)
	if err != nil {
		return corestate.ProfileEntry{}, err
	}

	st := s.State.Load()
	s.ensureDefaultProfile(&st)
	if existing, ok := st.Profiles[name]; ok {
		if strict {
			return corestate.ProfileEntry{}, coreerr.New(coreerr.AlreadyExists, "supervisor.profile_create", "profile already exists").WithDiagnostic("name", name)
		}
		return existing, nil
	}

	now := time.Now().UTC()
	entry := corestate.ProfileEntry{Directory: dir, CreatedAt: now, LastUsedAt: now, Label: label}
	st.Profiles[name] = entry
	if err := s.State.Save(st); err != nil {
		return corestate.ProfileEntry{}, err
	}
	return entry, nil
}

// ProfileDelete removes name from the index and deletes its directory.
// Deleting "default" is refused: it is the implicit fallback profile
// and must always resolve to something on disk.
func (s *Supervisor) ProfileDelete(name string) error {
	if name == profileDefaultName {
		return coreerr.New(coreerr.Refused, "supervisor.profile_delete", "the default profile may not be deleted")
	}

	st := s.State.Load()
	s.ensureDefaultProfile(&st)
	entry, ok := st.Profiles[name]
	if !ok {
		return coreerr.New(coreerr.NotFound, "supervisor.profile_delete", "no such profile").WithDiagnostic("name", name)
	}

	if err := os.RemoveAll(entry.Directory); err != nil {
		return coreerr.Wrap(coreerr.DiskError, "supervisor.profile_delete", "failed to remove profile directory", err).
			WithDiagnostic("path", entry.Directory)
	}
	delete(st.Profiles, name)
	return s.State.Save(st)
}

func (s *Supervisor) ensureDefaultProfile(st *corestate.PersistedState) {
	if st.Profiles == nil {
		st.Profiles = map[string]corestate.ProfileEntry{}
	}
	if _, ok := st.Profiles[profileDefaultName]; ok {
		return
	}
	dir, err := s.Paths.ProfileRoot(profileDefaultName)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	st.Profiles[profileDefaultName] = corestate.ProfileEntry{Directory: dir, CreatedAt: now, LastUsedAt: now}
}
