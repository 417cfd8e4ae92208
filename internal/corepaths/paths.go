// Package corepaths resolves the per-user cache, data, and runtime
// directories browserkeeper uses, following each OS's conventional
// locations. Nothing in this package writes files; it only computes and
// lazily creates directories on demand.
package corepaths

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/browserkeeper/browserkeeper/internal/coreerr"
)

// dirPerm is owner-only: profile directories and cached binaries hold
// user session data, so created directories use 0700 on POSIX.
const dirPerm = 0700

// Paths resolves the three directory roots browserkeeper needs. Every
// method returns an absolute path and creates the directory (and its
// parents) on demand; Paths itself never writes any file.
type Paths struct {
	appName string
	homeDir func() (string, error)
	goos    string
}

// New returns a Paths for appName (used as the leaf directory component),
// using the real OS home directory and runtime.GOOS.
func New(appName string) *Paths {
	return &Paths{appName: appName, homeDir: os.UserHomeDir, goos: runtime.GOOS}
}

// CacheRoot is where the Installer places downloaded binaries.
func (p *Paths) CacheRoot() (string, error) {
	return p.resolve(p.cacheBase)
}

// DataRoot is where profiles and state live.
func (p *Paths) DataRoot() (string, error) {
	return p.resolve(p.dataBase)
}

// RuntimeRoot is scratch space for the current invocation (lock files,
// staging directories for in-flight installs).
func (p *Paths) RuntimeRoot() (string, error) {
	return p.resolve(p.runtimeBase)
}

// ProfileRoot returns the directory owned by the named profile, under
// DataRoot()/profiles/<name>.
func (p *Paths) ProfileRoot(name string) (string, error) {
	root, err := p.DataRoot()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, "profiles", name)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", coreerr.Wrap(coreerr.DiskError, "paths.profile_root", "failed to create profile directory", err).
			WithDiagnostic("path", dir)
	}
	return dir, nil
}

// StateFile returns the absolute path to the persisted state document.
func (p *Paths) StateFile() (string, error) {
	root, err := p.DataRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "state.json"), nil
}

func (p *Paths) resolve(base func() (string, error)) (string, error) {
	dir, err := base()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", coreerr.Wrap(coreerr.DiskError, "paths.resolve", "failed to create directory", err).
			WithDiagnostic("path", dir)
	}
	return dir, nil
}

func (p *Paths) cacheBase() (string, error) {
	switch p.goos {
	case "darwin":
		home, err := p.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Caches", p.appName), nil
	case "windows":
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			return filepath.Join(v, p.appName, "Cache"), nil
		}
		home, err := p.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "AppData", "Local", p.appName, "Cache"), nil
	default: // linux and other POSIX
		if v := os.Getenv("XDG_CACHE_HOME"); v != "" {
			return filepath.Join(v, p.appName), nil
		}
		home, err := p.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".cache", p.appName), nil
	}
}

func (p *Paths) dataBase() (string, error) {
	switch p.goos {
	case "darwin":
		home, err := p.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", p.appName), nil
	case "windows":
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			return filepath.Join(v, p.appName), nil
		}
		home, err := p.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "AppData", "Local", p.appName), nil
	default:
		if v := os.Getenv("XDG_DATA_HOME"); v != "" {
			return filepath.Join(v, p.appName), nil
		}
		home, err := p.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", p.appName), nil
	}
}

func (p *Paths) runtimeBase() (string, error) {
	switch p.goos {
	case "linux":
		if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
			return filepath.Join(v, p.appName), nil
		}
	}
	// Fall back to a per-user subdirectory of the OS temp dir on every
	// platform without a first-class runtime-dir convention.
	return filepath.Join(os.TempDir(), p.appName+"-runtime"), nil
}
