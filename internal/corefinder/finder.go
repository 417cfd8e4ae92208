// Package corefinder locates an existing, acceptable browser binary —
// the official automation test build, never the consumer-channel
// install — following a fixed lookup order: config override,
// state-store cache, managed cache root, then recognizable system
// installs.
package corefinder

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/browserkeeper/browserkeeper/internal/corebinary"
	"github.com/browserkeeper/browserkeeper/internal/coreerr"
	"github.com/browserkeeper/browserkeeper/internal/corelog"
	"github.com/browserkeeper/browserkeeper/internal/corepaths"
	"github.com/browserkeeper/browserkeeper/internal/corestate"
)

// Label identifies which lookup step produced a result.
type Label string

const (
	LabelConfigOverride Label = "config-override"
	LabelStateCache      Label = "state-cache"
	LabelManagedCache    Label = "managed-cache"
	LabelSystem          Label = "system"
)

// versionProbe runs `<path> --version` and returns its combined output.
// Replaced in tests to avoid depending on a real browser binary.
type versionProbe func(path string) (string, error)

// Finder locates an acceptable BrowserBinary.
type Finder struct {
	Paths *corepaths.Paths
	State *corestate.Store
	Log   corelog.Logger

	probe versionProbe
}

// New returns a Finder using the real OS and a real `--version` probe.
func New(paths *corepaths.Paths, state *corestate.Store, log corelog.Logger) *Finder {
	if log == nil {
		log = corelog.Nop
	}
	return &Finder{Paths: paths, State: state, Log: log, probe: runVersionCommand}
}

func runVersionCommand(path string) (string, error) {
	out, err := exec.Command(path, "--version").CombinedOutput()
	return string(out), err
}

// consumerChannelSignatures match well-known consumer-channel install
// paths/bundle identifiers; Finder rejects any candidate matching one
// of these with WrongChannel, because automation-with-profile does not
// work against the consumer channel.
var consumerChannelSignatures = []string{
	"Google Chrome.app",
	"google-chrome",
	"Microsoft Edge",
	"msedge",
}

// testBuildDirShapes are substrings expected somewhere in a test-build's
// parent directory chain (the Installer's own layout, or a recognizable
// vendor test-build distribution path). Checked before rejecting a
// candidate as consumer-channel, since some vendor test-build paths
// otherwise share a prefix with a consumer one (e.g. "Google Chrome for
// Testing.app" contains "Google Chrome").
var testBuildDirShapes = []string{
	"chromium-testing",
	"chrome-for-testing",
	"Chrome for Testing",
	"chromium" + string(filepath.Separator) + "testing",
}

// ConfigOverride looks up the configured binary_path_override, verifying
// it like any other candidate.
func (f *Finder) ConfigOverride(path string) (corebinary.BrowserBinary, Label, error) {
	if path == "" {
		return corebinary.BrowserBinary{}, "", coreerr.New(coreerr.BinaryNotFound, "finder.config_override", "no override configured")
	}
	bin, err := f.verify(path, corebinary.OriginSystemFound)
	if err != nil {
		return corebinary.BrowserBinary{}, "", err
	}
	return bin, LabelConfigOverride, nil
}

// Find runs the full lookup order and returns the first acceptable
// binary, or BinaryNotFound if every step is exhausted.
func (f *Finder) Find(overridePath string) (corebinary.BrowserBinary, Label, error) {
	if overridePath != "" {
		if bin, label, err := f.ConfigOverride(overridePath); err == nil {
			return bin, label, nil
		} else if coreerr.Is(err, coreerr.WrongChannel) {
			return corebinary.BrowserBinary{}, "", err
		}
		// any other override failure falls through to the remaining steps
	}

	if f.State != nil {
		st := f.State.Load()
		if st.CachedBinary != nil && st.CachedBinary.Path != "" {
			if bin, err := f.verify(st.CachedBinary.Path, corebinary.OriginCached); err == nil {
				return bin, LabelStateCache, nil
			}
		}
	}

	if f.Paths != nil {
		if cacheRoot, err := f.Paths.CacheRoot(); err == nil {
			if bin, label, err := f.scanManagedCache(cacheRoot); err == nil {
				return bin, label, nil
			}
		}
	}

	if bin, label, err := f.scanSystemPaths(); err == nil {
		return bin, label, nil
	}

	return corebinary.BrowserBinary{}, "", coreerr.New(coreerr.BinaryNotFound, "finder.find", "no acceptable test-build binary found")
}

// scanManagedCache looks under <cache_root>/chromium-testing/<version>/
// for an already-installed binary, preferring the newest version by
// numeric major.minor.build.patch comparison.
func (f *Finder) scanManagedCache(cacheRoot string) (corebinary.BrowserBinary, Label, error) {
	root := filepath.Join(cacheRoot, "chromium-testing")
	entries, err := os.ReadDir(root)
	if err != nil {
		return corebinary.BrowserBinary{}, "", coreerr.New(coreerr.BinaryNotFound, "finder.managed_cache", "managed cache root does not exist")
	}

	var best corebinary.BrowserBinary
	found := false
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(root, e.Name(), corebinary.Current().ExecutableRelPath())
		bin, err := f.verify(candidate, corebinary.OriginFreshlyInstalled)
		if err != nil {
			continue
		}
		bin.InstallRoot = filepath.Join(root, e.Name())
		newer := !found
		if found {
			a := [4]int{bin.Version.Major, bin.Version.Minor, bin.Version.Build, bin.Version.Patch}
			b := [4]int{best.Version.Major, best.Version.Minor, best.Version.Build, best.Version.Patch}
			for i := range a {
				if a[i] != b[i] {
					newer = a[i] > b[i]
					break
				}
			}
		}
		if newer {
			best = bin
			found = true
		}
	}
	if !found {
		return corebinary.BrowserBinary{}, "", coreerr.New(coreerr.BinaryNotFound, "finder.managed_cache", "no verifiable binary under managed cache")
	}
	return best, LabelManagedCache, nil
}

// systemSearchPaths lists per-OS locations where a recognizable test
// build might already be installed outside our managed cache.
func systemSearchPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Google Chrome for Testing.app/Contents/MacOS/Google Chrome for Testing",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome for Testing\chrome.exe`,
		}
	default:
		return []string{
			"/usr/lib/chromium-testing/chrome",
			"/opt/chrome-for-testing/chrome",
		}
	}
}

func (f *Finder) scanSystemPaths() (corebinary.BrowserBinary, Label, error) {
	for _, candidate := range systemSearchPaths() {
		if bin, err := f.verify(candidate, corebinary.OriginSystemFound); err == nil {
			return bin, LabelSystem, nil
		}
	}
	return corebinary.BrowserBinary{}, "", coreerr.New(coreerr.BinaryNotFound, "finder.system", "no recognizable test build found on the system")
}

// verify checks that path exists, is executable, has a test-build-shaped
// parent directory, and yields a parseable version from `--version`. A
// consumer-channel signature in a path that carries no test-build shape
// is rejected with WrongChannel before anything else is checked, since that distinction
// is the one a caller can actually act on (install a test build instead
// of pointing at a consumer browser).
func (f *Finder) verify(path string, origin corebinary.Origin) (corebinary.BrowserBinary, error) {
	if matchesAny(path, consumerChannelSignatures) && !matchesAny(path, testBuildDirShapes) {
		return corebinary.BrowserBinary{}, coreerr.New(coreerr.WrongChannel, "finder.verify", "candidate is a consumer-channel install").
			WithDiagnostic("path", path)
	}
	if !matchesAny(path, testBuildDirShapes) {
		return corebinary.BrowserBinary{}, coreerr.New(coreerr.BinaryNotFound, "finder.verify", "candidate path does not match a test-build directory layout").
			WithDiagnostic("path", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return corebinary.BrowserBinary{}, coreerr.Wrap(coreerr.BinaryNotFound, "finder.verify", "candidate path does not exist", err).
			WithDiagnostic("path", path)
	}
	if info.IsDir() {
		return corebinary.BrowserBinary{}, coreerr.New(coreerr.BinaryNotFound, "finder.verify", "candidate path is a directory").
			WithDiagnostic("path", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0111 == 0 {
		return corebinary.BrowserBinary{}, coreerr.New(coreerr.BinaryNotFound, "finder.verify", "candidate is not executable").
			WithDiagnostic("path", path)
	}

	out, err := f.probe(path)
	if err != nil {
		return corebinary.BrowserBinary{}, coreerr.Wrap(coreerr.BinaryNotFound, "finder.verify", "version probe failed", err).
			WithDiagnostic("path", path)
	}
	version, err := corebinary.ParseVersion(out)
	if err != nil {
		return corebinary.BrowserBinary{}, coreerr.Wrap(coreerr.BinaryNotFound, "finder.verify", "version probe produced no parseable version", err).
			WithDiagnostic("path", path).WithDiagnostic("output", out)
	}

	return corebinary.BrowserBinary{
		Path:        path,
		Version:     version,
		Channel:     corebinary.Channel,
		Origin:      origin,
		InstallRoot: filepath.Dir(path),
	}, nil
}

func matchesAny(path string, signatures []string) bool {
	for _, sig := range signatures {
		if strings.Contains(path, sig) {
			return true
		}
	}
	return false
}
