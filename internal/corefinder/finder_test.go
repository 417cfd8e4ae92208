package corefinder

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/browserkeeper/browserkeeper/internal/corebinary"
	"github.com/browserkeeper/browserkeeper/internal/coreerr"
	"github.com/browserkeeper/browserkeeper/internal/corepaths"
	"github.com/browserkeeper/browserkeeper/internal/corestate"
)

func writeExecutable(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho test\n"), 0755); err != nil {
		t.Fatal(err)
	}
}

func newTestFinder(t *testing.T, probeOutput string, probeErr error) (*Finder, string) {
	t.Helper()
	tmp := t.TempDir()
	f := New(corepaths.New("browserkeeper-finder-test"), corestate.New(filepath.Join(tmp, "state.json")), nil)
	f.probe = func(path string) (string, error) { return probeOutput, probeErr }
	return f, tmp
}

func TestVerifyAcceptsExecutableWithParseableVersion(t *testing.T) {
	f, tmp := newTestFinder(t, "Chromium 131.0.6778.85 (Official Build)", nil)
	binPath := filepath.Join(tmp, "chromium-testing", "131.0.6778.85", "chrome")
	writeExecutable(t, binPath)

	bin, err := f.verify(binPath, corebinary.OriginFreshlyInstalled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bin.Version.String() != "131.0.6778.85" {
		t.Errorf("expected parsed version, got %q", bin.Version.String())
	}
	if bin.Channel != corebinary.Channel {
		t.Errorf("expected channel %q, got %q", corebinary.Channel, bin.Channel)
	}
}

func TestVerifyRejectsMissingPath(t *testing.T) {
	f, tmp := newTestFinder(t, "131.0.6778.85", nil)
	_, err := f.verify(filepath.Join(tmp, "does-not-exist"), corebinary.OriginSystemFound)
	if !coreerr.Is(err, coreerr.BinaryNotFound) {
		t.Fatalf("expected BinaryNotFound, got %v", err)
	}
}

func TestVerifyRejectsConsumerChannel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("path signature test targets POSIX consumer paths")
	}
	f, tmp := newTestFinder(t, "131.0.0.0", nil)
	binPath := filepath.Join(tmp, "usr", "bin", "google-chrome")
	writeExecutable(t, binPath)

	_, err := f.verify(binPath, corebinary.OriginSystemFound)
	if !coreerr.Is(err, coreerr.WrongChannel) {
		t.Fatalf("expected WrongChannel, got %v", err)
	}
}

func TestVerifyRejectsUnparsableVersion(t *testing.T) {
	f, tmp := newTestFinder(t, "not a version", nil)
	binPath := filepath.Join(tmp, "chromium-testing", "x", "chrome")
	writeExecutable(t, binPath)

	_, err := f.verify(binPath, corebinary.OriginFreshlyInstalled)
	if !coreerr.Is(err, coreerr.BinaryNotFound) {
		t.Fatalf("expected BinaryNotFound for unparsable version, got %v", err)
	}
}

func TestFindReturnsBinaryNotFoundWhenExhausted(t *testing.T) {
	f, _ := newTestFinder(t, "", os.ErrNotExist)
	_, _, err := f.Find("")
	if !coreerr.Is(err, coreerr.BinaryNotFound) {
		t.Fatalf("expected BinaryNotFound, got %v", err)
	}
}

func TestFindHonorsConfigOverrideFirst(t *testing.T) {
	f, tmp := newTestFinder(t, "131.0.6778.85", nil)
	binPath := filepath.Join(tmp, "chromium-testing", "131.0.6778.85", "chrome")
	writeExecutable(t, binPath)

	bin, label, err := f.Find(binPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != LabelConfigOverride {
		t.Errorf("expected LabelConfigOverride, got %v", label)
	}
	if bin.Path != binPath {
		t.Errorf("expected path %q, got %q", binPath, bin.Path)
	}
}

func TestFindFallsBackToStateCacheWhenNoOverride(t *testing.T) {
	tmp := t.TempDir()
	statePath := filepath.Join(tmp, "state.json")
	store := corestate.New(statePath)
	binPath := filepath.Join(tmp, "chromium-testing", "131.0.6778.85", "chrome")
	writeExecutable(t, binPath)

	st := corestate.Empty()
	st.CachedBinary = &corestate.CachedBinary{Path: binPath, Version: "131.0.6778.85"}
	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}

	f := New(corepaths.New("browserkeeper-finder-test"), store, nil)
	f.probe = func(path string) (string, error) { return "131.0.6778.85", nil }

	bin, label, err := f.Find("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != LabelStateCache {
		t.Errorf("expected LabelStateCache, got %v", label)
	}
	if bin.Path != binPath {
		t.Errorf("expected path %q, got %q", binPath, bin.Path)
	}
}
