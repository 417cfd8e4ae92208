package coreinstall

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/browserkeeper/browserkeeper/internal/corebinary"
	"github.com/browserkeeper/browserkeeper/internal/coreerr"
	"github.com/browserkeeper/browserkeeper/internal/corelog"
	"github.com/browserkeeper/browserkeeper/internal/corepaths"
	"github.com/browserkeeper/browserkeeper/internal/corestate"
)

// fakeClient routes requests to canned responses by URL, so tests never
// touch the network.
type fakeClient struct {
	responses map[string]*http.Response
	errors    map[string]error
	calls     map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{responses: map[string]*http.Response{}, errors: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeClient) Do(req *http.Request) (*http.Response, error) {
	f.calls[req.URL.String()]++
	if err, ok := f.errors[req.URL.String()]; ok {
		return nil, err
	}
	if resp, ok := f.responses[req.URL.String()]; ok {
		return resp, nil
	}
	return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func jsonResponse(t *testing.T, status int, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(raw))}
}

func buildZipArchive(t *testing.T, execRelPath string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.Create(execRelPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("#!/bin/sh\necho test-build\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDownloadOnceVerifiesDigest(t *testing.T) {
	payload := []byte("archive-bytes")
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])

	client := newFakeClient()
	client.responses["http://example.invalid/archive.zip"] = &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(payload))}

	dir := t.TempDir()
	path, err := downloadOnce(client, "http://example.invalid/archive.zip", digest, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(path)

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("downloaded content mismatch")
	}
}

func TestDownloadOnceRejectsDigestMismatch(t *testing.T) {
	client := newFakeClient()
	client.responses["http://example.invalid/archive.zip"] = &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader([]byte("archive-bytes")))}

	dir := t.TempDir()
	_, err := downloadOnce(client, "http://example.invalid/archive.zip", "0000000000000000000000000000000000000000000000000000000000000000", dir)
	if !coreerr.Is(err, coreerr.DigestMismatch) {
		t.Fatalf("expected DigestMismatch, got %v", err)
	}

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("expected partial download to be deleted, found %d entries", len(entries))
	}
}

func TestDownloadOnceTreats5xxAsRetriable(t *testing.T) {
	client := newFakeClient()
	client.responses["http://example.invalid/archive.zip"] = &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(bytes.NewReader(nil))}

	dir := t.TempDir()
	_, err := downloadOnce(client, "http://example.invalid/archive.zip", "", dir)
	if !coreerr.Is(err, coreerr.NetworkError) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

type netErr struct{}

func (*netErr) Error() string { return "connection reset" }

func TestDownloadWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	client := newFakeClient()
	client.errors["http://example.invalid/archive.zip"] = &netErr{}

	_, err := downloadWithRetry(client, "http://example.invalid/archive.zip", "", t.TempDir(), 2, 0, corelog.Nop)
	if !coreerr.Is(err, coreerr.NetworkError) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if client.calls["http://example.invalid/archive.zip"] != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", client.calls["http://example.invalid/archive.zip"])
	}
}

func TestExtractZipThenFixPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permission bits not meaningful on windows")
	}
	archive := buildZipArchive(t, "chrome")
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "archive.zip")
	if err := os.WriteFile(archivePath, archive, 0644); err != nil {
		t.Fatal(err)
	}

	stageDir := filepath.Join(dir, "stage")
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := extractArchive(archivePath, stageDir); err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	extracted := filepath.Join(stageDir, "chrome")
	if _, err := os.Stat(extracted); err != nil {
		t.Fatalf("expected extracted file to exist: %v", err)
	}

	if err := fixPermissions(stageDir, corebinary.PlatformLinuxX64); err != nil {
		t.Fatalf("fixPermissions failed: %v", err)
	}
	info, err := os.Stat(extracted)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&0111 == 0 {
		t.Errorf("expected extracted executable to be +x, got mode %v", info.Mode())
	}
}

func TestInstallSkipsDownloadWhenAlreadyInstalled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on a POSIX executable layout for brevity")
	}
	tmp := t.TempDir()
	os.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	defer os.Unsetenv("XDG_CACHE_HOME")

	paths := corepaths.New("browserkeeper-installer-test")
	cacheRoot, err := paths.CacheRoot()
	if err != nil {
		t.Fatal(err)
	}

	platform := corebinary.Current()
	execPath := filepath.Join(cacheRoot, "chromium-testing", "131.0.6778.85", platform.ExecutableRelPath())
	if err := os.MkdirAll(filepath.Dir(execPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(execPath, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	client := newFakeClient()
	store := corestate.New(filepath.Join(tmp, "state.json"))
	inst := &Installer{Paths: paths, State: store, Log: corelog.Nop, Client: client}

	bin, err := inst.Install(Options{Version: "131.0.6778.85"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bin.Path != execPath {
		t.Errorf("expected existing path %q, got %q", execPath, bin.Path)
	}
	if len(client.calls) != 0 {
		t.Errorf("expected no network calls when binary already installed, got %v", client.calls)
	}
}

var _ = jsonResponse
