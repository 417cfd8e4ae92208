// Package coreinstall downloads, verifies, extracts, and permission-fixes
// the official browser test build, recording the result into the State
// Store. Retry/backoff and digest verification are owned here rather than
// delegated to the driver's bundled downloader, since a programmable
// retry/digest/staging contract is what a supervisor needs and that
// library does not expose one.
package coreinstall

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/browserkeeper/browserkeeper/internal/corebinary"
	"github.com/browserkeeper/browserkeeper/internal/coreerr"
	"github.com/browserkeeper/browserkeeper/internal/corelog"
	"github.com/browserkeeper/browserkeeper/internal/corepaths"
	"github.com/browserkeeper/browserkeeper/internal/corestate"
)

// Options configures one Installer run.
type Options struct {
	MetadataURL   string
	Version       string // empty = current known-good
	MaxRetries    int
	RetryBaseWait time.Duration
	Timeout       time.Duration
	// ForceVerify bypasses the staged-binary shortcut below: metadata is
	// always re-fetched and the archive digest always re-checked, even
	// when a matching executable already sits under the cache root.
	ForceVerify bool
}

func (o Options) withDefaults() Options {
	if o.MetadataURL == "" {
		o.MetadataURL = DefaultMetadataURL
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBaseWait <= 0 {
		o.RetryBaseWait = 500 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	return o
}

// Installer acquires the official test build and records it in the
// State Store.
type Installer struct {
	Paths  *corepaths.Paths
	State  *corestate.Store
	Log    corelog.Logger
	Client httpDoer
}

// New returns an Installer using a real HTTP client.
func New(paths *corepaths.Paths, state *corestate.Store, log corelog.Logger) *Installer {
	if log == nil {
		log = corelog.Nop
	}
	return &Installer{Paths: paths, State: state, Log: log, Client: &http.Client{Timeout: 5 * time.Minute}}
}

// Install runs the full pipeline: resolve version, download, verify,
// extract, fix permissions, record. If the version's executable already
// exists under the cache root, the download is skipped entirely; that
// existing file is only checked for presence, not re-verified.
func (inst *Installer) Install(opts Options) (corebinary.BrowserBinary, error) {
	opts = opts.withDefaults()
	platform := corebinary.Current()
	if platform == "" {
		return corebinary.BrowserBinary{}, coreerr.New(coreerr.UnsupportedPlatform, "installer.install", "unsupported OS/architecture").
			WithDiagnostic("goos", runtime.GOOS).WithDiagnostic("goarch", runtime.GOARCH)
	}

	cacheRoot, err := inst.Paths.CacheRoot()
	if err != nil {
		return corebinary.BrowserBinary{}, err
	}

	// A pinned version that is already staged under the managed cache
	// needs no metadata round trip at all, unless the caller demands a
	// fresh verification of every acquire.
	if opts.Version != "" && !opts.ForceVerify {
		installRoot := filepath.Join(cacheRoot, "chromium-testing", opts.Version)
		execPath := filepath.Join(installRoot, platform.ExecutableRelPath())
		if info, statErr := os.Stat(execPath); statErr == nil && !info.IsDir() {
			inst.Log.Info("install.skip_existing", map[string]any{"version": opts.Version, "path": execPath})
			return inst.record(execPath, opts.Version, installRoot)
		}
	}

	meta, err := fetchMetadataWithRetry(inst.Client, opts.MetadataURL, opts.MaxRetries, opts.RetryBaseWait)
	if err != nil {
		return corebinary.BrowserBinary{}, err
	}

	entry, download, err := meta.resolve(opts.Version, platform.VendorArchiveLabel())
	if err != nil {
		return corebinary.BrowserBinary{}, err
	}

	installRoot := filepath.Join(cacheRoot, "chromium-testing", entry.Version)
	execPath := filepath.Join(installRoot, platform.ExecutableRelPath())

	if info, statErr := os.Stat(execPath); statErr == nil && !info.IsDir() && !opts.ForceVerify {
		inst.Log.Info("install.skip_existing", map[string]any{"version": entry.Version, "path": execPath})
		return inst.record(execPath, entry.Version, installRoot)
	}

	archivePath, err := downloadWithRetry(inst.Client, download.URL, download.SHA256, cacheRoot, opts.MaxRetries, opts.RetryBaseWait, inst.Log)
	if err != nil {
		return corebinary.BrowserBinary{}, err
	}
	defer os.Remove(archivePath)

	stagingDir, err := os.MkdirTemp(cacheRoot, ".stage-*")
	if err != nil {
		return corebinary.BrowserBinary{}, coreerr.Wrap(coreerr.DiskError, "installer.stage", "failed to create staging directory", err)
	}
	defer os.RemoveAll(stagingDir)

	if err := extractArchive(archivePath, stagingDir); err != nil {
		return corebinary.BrowserBinary{}, err
	}

	if err := os.MkdirAll(filepath.Dir(installRoot), 0700); err != nil {
		return corebinary.BrowserBinary{}, coreerr.Wrap(coreerr.DiskError, "installer.install", "failed to create parent of install root", err)
	}
	// A forced re-verify may be replacing an install root that already
	// exists on disk; os.Rename onto a non-empty directory fails, so clear
	// it first.
	if err := os.RemoveAll(installRoot); err != nil {
		return corebinary.BrowserBinary{}, coreerr.Wrap(coreerr.DiskError, "installer.install", "failed to clear existing install root", err)
	}
	if err := os.Rename(stagingDir, installRoot); err != nil {
		return corebinary.BrowserBinary{}, coreerr.Wrap(coreerr.ExtractError, "installer.install", "failed to publish staged install atomically", err).
			WithDiagnostic("staging", stagingDir).WithDiagnostic("target", installRoot)
	}

	if err := fixPermissions(installRoot, platform); err != nil {
		return corebinary.BrowserBinary{}, err
	}

	return inst.record(execPath, entry.Version, installRoot)
}

func (inst *Installer) record(execPath, version, installRoot string) (corebinary.BrowserBinary, error) {
	parsed, err := corebinary.ParseVersion(version)
	if err != nil {
		parsed = corebinary.Version{Raw: version}
	}
	bin := corebinary.BrowserBinary{
		Path:        execPath,
		Version:     parsed,
		Channel:     corebinary.Channel,
		Origin:      corebinary.OriginFreshlyInstalled,
		InstallRoot: installRoot,
	}

	if inst.State != nil {
		st := inst.State.Load()
		st.CachedBinary = &corestate.CachedBinary{Path: execPath, Version: version, VerifiedAt: time.Now().UTC()}
		if err := inst.State.Save(st); err != nil {
			inst.Log.Warn("install.record_state_failed", map[string]any{"error": err.Error()})
		}
	}
	return bin, nil
}

// fetchMetadataWithRetry retries transport failures and 5xx responses
// with exponential backoff; 4xx and malformed documents are terminal.
func fetchMetadataWithRetry(client httpDoer, url string, maxRetries int, baseWait time.Duration) (Metadata, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		meta, err := fetchMetadata(client, url)
		if err == nil {
			return meta, nil
		}
		lastErr = err
		if !coreerr.Is(err, coreerr.NetworkError) {
			return Metadata{}, err
		}
		var ce *coreerr.Error
		if errors.As(err, &ce) {
			if status, ok := ce.Diagnostic["status"].(int); ok && status < 500 {
				return Metadata{}, err
			}
		}
		if attempt < maxRetries {
			time.Sleep(baseWait * time.Duration(1<<attempt))
		}
	}
	return Metadata{}, lastErr
}

// downloadWithRetry streams the archive to a uniquely named temp file
// under cacheRoot, verifying its digest on completion. Partial downloads
// are always deleted, including on the final failed attempt.
func downloadWithRetry(client httpDoer, url, declaredDigest, cacheRoot string, maxRetries int, baseWait time.Duration, log corelog.Logger) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		path, err := downloadOnce(client, url, declaredDigest, cacheRoot)
		if err == nil {
			return path, nil
		}
		lastErr = err
		if coreerr.Is(err, coreerr.DigestMismatch) {
			// a digest mismatch gets one re-download attempt, then delete and fail:
			// a corrupted download is worth retrying once, a persistently wrong
			// digest means the metadata or mirror is bad and retrying forever won't help
			if attempt >= 1 {
				return "", err
			}
		}
		if !coreerr.Is(err, coreerr.NetworkError) && !coreerr.Is(err, coreerr.DigestMismatch) {
			return "", err
		}
		var ce *coreerr.Error
		if errors.As(err, &ce) && ce.Diagnostic["terminal"] == true {
			return "", err
		}
		if attempt < maxRetries {
			log.Warn("install.download_retry", map[string]any{"attempt": attempt, "error": err.Error()})
			time.Sleep(baseWait * time.Duration(1<<attempt))
		}
	}
	return "", lastErr
}

func downloadOnce(client httpDoer, url, declaredDigest, cacheRoot string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", coreerr.Wrap(coreerr.NetworkError, "installer.download", "failed to build request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", coreerr.Wrap(coreerr.NetworkError, "installer.download", "request failed", err).WithDiagnostic("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", coreerr.New(coreerr.NetworkError, "installer.download", fmt.Sprintf("server error %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", coreerr.New(coreerr.NetworkError, "installer.download", fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithDiagnostic("terminal", true)
	}

	tmp, err := os.CreateTemp(cacheRoot, ".download-*.archive")
	if err != nil {
		return "", coreerr.Wrap(coreerr.DiskError, "installer.download", "failed to create temp file", err)
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	tee := io.TeeReader(resp.Body, hasher)
	if _, err := io.Copy(tmp, tee); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", coreerr.Wrap(coreerr.NetworkError, "installer.download", "stream truncated", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", coreerr.Wrap(coreerr.DiskError, "installer.download", "failed to close downloaded file", err)
	}

	if declaredDigest != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(got, declaredDigest) {
			os.Remove(tmpPath)
			return "", coreerr.New(coreerr.DigestMismatch, "installer.download", "archive digest did not match declared digest").
				WithDiagnostic("expected", declaredDigest).WithDiagnostic("actual", got)
		}
	}

	return tmpPath, nil
}

// extractArchive unpacks a .zip or .tar.gz archive into dir.
func extractArchive(archivePath, dir string) error {
	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		return extractZip(archivePath, dir)
	default:
		return extractTarGz(archivePath, dir)
	}
}

func extractZip(archivePath, dir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return coreerr.Wrap(coreerr.ExtractError, "installer.extract", "failed to open zip archive", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) && target != filepath.Clean(dir) {
			return coreerr.New(coreerr.ExtractError, "installer.extract", "archive entry escapes staging directory").
				WithDiagnostic("entry", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return coreerr.Wrap(coreerr.ExtractError, "installer.extract", "failed to create directory", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return coreerr.Wrap(coreerr.ExtractError, "installer.extract", "failed to create parent directory", err)
		}
		if err := extractZipFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return coreerr.Wrap(coreerr.ExtractError, "installer.extract", "failed to open archive entry", err)
	}
	defer src.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
	if err != nil {
		return coreerr.Wrap(coreerr.ExtractError, "installer.extract", "failed to create extracted file", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return coreerr.Wrap(coreerr.ExtractError, "installer.extract", "failed to write extracted file", err)
	}
	return nil
}

func extractTarGz(archivePath, dir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return coreerr.Wrap(coreerr.ExtractError, "installer.extract", "failed to open archive", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return coreerr.Wrap(coreerr.ExtractError, "installer.extract", "failed to open gzip stream", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return coreerr.Wrap(coreerr.ExtractError, "installer.extract", "corrupt tar stream", err)
		}
		target := filepath.Join(dir, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) && target != filepath.Clean(dir) {
			return coreerr.New(coreerr.ExtractError, "installer.extract", "archive entry escapes staging directory").
				WithDiagnostic("entry", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return coreerr.Wrap(coreerr.ExtractError, "installer.extract", "failed to create directory", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return coreerr.Wrap(coreerr.ExtractError, "installer.extract", "failed to create parent directory", err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return coreerr.Wrap(coreerr.ExtractError, "installer.extract", "failed to create extracted file", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return coreerr.Wrap(coreerr.ExtractError, "installer.extract", "failed to write extracted file", err)
			}
			out.Close()
		}
	}
}

// fixPermissions marks the primary executable +x everywhere, and on
// macOS additionally walks the app bundle fixing every helper
// executable, because a non-executable helper surfaces much later as an
// opaque GPU/renderer failure.
func fixPermissions(installRoot string, platform corebinary.Platform) error {
	execPath := filepath.Join(installRoot, platform.ExecutableRelPath())
	if err := os.Chmod(execPath, 0755); err != nil {
		return coreerr.Wrap(coreerr.ExtractError, "installer.fix_permissions", "failed to mark primary executable +x", err).
			WithDiagnostic("path", execPath)
	}

	if platform != corebinary.PlatformMacArm64 && platform != corebinary.PlatformMacX64 {
		return nil
	}

	helpersRoot := filepath.Join(installRoot, "Chromium.app", "Contents", "Frameworks")
	_ = filepath.Walk(helpersRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if strings.Contains(path, "Helper") || strings.Contains(path, "crashpad_handler") {
			_ = os.Chmod(path, 0755)
		}
		return nil
	})
	return nil
}
