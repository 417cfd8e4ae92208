package coreinstall

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/browserkeeper/browserkeeper/internal/coreerr"
)

// DefaultMetadataURL is the vendor's well-known known-good-versions
// endpoint, mirroring the Chrome for Testing JSON API shape.
const DefaultMetadataURL = "https://googlechromelabs.github.io/chrome-for-testing/known-good-versions-with-downloads.json"

// Download describes one platform's archive within a metadata entry.
type Download struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
	SHA256   string `json:"sha256"`
}

// VersionEntry is one vendor-published known-good version.
type VersionEntry struct {
	Version   string     `json:"version"`
	Downloads []Download `json:"downloads"`
}

// Metadata is the top-level known-good metadata document.
type Metadata struct {
	Versions []VersionEntry `json:"versions"`
}

// httpDoer is the minimal surface Installer needs from an HTTP client,
// so tests can substitute a fake without standing up a real server.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// fetchMetadata retrieves and parses the known-good metadata document.
func fetchMetadata(client httpDoer, url string) (Metadata, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return Metadata{}, coreerr.Wrap(coreerr.NetworkError, "installer.fetch_metadata", "failed to build request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Metadata{}, coreerr.Wrap(coreerr.NetworkError, "installer.fetch_metadata", "request failed", err).WithDiagnostic("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Metadata{}, coreerr.New(coreerr.NetworkError, "installer.fetch_metadata", fmt.Sprintf("server error %d", resp.StatusCode)).
			WithDiagnostic("status", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Metadata{}, coreerr.New(coreerr.NetworkError, "installer.fetch_metadata", fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithDiagnostic("status", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Metadata{}, coreerr.Wrap(coreerr.NetworkError, "installer.fetch_metadata", "failed to read response body", err)
	}

	var meta Metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return Metadata{}, coreerr.Wrap(coreerr.UnsupportedPlatform, "installer.fetch_metadata", "malformed metadata document", err)
	}
	return meta, nil
}

// resolve picks the version entry and platform-specific download. An empty
// wantVersion selects the last (current "known-good") entry, matching the
// vendor's convention of listing versions oldest-first.
func (m Metadata) resolve(wantVersion, platformLabel string) (VersionEntry, Download, error) {
	if len(m.Versions) == 0 {
		return VersionEntry{}, Download{}, coreerr.New(coreerr.UnsupportedPlatform, "installer.resolve", "metadata document has no versions")
	}

	entry := m.Versions[len(m.Versions)-1]
	if wantVersion != "" {
		found := false
		for _, v := range m.Versions {
			if v.Version == wantVersion {
				entry = v
				found = true
				break
			}
		}
		if !found {
			return VersionEntry{}, Download{}, coreerr.New(coreerr.UnsupportedPlatform, "installer.resolve", "requested version not present in metadata").
				WithDiagnostic("version", wantVersion)
		}
	}

	for _, d := range entry.Downloads {
		if d.Platform == platformLabel {
			return entry, d, nil
		}
	}
	return VersionEntry{}, Download{}, coreerr.New(coreerr.UnsupportedPlatform, "installer.resolve", "no download entry for this OS/architecture").
		WithDiagnostic("platform", platformLabel).WithDiagnostic("version", entry.Version)
}
