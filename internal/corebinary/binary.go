// Package corebinary defines the BrowserBinary value type and the
// Platform tagged variant used throughout Finder, Installer, and Process
// Controller to dispatch OS/architecture-specific behavior without
// runtime polymorphism.
package corebinary

import "runtime"

// Origin records how a BrowserBinary was obtained.
type Origin string

const (
	OriginCached          Origin = "cached-from-prior-run"
	OriginFreshlyInstalled Origin = "freshly-installed"
	OriginSystemFound     Origin = "system-found"
)

// Channel is fixed to "testing": only the vendor's automation-enabled
// test build is ever accepted.
const Channel = "testing"

// Version is a parsed major.minor.build.patch version string.
type Version struct {
	Major, Minor, Build, Patch int
	Raw                        string
}

// BrowserBinary describes a located, verified browser executable.
type BrowserBinary struct {
	Path       string
	Version    Version
	Channel    string
	Origin     Origin
	InstallRoot string
}

// Platform is the tagged variant replacing runtime dispatch across
// browser-kind/OS combinations: Finder, Installer, and Process Controller
// each call its methods instead of switching on runtime.GOOS themselves.
type Platform string

const (
	PlatformMacArm64   Platform = "macOS-arm64"
	PlatformMacX64     Platform = "macOS-x64"
	PlatformLinuxX64   Platform = "linux-x64"
	PlatformLinuxArm64 Platform = "linux-arm64"
	PlatformWindowsX64 Platform = "windows-x64"
)

// Current returns the Platform for the running host, or "" if
// unsupported.
func Current() Platform {
	switch runtime.GOOS {
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return PlatformMacArm64
		}
		return PlatformMacX64
	case "linux":
		if runtime.GOARCH == "arm64" {
			return PlatformLinuxArm64
		}
		return PlatformLinuxX64
	case "windows":
		return PlatformWindowsX64
	default:
		return ""
	}
}

// ExecutableRelPath returns the executable's path relative to an install
// root for this platform, mirroring the layout go-rod's launcher and the
// vendor's test-build archives both use.
func (p Platform) ExecutableRelPath() string {
	switch p {
	case PlatformMacArm64, PlatformMacX64:
		return "Chromium.app/Contents/MacOS/Chromium"
	case PlatformWindowsX64:
		return "chrome.exe"
	default:
		return "chrome"
	}
}

// VendorArchiveLabel returns the label the known-good metadata document
// uses to identify this platform's download entry.
func (p Platform) VendorArchiveLabel() string {
	switch p {
	case PlatformMacArm64:
		return "mac-arm64"
	case PlatformMacX64:
		return "mac-x64"
	case PlatformLinuxX64:
		return "linux64"
	case PlatformLinuxArm64:
		return "linux-arm64"
	case PlatformWindowsX64:
		return "win64"
	default:
		return ""
	}
}
