package coresession

import (
	"os"
	"testing"

	"github.com/go-rod/rod/lib/launcher"
)

// TestBrokerAcquireLive exercises Acquire against a real Chromium
// instance. It runs unless SKIP_LIVE_TESTS is set to anything
// non-empty, and skips itself when the launcher cannot start a browser.
func TestBrokerAcquireLive(t *testing.T) {
	if os.Getenv("SKIP_LIVE_TESTS") != "" {
		t.Skip("Skipping live browser tests (SKIP_LIVE_TESTS set)")
	}

	url, err := launcher.New().Headless(true).Launch()
	if err != nil {
		t.Skipf("no browser available to launch: %v", err)
	}

	broker := New(nil)
	ref, err := broker.Acquire(url)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer ref.Close()

	if ref.Page == nil {
		t.Fatal("expected a non-nil page")
	}
	if ref.ID == "" {
		t.Fatal("expected a non-empty session ID")
	}

	// A second Acquire against the same endpoint should reuse the page
	// the first call selected, rather than opening another blank tab.
	ref2, err := broker.Acquire(url)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	defer ref2.Close()
	if ref2.TargetID != ref.TargetID {
		t.Errorf("expected session reuse to pick the same target, got %s vs %s", ref2.TargetID, ref.TargetID)
	}
}
