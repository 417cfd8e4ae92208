package coreprocess

import (
	"context"
	"testing"
	"time"

	"github.com/browserkeeper/browserkeeper/internal/coreerr"
	"github.com/browserkeeper/browserkeeper/internal/corelog"
)

func TestClassifyReuseWhenPortAndProfileMatch(t *testing.T) {
	desired := Desired{Port: 9222, ProfileDir: "/data/profiles/default"}
	candidates := []Candidate{
		{PID: 1, DebugPort: 9222, ProfileDir: "/data/profiles/default"},
	}
	got := Classify(candidates, desired)
	if got[0].Disposition != DispositionReuse {
		t.Errorf("expected reuse, got %v", got[0].Disposition)
	}
}

func TestClassifyTerminateWhenWrongPort(t *testing.T) {
	desired := Desired{Port: 9222, ProfileDir: "/data/profiles/default"}
	candidates := []Candidate{
		{PID: 1, DebugPort: 9333, ProfileDir: "/data/profiles/default"},
	}
	got := Classify(candidates, desired)
	if got[0].Disposition != DispositionTerminateRelaunch {
		t.Errorf("expected terminate-and-relaunch, got %v", got[0].Disposition)
	}
}

func TestClassifyTerminateWhenWrongProfile(t *testing.T) {
	desired := Desired{Port: 9222, ProfileDir: "/data/profiles/default"}
	candidates := []Candidate{
		{PID: 1, DebugPort: 9222, ProfileDir: "/data/profiles/other"},
	}
	got := Classify(candidates, desired)
	if got[0].Disposition != DispositionTerminateRelaunch {
		t.Errorf("expected terminate-and-relaunch, got %v", got[0].Disposition)
	}
}

func TestClassifyTerminateWhenNoDebugPort(t *testing.T) {
	desired := Desired{Port: 9222, ProfileDir: "/data/profiles/default"}
	candidates := []Candidate{
		{PID: 1, CommandLine: "/usr/bin/chrome --some-flag"},
	}
	got := Classify(candidates, desired)
	if got[0].Disposition != DispositionTerminateRelaunch {
		t.Errorf("expected terminate-and-relaunch, got %v", got[0].Disposition)
	}
}

func TestClassifyLeaveAloneForConsumerChannel(t *testing.T) {
	desired := Desired{Port: 9222, ProfileDir: "/data/profiles/default"}
	candidates := []Candidate{
		{PID: 1, IsConsumerChannel: true},
	}
	got := Classify(candidates, desired)
	if got[0].Disposition != DispositionLeaveAlone {
		t.Errorf("expected leave-alone, got %v", got[0].Disposition)
	}
}

func TestClassifyIgnoresUnrelatedProcess(t *testing.T) {
	desired := Desired{Port: 9222, ProfileDir: "/data/profiles/default"}
	candidates := []Candidate{{PID: 1}}
	got := Classify(candidates, desired)
	if got[0].Disposition != DispositionIgnore {
		t.Errorf("expected ignore, got %v", got[0].Disposition)
	}
}

func TestParseFlagIntAndString(t *testing.T) {
	cmdline := "/usr/bin/chrome --remote-debugging-port=9222 --user-data-dir=/data/profiles/default --no-first-run"
	if got := parseFlagInt(cmdline, debugPortFlag); got != 9222 {
		t.Errorf("expected 9222, got %d", got)
	}
	if got := parseFlagString(cmdline, userDataDirFlag); got != "/data/profiles/default" {
		t.Errorf("expected profile dir, got %q", got)
	}
}

func TestTerminateSucceedsAfterGracefulExit(t *testing.T) {
	exited := false
	c := &Controller{
		Log:    corelog.Nop,
		killFn: func(pid int32, force bool) error { exited = true; return nil },
		pidExistsFn: func(pid int32) (bool, error) {
			return !exited, nil
		},
	}
	if err := c.Terminate(context.Background(), 1, 200*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTerminateEscalatesToForcedKillThenFails(t *testing.T) {
	killCalls := 0
	c := &Controller{
		Log: corelog.Nop,
		killFn: func(pid int32, force bool) error {
			killCalls++
			return nil
		},
		pidExistsFn: func(pid int32) (bool, error) { return true, nil },
	}
	err := c.Terminate(context.Background(), 1, 50*time.Millisecond)
	if !coreerr.Is(err, coreerr.ProcessKillError) {
		t.Fatalf("expected ProcessKillError, got %v", err)
	}
	if killCalls != 2 {
		t.Errorf("expected graceful then forced kill (2 calls), got %d", killCalls)
	}
}

func TestLaunchBuildsExpectedFlags(t *testing.T) {
	var capturedArgs []string
	c := &Controller{
		spawnFn: func(binaryPath string, args []string) (int32, error) {
			capturedArgs = args
			return 4242, nil
		},
	}

	handle, err := c.Launch(Desired{
		BinaryPath: "/opt/chromium-testing/chrome",
		Port:       9222,
		ProfileDir: "/data/profiles/default",
		Headless:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle.PID != 4242 || handle.Port != 9222 {
		t.Errorf("unexpected handle: %+v", handle)
	}

	joined := ""
	for _, a := range capturedArgs {
		joined += a + " "
	}
	for _, want := range []string{"--remote-debugging-port=9222", "--user-data-dir=/data/profiles/default", "--no-first-run", "--no-default-browser-check", "--headless=new"} {
		if !containsArg(capturedArgs, want) {
			t.Errorf("expected args to contain %q, got %v", want, joined)
		}
	}
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestLaunchClassifiesSpawnFailures(t *testing.T) {
	c := &Controller{
		spawnFn: func(binaryPath string, args []string) (int32, error) {
			return 0, errPermissionDenied{}
		},
	}
	_, err := c.Launch(Desired{BinaryPath: "/no/such/chrome", Port: 9222})
	if err == nil {
		t.Fatal("expected an error")
	}
}

type errPermissionDenied struct{}

func (errPermissionDenied) Error() string { return "fork/exec /no/such/chrome: permission denied" }
