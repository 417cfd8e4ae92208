// Package coreprocess enumerates, classifies, terminates, and launches
// browser processes on the host. The Supervisor's contract is a
// guaranteed-usable endpoint, which means other instances of the same
// binary (or an unrelated consumer-channel browser) must be accounted
// for rather than ignored.
package coreprocess

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/browserkeeper/browserkeeper/internal/coreerr"
	"github.com/browserkeeper/browserkeeper/internal/corelog"
)

// Disposition is the classification outcome for one discovered process.
type Disposition string

const (
	DispositionReuse            Disposition = "reuse"
	DispositionTerminateRelaunch Disposition = "terminate-and-relaunch"
	DispositionLeaveAlone       Disposition = "leave-alone"
	DispositionIgnore           Disposition = "ignore"
)

// Candidate is a discovered process relevant to classification.
type Candidate struct {
	PID            int32
	CommandLine    string
	DebugPort      int // 0 if absent
	ProfileDir     string
	IsConsumerChannel bool
	Disposition    Disposition
}

// Handle is a running, launched-or-reused process tracked by the
// Supervisor. The core never kills it on driver disconnect — only on
// explicit cache clear or a classification that demands relaunch.
type Handle struct {
	PID  int32
	Port int
}

// Desired describes the process shape the caller wants.
type Desired struct {
	BinaryPath string
	Port       int
	ProfileDir string
	ExtraArgs  []string
	Headless   bool
}

// Controller enumerates and manages browser processes for one binary.
type Controller struct {
	Log corelog.Logger

	// processesFn is injectable for tests; defaults to a real gopsutil scan.
	processesFn func() ([]*process.Process, error)
	// killFn is injectable for tests.
	killFn func(pid int32, force bool) error
	// spawnFn is injectable for tests.
	spawnFn func(binaryPath string, args []string) (int32, error)
	// pidExistsFn is injectable for tests.
	pidExistsFn func(pid int32) (bool, error)
}

// New returns a Controller backed by real OS process enumeration and
// control.
func New(log corelog.Logger) *Controller {
	if log == nil {
		log = corelog.Nop
	}
	return &Controller{
		Log:         log,
		processesFn: process.Processes,
		killFn:      killPID,
		spawnFn:     spawnDetached,
		pidExistsFn: process.PidExists,
	}
}

// binaryBasenames are the executable names the test build is known to
// ship under, across platforms.
var binaryBasenames = []string{"chrome", "chrome.exe", "Chromium"}

var consumerChannelBasenames = []string{"Google Chrome", "chrome", "msedge", "Microsoft Edge"}

const debugPortFlag = "--remote-debugging-port="
const userDataDirFlag = "--user-data-dir="

// Enumerate lists every process whose executable matches a known
// browser basename, recording its parsed flags.
func (c *Controller) Enumerate() ([]Candidate, error) {
	procs, err := c.processesFn()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.ProcessEnumError, "process.enumerate", "failed to list host processes", err)
	}

	var out []Candidate
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name == "" {
			continue
		}
		cmdline, _ := p.Cmdline()
		if strings.Contains(cmdline, "--type=") {
			// renderer/gpu/utility children of a browser, not a browser root
			continue
		}

		switch {
		case matchesBasename(name, binaryBasenames) && strings.Contains(cmdline, debugPortFlag):
			out = append(out, Candidate{
				PID:         p.Pid,
				CommandLine: cmdline,
				DebugPort:   parseFlagInt(cmdline, debugPortFlag),
				ProfileDir:  parseFlagString(cmdline, userDataDirFlag),
			})
		case matchesBasename(name, binaryBasenames):
			out = append(out, Candidate{PID: p.Pid, CommandLine: cmdline})
		case matchesBasename(name, consumerChannelBasenames):
			out = append(out, Candidate{PID: p.Pid, CommandLine: cmdline, IsConsumerChannel: true})
		}
	}
	return out, nil
}

// Classify assigns a Disposition to each candidate against the desired
// shape.
func Classify(candidates []Candidate, desired Desired) []Candidate {
	result := make([]Candidate, len(candidates))
	for i, cand := range candidates {
		switch {
		case cand.IsConsumerChannel:
			cand.Disposition = DispositionLeaveAlone
		case cand.DebugPort == 0 && cand.CommandLine == "":
			cand.Disposition = DispositionIgnore
		case cand.DebugPort == desired.Port && cand.ProfileDir == desired.ProfileDir && cand.DebugPort != 0:
			cand.Disposition = DispositionReuse
		case cand.DebugPort != 0:
			cand.Disposition = DispositionTerminateRelaunch
		default:
			cand.Disposition = DispositionTerminateRelaunch
		}
		result[i] = cand
	}
	return result
}

func matchesBasename(name string, set []string) bool {
	for _, candidate := range set {
		if strings.EqualFold(name, candidate) {
			return true
		}
	}
	return false
}

func parseFlagInt(cmdline, flag string) int {
	s := parseFlagString(cmdline, flag)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseFlagString(cmdline, flag string) string {
	idx := strings.Index(cmdline, flag)
	if idx < 0 {
		return ""
	}
	rest := cmdline[idx+len(flag):]
	if end := strings.IndexAny(rest, " \t"); end >= 0 {
		return rest[:end]
	}
	return rest
}

// Terminate runs the two-phase shutdown: graceful signal, wait, forced
// kill, wait. Fails with ProcessKillError if the process survives both.
func (c *Controller) Terminate(ctx context.Context, pid int32, gracefulDeadline time.Duration) error {
	if err := c.killFn(pid, false); err != nil {
		c.Log.Warn("process.terminate.graceful_signal_failed", map[string]any{"pid": pid, "error": err.Error()})
	}
	if c.waitExit(ctx, pid, gracefulDeadline) {
		return nil
	}

	c.Log.Warn("process.terminate.escalating_to_forced_kill", map[string]any{"pid": pid})
	if err := c.killFn(pid, true); err != nil {
		return coreerr.Wrap(coreerr.ProcessKillError, "process.terminate", "forced kill failed", err).WithDiagnostic("pid", pid)
	}
	if c.waitExit(ctx, pid, gracefulDeadline) {
		return nil
	}
	return coreerr.New(coreerr.ProcessKillError, "process.terminate", "process survived graceful and forced termination").
		WithDiagnostic("pid", pid)
}

func (c *Controller) waitExit(ctx context.Context, pid int32, deadline time.Duration) bool {
	deadlineCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if exists, _ := c.pidExistsFn(pid); !exists {
			return true
		}
		select {
		case <-deadlineCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func killPID(pid int32, force bool) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	if force {
		return p.Kill()
	}
	return sendGracefulSignal(p)
}

// Launch spawns a new detached process with the standard automation
// flag set plus any caller-supplied extras.
func (c *Controller) Launch(desired Desired) (Handle, error) {
	args := []string{
		fmt.Sprintf("%s%d", debugPortFlag, desired.Port),
		fmt.Sprintf("%s%s", userDataDirFlag, desired.ProfileDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--no-service-autorun",
		"--disable-session-crashed-bubble",
	}
	if desired.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, desired.ExtraArgs...)

	pid, err := c.spawnFn(desired.BinaryPath, args)
	if err != nil {
		return Handle{}, classifySpawnError(err, desired)
	}
	return Handle{PID: pid, Port: desired.Port}, nil
}

func classifySpawnError(err error, desired Desired) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "permission denied"):
		return coreerr.Wrap(coreerr.LaunchError, "process.launch", "binary is not executable", err).
			WithDiagnostic("binary_path", desired.BinaryPath)
	case strings.Contains(msg, "no such file"):
		return coreerr.Wrap(coreerr.LaunchError, "process.launch", "binary does not exist", err).
			WithDiagnostic("binary_path", desired.BinaryPath)
	default:
		return coreerr.Wrap(coreerr.LaunchError, "process.launch", "failed to spawn process", err).
			WithDiagnostic("binary_path", desired.BinaryPath).WithDiagnostic("port", desired.Port)
	}
}

// spawnDetached starts a fully detached process that survives its
// parent: the Supervisor's own process may exit between CLI invocations
// while the browser keeps running for the next one to reconcile and
// reuse, so the child must not be tied to this process's lifetime or
// group.
func spawnDetached(binaryPath string, args []string) (int32, error) {
	cmd := exec.Command(binaryPath, args...)
	setDetached(cmd)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	go func() { _ = cmd.Wait() }()
	return int32(cmd.Process.Pid), nil
}

func init() {
	if runtime.GOOS == "windows" {
		binaryBasenames = []string{"chrome.exe"}
	}
}
