// Package coresupervisor implements the top-level browser lifecycle
// state machine: it orchestrates Finder/Installer/Process Controller/
// Endpoint Prober/Session Broker into one acquire() call, then runs a
// background health/recovery loop while the caller holds an attached
// session.
package coresupervisor

import (
	"context"
	"sync"
	"time"

	"github.com/browserkeeper/browserkeeper/internal/config"
	"github.com/browserkeeper/browserkeeper/internal/corebinary"
	"github.com/browserkeeper/browserkeeper/internal/coreerr"
	"github.com/browserkeeper/browserkeeper/internal/corefinder"
	"github.com/browserkeeper/browserkeeper/internal/coreinstall"
	"github.com/browserkeeper/browserkeeper/internal/corelog"
	"github.com/browserkeeper/browserkeeper/internal/corepaths"
	"github.com/browserkeeper/browserkeeper/internal/coreprobe"
	"github.com/browserkeeper/browserkeeper/internal/coreprocess"
	"github.com/browserkeeper/browserkeeper/internal/coresession"
	"github.com/browserkeeper/browserkeeper/internal/corestate"
)

// State is one node of the acquire/health/recovery state machine.
type State string

const (
	StateInit         State = "INIT"
	StateBinaryReady  State = "BINARY_READY"
	StateLaunching    State = "LAUNCHING"
	StateProcessReady State = "PROCESS_READY"
	StateAttached     State = "ATTACHED"
	StateRecovering   State = "RECOVERING"
	StateFailed       State = "FAILED"
	StateDetached     State = "DETACHED"
)

// SessionHandle is what acquire() returns to the caller: a SessionRef
// plus the endpoint URL the driver connects to.
type SessionHandle struct {
	Session     coresession.SessionRef
	EndpointURL string
	Binary      corebinary.BrowserBinary
}

// Report is the structured response to status()/diagnose, stable enough
// for the CLI's --json flag.
type Report struct {
	State           State                     `json:"state"`
	Binary          *corebinary.BrowserBinary `json:"binary,omitempty"`
	Endpoint        *coreprobe.Endpoint       `json:"endpoint,omitempty"`
	Samples         []HealthSample            `json:"health_samples,omitempty"`
	RestartCount    int                       `json:"restart_count"`
	EffectiveConfig config.Config             `json:"effective_config"`
}

// Supervisor owns one browser lifecycle: the ProcessHandle it launches
// and the Endpoint derived from it. All other components it composes
// hold only read-only references to their own state.
type Supervisor struct {
	appName string
	log     corelog.Logger

	Paths     *corepaths.Paths
	State     *corestate.Store
	Finder    *corefinder.Finder
	Installer *coreinstall.Installer
	Process   *coreprocess.Controller
	Prober    *coreprobe.Prober
	Broker    *coresession.Broker

	mu              sync.Mutex
	state           State
	cfg             config.Config
	binary          corebinary.BrowserBinary
	handle          coreprocess.Handle
	endpoint        coreprobe.Endpoint
	sessionRef      coresession.SessionRef
	samples         []HealthSample
	restartAttempts int
	healthySince    time.Time
	lastRestartAt   time.Time

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// maxHealthSamples bounds the health-sample ring buffer.
const maxHealthSamples = 100

// New builds a Supervisor with real implementations of every component,
// rooted under the per-user directories for appName (e.g. "browserkeeper").
func New(appName string, log corelog.Logger) *Supervisor {
	if log == nil {
		log = corelog.Nop
	}
	paths := corepaths.New(appName)
	statePath, _ := paths.StateFile()
	store := corestate.New(statePath)

	return &Supervisor{
		appName:   appName,
		log:       log,
		Paths:     paths,
		State:     store,
		Finder:    corefinder.New(paths, store, log),
		Installer: coreinstall.New(paths, store, log),
		Process:   coreprocess.New(log),
		Prober:    coreprobe.New(5 * time.Second),
		Broker:    coresession.New(log),
		state:     StateInit,
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// CurrentState returns the supervisor's current state.
func (s *Supervisor) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Acquire drives the pipeline to ATTACHED and returns a SessionHandle,
// starting the background health/recovery loop if monitoring is
// enabled. It is safe to call concurrently for the same profile+port:
// the second caller converges via reconcile's reuse classification
// rather than launching a second process.
func (s *Supervisor) Acquire(ctx context.Context, cfg config.Config) (*SessionHandle, error) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	bin, err := s.ensureBinary(cfg)
	if err != nil {
		s.setState(StateFailed)
		return nil, err
	}
	s.mu.Lock()
	s.binary = bin
	s.mu.Unlock()
	s.setState(StateBinaryReady)

	handle, endpoint, err := s.reconcileProcesses(ctx, cfg, bin)
	if err != nil {
		s.setState(StateFailed)
		return nil, err
	}
	s.mu.Lock()
	s.handle = handle
	s.endpoint = endpoint
	s.mu.Unlock()
	s.setState(StateProcessReady)

	// The prober already validated /json/version; its websocket URL is
	// exactly the control URL rod.New().ControlURL() expects.
	ref, err := s.Broker.Acquire(endpoint.WebSocketDebuggerURL)
	if err != nil {
		s.setState(StateFailed)
		return nil, err
	}
	s.mu.Lock()
	s.sessionRef = ref
	s.samples = nil
	s.restartAttempts = 0
	s.healthySince = time.Now()
	s.mu.Unlock()
	s.setState(StateAttached)

	if cfg.Monitoring.Enabled {
		s.startHealthLoop(cfg)
	}

	return &SessionHandle{Session: ref, EndpointURL: endpoint.WebSocketDebuggerURL, Binary: bin}, nil
}

// ensureBinary resolves a binary according to the configured install
// policy: auto-install (Finder, then Installer on miss), use-cached-only
// (Finder only, fail on miss), or always-verify (skip Finder and make the
// Installer re-resolve/re-verify the binary's digest on every acquire).
func (s *Supervisor) ensureBinary(cfg config.Config) (corebinary.BrowserBinary, error) {
	switch cfg.Install.Policy {
	case "always-verify":
		bin, err := s.Installer.Install(coreinstall.Options{
			MaxRetries:  cfg.Retries.Network,
			Timeout:     cfg.Timeouts.DownloadTimeout(),
			ForceVerify: true,
		})
		return bin, err

	case "use-cached-only":
		bin, _, err := s.Finder.Find(cfg.Launch.BinaryPathOverride)
		return bin, err

	default: // "auto-install"
		bin, _, err := s.Finder.Find(cfg.Launch.BinaryPathOverride)
		if err == nil {
			return bin, nil
		}
		if coreerr.Is(err, coreerr.WrongChannel) {
			return corebinary.BrowserBinary{}, err
		}
		bin, installErr := s.Installer.Install(coreinstall.Options{
			MaxRetries: cfg.Retries.Network,
			Timeout:    cfg.Timeouts.DownloadTimeout(),
		})
		if installErr != nil {
			return corebinary.BrowserBinary{}, installErr
		}
		return bin, nil
	}
}

// reconcileProcesses enumerates running processes, classifies them
// against the desired shape, terminates or reuses as needed, and waits
// for the endpoint to become ready.
func (s *Supervisor) reconcileProcesses(ctx context.Context, cfg config.Config, bin corebinary.BrowserBinary) (coreprocess.Handle, coreprobe.Endpoint, error) {
	profileDir, err := s.Paths.ProfileRoot(cfg.Profile.Name)
	if err != nil {
		return coreprocess.Handle{}, coreprobe.Endpoint{}, err
	}

	desired := coreprocess.Desired{
		BinaryPath: bin.Path,
		Port:       cfg.Profile.DebugPort,
		ProfileDir: profileDir,
		ExtraArgs:  cfg.Launch.ExtraArgs,
		Headless:   cfg.Launch.IsHeadless(),
	}

	candidates, err := s.Process.Enumerate()
	if err != nil {
		return coreprocess.Handle{}, coreprobe.Endpoint{}, err
	}
	classified := coreprocess.Classify(candidates, desired)

	for _, c := range classified {
		switch c.Disposition {
		case coreprocess.DispositionReuse:
			ep, err := s.Prober.Probe(ctx, desired.Port)
			if err == nil {
				return coreprocess.Handle{PID: c.PID, Port: desired.Port}, ep, nil
			}
		case coreprocess.DispositionTerminateRelaunch:
			if cfg.Launch.ExistingProcessPolicy == "fail" {
				return coreprocess.Handle{}, coreprobe.Endpoint{}, coreerr.New(coreerr.PortInUse, "supervisor.reconcile", "an existing process holds the desired port/profile").
					WithDiagnostic("pid", c.PID)
			}
			if cfg.Launch.ExistingProcessPolicy == "reuse-foreign-profile" {
				continue
			}
			if err := s.Process.Terminate(ctx, c.PID, cfg.Timeouts.GracefulExitTimeout()); err != nil {
				return coreprocess.Handle{}, coreprobe.Endpoint{}, err
			}
		}
	}

	s.setState(StateLaunching)
	handle, err := s.Process.Launch(desired)
	if err != nil {
		return coreprocess.Handle{}, coreprobe.Endpoint{}, err
	}

	ep, err := s.Prober.WaitReady(ctx, desired.Port, 30*time.Second)
	if err != nil {
		_ = s.Process.Terminate(ctx, handle.PID, cfg.Timeouts.GracefulExitTimeout())
		return coreprocess.Handle{}, coreprobe.Endpoint{}, coreerr.Wrap(coreerr.LaunchError, "supervisor.reconcile", "launched process never became ready", err)
	}

	if s.State != nil {
		st := s.State.Load()
		st.LastLaunch = &corestate.LastLaunch{PID: int(handle.PID), Port: desired.Port, Profile: cfg.Profile.Name, StartedAt: time.Now().UTC()}
		_ = s.State.Save(st)
	}

	return handle, ep, nil
}

// Release transitions to DETACHED: the health loop stops, the browser
// keeps running so the next acquire() can reuse it.
func (s *Supervisor) Release(SessionHandle) error {
	s.stopHealthLoop()
	s.setState(StateDetached)
	return nil
}

// Shutdown stops the health loop cleanly without killing the browser.
func (s *Supervisor) Shutdown() error {
	s.stopHealthLoop()
	s.setState(StateDetached)
	return nil
}

// RunBrowserOnly ensures ATTACHED then returns immediately, for the
// "launch-and-leave" CLI command.
func (s *Supervisor) RunBrowserOnly(ctx context.Context, cfg config.Config) error {
	if _, err := s.Acquire(ctx, cfg); err != nil {
		return err
	}
	return s.Shutdown()
}

// Status reports the current state, binary info, endpoint, and the most
// recent health samples.
func (s *Supervisor) Status() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := Report{State: s.state, RestartCount: s.restartAttempts, EffectiveConfig: s.cfg}
	if s.binary.Path != "" {
		bin := s.binary
		r.Binary = &bin
	}
	if s.endpoint.Port != 0 {
		ep := s.endpoint
		r.Endpoint = &ep
	}
	r.Samples = append(r.Samples, s.samples...)
	return r
}
