package coresupervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/browserkeeper/browserkeeper/internal/config"
	"github.com/browserkeeper/browserkeeper/internal/coreerr"
	"github.com/browserkeeper/browserkeeper/internal/coreprocess"
)

// HealthSample is one point-in-time observation of the attached
// endpoint and process.
type HealthSample struct {
	Timestamp       time.Time     `json:"timestamp"`
	Latency         time.Duration `json:"latency"`
	CPUPercent      float64       `json:"cpu_percent"`
	RSSBytes        uint64        `json:"rss_bytes"`
	PageCount       int           `json:"page_count"`
	Success         bool          `json:"success"`
	FailureCategory string        `json:"failure_category,omitempty"`
}

// clampInterval enforces a [5s, 300s] polling bound regardless of what
// the caller configured, so a misconfigured interval can't turn the
// health loop into a busy poll or an effectively-disabled one.
func clampInterval(d time.Duration) time.Duration {
	switch {
	case d < 5*time.Second:
		return 5 * time.Second
	case d > 300*time.Second:
		return 300 * time.Second
	default:
		return d
	}
}

// startHealthLoop launches the background health/recovery loop. It is a
// no-op if one is already running.
func (s *Supervisor) startHealthLoop(cfg config.Config) {
	s.mu.Lock()
	if s.healthCancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.healthCancel = cancel
	s.healthDone = make(chan struct{})
	s.mu.Unlock()

	go s.healthLoop(ctx, cfg)
}

func (s *Supervisor) stopHealthLoop() {
	s.mu.Lock()
	cancel := s.healthCancel
	done := s.healthDone
	s.healthCancel = nil
	s.healthDone = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// healthLoop probes and samples every check_interval. Probe and metric
// sampling are serialized within one tick: no overlapping probes.
func (s *Supervisor) healthLoop(ctx context.Context, cfg config.Config) {
	defer close(s.healthDone)

	interval := clampInterval(cfg.Monitoring.MonitoringInterval())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sample, ok := s.takeSample(ctx, cfg)
		s.mu.Lock()
		s.samples = append(s.samples, sample)
		if len(s.samples) > maxHealthSamples {
			s.samples = s.samples[len(s.samples)-maxHealthSamples:]
		}
		s.mu.Unlock()

		if ok {
			consecutiveFailures = 0
			s.mu.Lock()
			if s.healthySince.IsZero() {
				s.healthySince = time.Now()
			}
			stable := time.Since(s.healthySince) >= cfg.Monitoring.StabilityWindow()
			if stable {
				s.restartAttempts = 0
			}
			s.mu.Unlock()
			continue
		}

		consecutiveFailures++
		s.mu.Lock()
		s.healthySince = time.Time{}
		s.mu.Unlock()

		if consecutiveFailures < 3 {
			continue
		}
		consecutiveFailures = 0

		if cfg.Monitoring.MaxRestartAttempts == 0 {
			// Recovery is disabled, not exhausted: keep sampling and
			// reporting the unhealthy endpoint instead of tearing down
			// the loop.
			s.log.Warn("supervisor.recovery_disabled", map[string]any{})
			continue
		}

		if !s.recover(ctx, cfg) {
			s.setState(StateFailed)
			return
		}
	}
}

// takeSample probes the endpoint and samples process metrics, reporting
// whether the endpoint is currently healthy.
func (s *Supervisor) takeSample(ctx context.Context, cfg config.Config) (HealthSample, bool) {
	s.mu.Lock()
	port := s.endpoint.Port
	pid := s.handle.PID
	s.mu.Unlock()

	sample := HealthSample{Timestamp: time.Now()}

	ep, err := s.Prober.Probe(ctx, port)
	if err != nil {
		sample.Success = false
		sample.FailureCategory = string(coreerr.KindOf(err))
		return sample, false
	}
	sample.Latency = ep.Latency
	sample.Success = true

	if proc, err := process.NewProcess(pid); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			sample.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			sample.RSSBytes = mem.RSS
		}
	}
	sample.PageCount = fetchPageCount(port)

	return sample, true
}

// fetchPageCount issues a GET against the endpoint's target list and
// counts targets of type "page", best-effort: a failure here does not affect
// the health verdict, since the probe above already established
// liveness.
func fetchPageCount(port int) int {
	resp, err := http.Get(pageListURL(port))
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	var targets []struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return 0
	}
	count := 0
	for _, t := range targets {
		if t.Type == "page" {
			count++
		}
	}
	return count
}

func pageListURL(port int) string {
	return "http://127.0.0.1:" + strconv.Itoa(port) + "/json/list"
}

// recover performs bounded restart: relaunch + probe, bounded by
// max_restart_attempts with a cooldown between attempts. It returns
// false once the restart budget is exhausted. Callers must not invoke
// this when max_restart_attempts == 0 (recovery disabled) — that case
// is handled upstream in healthLoop without entering RECOVERING.
func (s *Supervisor) recover(ctx context.Context, cfg config.Config) bool {
	s.setState(StateRecovering)

	s.mu.Lock()
	attempts := s.restartAttempts
	lastRestart := s.lastRestartAt
	s.mu.Unlock()

	if cfg.Monitoring.MaxRestartAttempts <= 0 || attempts >= cfg.Monitoring.MaxRestartAttempts {
		s.log.Error("supervisor.recovery_exhausted", map[string]any{"attempts": attempts})
		return false
	}

	if wait := cfg.Monitoring.RecoveryCooldown() - time.Since(lastRestart); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return false
		}
	}

	s.mu.Lock()
	s.restartAttempts++
	s.lastRestartAt = time.Now()
	profileDir, _ := s.Paths.ProfileRoot(cfg.Profile.Name)
	bin := s.binary
	s.mu.Unlock()

	_ = s.Process.Terminate(ctx, s.handle.PID, cfg.Timeouts.GracefulExitTimeout())

	desired := coreprocess.Desired{
		BinaryPath: bin.Path,
		Port:       cfg.Profile.DebugPort,
		ProfileDir: profileDir,
		ExtraArgs:  cfg.Launch.ExtraArgs,
		Headless:   cfg.Launch.IsHeadless(),
	}
	handle, err := s.Process.Launch(desired)
	if err != nil {
		s.log.Warn("supervisor.recovery_launch_failed", map[string]any{"error": err.Error()})
		return true // attempts remain; the loop keeps sampling, and the next run of failed samples retries or exhausts
	}

	ep, err := s.Prober.WaitReady(ctx, desired.Port, cfg.Timeouts.LaunchTimeout())
	if err != nil {
		s.log.Warn("supervisor.recovery_probe_failed", map[string]any{"error": err.Error()})
		return true
	}

	ref, err := s.Broker.Acquire(ep.WebSocketDebuggerURL)
	if err != nil {
		s.log.Warn("supervisor.recovery_reattach_failed", map[string]any{"error": err.Error()})
		return true
	}

	s.mu.Lock()
	s.handle = handle
	s.endpoint = ep
	s.sessionRef = ref
	s.healthySince = time.Now()
	s.mu.Unlock()
	s.setState(StateAttached)
	return true
}
