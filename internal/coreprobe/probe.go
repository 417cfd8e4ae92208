// Package coreprobe verifies that a loopback debug port is actually
// serving the remote-debugging protocol before the Supervisor hands a
// SessionRef to anything upstream.
package coreprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/browserkeeper/browserkeeper/internal/coreerr"
)

// Endpoint is a verified remote-debugging endpoint.
type Endpoint struct {
	Port               int
	WebSocketDebuggerURL string
	Version            string
	Latency            time.Duration
}

// Reason distinguishes why a single probe attempt failed.
type Reason string

const (
	ReasonRefused       Reason = "refused"
	ReasonTimeout       Reason = "timeout"
	ReasonProtocolError Reason = "protocol-error"
	ReasonWrongOccupant Reason = "wrong-occupant"
)

type versionDoc struct {
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	Browser              string `json:"Browser"`
}

// httpGetter is the minimal surface Prober needs from an HTTP client.
type httpGetter interface {
	Do(req *http.Request) (*http.Response, error)
}

// Prober issues metadata GETs against a loopback port.
type Prober struct {
	Client       httpGetter
	ProbeTimeout time.Duration
}

// New returns a Prober using a real HTTP client with the given per-probe
// deadline.
func New(probeTimeout time.Duration) *Prober {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Prober{Client: &http.Client{Timeout: probeTimeout}, ProbeTimeout: probeTimeout}
}

// Probe issues a single GET against the metadata path and classifies
// the result.
func (p *Prober) Probe(ctx context.Context, port int) (Endpoint, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Endpoint{}, coreerr.New(coreerr.ProbeFailure, "probe.probe", "failed to build request")
	}

	start := time.Now()
	resp, err := p.Client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return Endpoint{}, probeErr(ReasonTimeout, "endpoint did not respond before the deadline")
		}
		return Endpoint{}, probeErr(ReasonRefused, "connection refused; process may not be listening yet")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Endpoint{}, probeErr(ReasonProtocolError, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Endpoint{}, probeErr(ReasonProtocolError, "failed to read response body")
	}

	var doc versionDoc
	if err := json.Unmarshal(body, &doc); err != nil || doc.WebSocketDebuggerURL == "" {
		return Endpoint{}, probeErr(ReasonProtocolError, "response did not contain a parseable websocket debugger URL")
	}

	if isOtherBrowser(doc.Browser) {
		return Endpoint{}, probeErr(ReasonWrongOccupant, "port is occupied by a different debugging endpoint").
			WithDiagnostic("browser", doc.Browser)
	}

	return Endpoint{
		Port:                 port,
		WebSocketDebuggerURL: doc.WebSocketDebuggerURL,
		Version:              doc.Browser,
		Latency:              latency,
	}, nil
}

// WaitReady polls Probe every ~250ms until it succeeds, the context is
// cancelled, or overallTimeout elapses.
func (p *Prober) WaitReady(ctx context.Context, port int, overallTimeout time.Duration) (Endpoint, error) {
	if overallTimeout <= 0 {
		overallTimeout = 30 * time.Second
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, overallTimeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		probeCtx, probeCancel := context.WithTimeout(deadlineCtx, p.ProbeTimeout)
		ep, err := p.Probe(probeCtx, port)
		probeCancel()
		if err == nil {
			return ep, nil
		}
		lastErr = err

		select {
		case <-deadlineCtx.Done():
			if lastErr != nil {
				return Endpoint{}, lastErr
			}
			return Endpoint{}, probeErr(ReasonTimeout, "endpoint did not become ready within the readiness window")
		case <-ticker.C:
		}
	}
}

func isOtherBrowser(browser string) bool {
	if browser == "" {
		return false
	}
	lower := strings.ToLower(browser)
	return !strings.Contains(lower, "chrome") && !strings.Contains(lower, "chromium")
}

func probeErr(reason Reason, message string) *coreerr.Error {
	return coreerr.New(coreerr.ProbeFailure, "probe.probe", message).WithDiagnostic("reason", string(reason))
}
