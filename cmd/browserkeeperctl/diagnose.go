package main

import (
	"context"
	"net"
	"strconv"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/browserkeeper/browserkeeper/internal/config"
	"github.com/browserkeeper/browserkeeper/internal/coresupervisor"
)

// DiagnoseReport is status() plus the platform checks a working
// troubleshooting report needs: disk space, port availability, and
// known-channel clashes.
type DiagnoseReport struct {
	coresupervisor.Report
	DiskFreeBytes     uint64   `json:"disk_free_bytes"`
	DiskPath          string   `json:"disk_path"`
	PortAvailable     bool     `json:"port_available"`
	Port              int      `json:"port"`
	ConsumerClashPIDs []int32  `json:"consumer_clash_pids,omitempty"`
	Notes             []string `json:"notes,omitempty"`
}

// diagnoseReport never returns an error: diagnose is meant to be run
// when things are already broken, so it always exits 0 and reports
// whatever it could observe instead of failing outright.
func diagnoseReport(ctx context.Context, sup *coresupervisor.Supervisor, cfg config.Config) DiagnoseReport {
	r := DiagnoseReport{Port: cfg.Profile.DebugPort}

	_, acqErr := sup.Acquire(ctx, cfg)
	r.Report = sup.Status()
	if acqErr != nil {
		r.Notes = append(r.Notes, "acquire failed: "+acqErr.Error())
	}

	if cacheRoot, err := sup.Paths.CacheRoot(); err == nil {
		r.DiskPath = cacheRoot
		if usage, err := disk.Usage(cacheRoot); err == nil {
			r.DiskFreeBytes = usage.Free
		} else {
			r.Notes = append(r.Notes, "disk usage unavailable: "+err.Error())
		}
	}

	r.PortAvailable = portFree(r.Port)

	if candidates, err := sup.Process.Enumerate(); err == nil {
		for _, c := range candidates {
			if c.IsConsumerChannel {
				r.ConsumerClashPIDs = append(r.ConsumerClashPIDs, c.PID)
			}
		}
	}

	return r
}

// portFree reports whether a TCP listener can bind the port; 0 (ephemeral)
// is always reported as available.
func portFree(port int) bool {
	if port == 0 {
		return true
	}
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
