package sysinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

// Snapshot captures the machine state at execution time. It is stored
// alongside each execution so flaky results can be correlated with the
// host they ran on.
type Snapshot struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform"`
	KernelVersion string  `json:"kernel_version,omitempty"`
	Arch          string  `json:"arch"`
	CPUModel      string  `json:"cpu_model,omitempty"`
	CPUCores      int     `json:"cpu_cores"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	MemoryUsedPct float64 `json:"memory_used_pct"`
}

// Collector takes host snapshots.
type Collector interface {
	// Collect gathers a snapshot of the current host. Partial data is
	// returned when individual probes fail.
	Collect(ctx context.Context) *Snapshot
}

// Compile-time interface check.
var _ Collector = (*collector)(nil)

type collector struct {
	log logrus.FieldLogger
}

// NewCollector creates a host snapshot collector.
func NewCollector(log logrus.FieldLogger) Collector {
	return &collector{
		log: log.WithField("component", "sysinfo"),
	}
}

func (c *collector) Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Hostname = info.Hostname
		snap.Platform = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
		snap.KernelVersion = info.KernelVersion
	} else {
		c.log.WithError(err).Debug("Failed to read host info")
	}

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		snap.CPUModel = infos[0].ModelName
	} else if err != nil {
		c.log.WithError(err).Debug("Failed to read CPU info")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryTotalMB = vm.Total / 1024 / 1024
		snap.MemoryUsedPct = vm.UsedPercent
	} else {
		c.log.WithError(err).Debug("Failed to read memory info")
	}

	return snap
}

// JSON serializes the snapshot for storage. Returns an empty string when
// marshalling fails so callers can store it unconditionally.
func (s *Snapshot) JSON() string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}

	return string(data)
}
