// Package health implements the vault's observability endpoints backing
// (§6.5): aggregated health, readiness, liveness, and a resource snapshot,
// modeled on the original Python HealthChecker (psutil-based) and adapted to
// gopsutil, its standard Go counterpart.
package health

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Thresholds at which resource usage is considered degraded/unhealthy,
// mirroring the original HealthChecker's 80%/90% bands.
const (
	DegradedThreshold  = 80.0
	UnhealthyThreshold = 90.0
)

// Status is the aggregated health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Snapshot is a point-in-time resource + key-availability reading.
type Snapshot struct {
	Status         Status    `json:"status"`
	KeysAccessible bool      `json:"keys_accessible"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	DiskPercent    float64   `json:"disk_percent"`
	UptimeSeconds  float64   `json:"uptime_seconds"`
	LastCheckedAt  time.Time `json:"last_checked_at"`
}

// KeyChecker reports whether the keyset's MetadataKey file is present; the
// other key files are not checked.
type KeyChecker interface {
	MetadataKeyPresent() bool
}

// Checker samples host resource usage and combines it with key availability
// into an aggregated Snapshot.
type Checker struct {
	keys      KeyChecker
	startedAt time.Time
}

// New constructs a Checker. startedAt should be the process start time, used
// to compute uptime.
func New(keys KeyChecker, startedAt time.Time) *Checker {
	return &Checker{keys: keys, startedAt: startedAt}
}

// Sample takes a fresh resource reading. CPU sampling blocks for a short
// interval (gopsutil's standard percent-since-last-call technique); callers
// on a hot path should cache the result rather than sampling per-request.
func (c *Checker) Sample(ctx context.Context) (Snapshot, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return Snapshot{}, err
	}
	var cpuPct float64
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	du, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return Snapshot{}, err
	}

	keysOK := c.keys.MetadataKeyPresent()

	snap := Snapshot{
		KeysAccessible: keysOK,
		CPUPercent:     cpuPct,
		MemoryPercent:  vm.UsedPercent,
		DiskPercent:    du.UsedPercent,
		UptimeSeconds:  time.Since(c.startedAt).Seconds(),
		LastCheckedAt:  time.Now(),
	}
	snap.Status = classify(snap)
	return snap, nil
}

func classify(s Snapshot) Status {
	if !s.KeysAccessible {
		return StatusUnhealthy
	}
	if s.CPUPercent >= UnhealthyThreshold || s.MemoryPercent >= UnhealthyThreshold || s.DiskPercent >= UnhealthyThreshold {
		return StatusUnhealthy
	}
	if s.CPUPercent >= DegradedThreshold || s.MemoryPercent >= DegradedThreshold || s.DiskPercent >= DegradedThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}
