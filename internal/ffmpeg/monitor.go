package ffmpeg

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats contains resource usage of an FFmpeg process.
type ProcessStats struct {
	PID          int           `json:"pid"`
	CPUPercent   float64       `json:"cpu_percent"`
	RSSBytes     uint64        `json:"rss_bytes"`
	PeakRSSBytes uint64        `json:"peak_rss_bytes"`
	Duration     time.Duration `json:"duration"`
	LastUpdated  time.Time     `json:"last_updated"`
}

// PeakRSSMB returns the peak resident set size in MB.
func (s ProcessStats) PeakRSSMB() float64 {
	return float64(s.PeakRSSBytes) / (1024 * 1024)
}

// ProcessMonitor samples the resource usage of a running process.
type ProcessMonitor struct {
	pid       int
	startedAt time.Time
	interval  time.Duration

	mu    sync.RWMutex
	stats ProcessStats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for pid sampling every interval.
func NewProcessMonitor(pid int, interval time.Duration) *ProcessMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &ProcessMonitor{
		pid:       pid,
		startedAt: time.Now(),
		interval:  interval,
		stats:     ProcessStats{PID: pid},
	}
}

// Start begins sampling in the background until Stop or ctx is done.
func (pm *ProcessMonitor) Start(ctx context.Context) {
	ctx, pm.cancel = context.WithCancel(ctx)

	pm.wg.Add(1)
	go func() {
		defer pm.wg.Done()

		proc, err := process.NewProcessWithContext(ctx, int32(pm.pid))
		if err != nil {
			return
		}

		ticker := time.NewTicker(pm.interval)
		defer ticker.Stop()

		pm.sample(ctx, proc)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pm.sample(ctx, proc)
			}
		}
	}()
}

// Stop stops sampling and waits for the sampler to exit.
func (pm *ProcessMonitor) Stop() {
	if pm.cancel != nil {
		pm.cancel()
	}
	pm.wg.Wait()
}

// Stats returns the latest sample.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.stats
}

func (pm *ProcessMonitor) sample(ctx context.Context, proc *process.Process) {
	mem, memErr := proc.MemoryInfoWithContext(ctx)
	cpu, cpuErr := proc.CPUPercentWithContext(ctx)

	pm.mu.Lock()
	defer pm.mu.Unlock()

	now := time.Now()
	pm.stats.Duration = now.Sub(pm.startedAt)
	pm.stats.LastUpdated = now
	if memErr == nil && mem != nil {
		pm.stats.RSSBytes = mem.RSS
		pm.stats.PeakRSSBytes = max(pm.stats.PeakRSSBytes, mem.RSS)
	}
	if cpuErr == nil {
		pm.stats.CPUPercent = cpu
	}
}
