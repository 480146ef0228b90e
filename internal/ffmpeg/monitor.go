package ffmpeg

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is a resource usage snapshot for a running transcoder.
type ProcessStats struct {
	PID            int           `json:"pid"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryRSSBytes uint64        `json:"memory_rss_bytes"`
	Uptime         time.Duration `json:"uptime"`
	LastUpdated    time.Time     `json:"last_updated"`
}

// ProcessMonitor periodically samples CPU and memory usage of a subprocess.
type ProcessMonitor struct {
	pid       int
	startedAt time.Time
	interval  time.Duration

	mu    sync.RWMutex
	stats ProcessStats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for the given pid.
func NewProcessMonitor(pid int) *ProcessMonitor {
	return &ProcessMonitor{
		pid:       pid,
		startedAt: time.Now(),
		interval:  time.Second,
	}
}

// Start begins sampling until Stop is called or the process disappears.
func (pm *ProcessMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	pm.cancel = cancel

	pm.wg.Add(1)
	go func() {
		defer pm.wg.Done()

		ticker := time.NewTicker(pm.interval)
		defer ticker.Stop()

		proc, err := process.NewProcessWithContext(ctx, int32(pm.pid))
		if err != nil {
			return
		}

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

// Stop stops sampling and waits for the monitor goroutine to exit.
func (pm *ProcessMonitor) Stop() {
	if pm.cancel != nil {
		pm.cancel()
	}
	pm.wg.Wait()
}

// Stats returns the most recent sample.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.stats
}

func (pm *ProcessMonitor) sample(ctx context.Context, proc *process.Process) {
	now := time.Now()

	stats := ProcessStats{
		PID:         pm.pid,
		Uptime:      now.Sub(pm.startedAt),
		LastUpdated: now,
	}

	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.MemoryRSSBytes = mem.RSS
	}

	pm.mu.Lock()
	pm.stats = stats
	pm.mu.Unlock()
}
