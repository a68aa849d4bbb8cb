// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package diagnostics periodically logs host resource pressure on the
// Receiver so an operator watching its logs can tell "disk nearly full"
// or "overloaded host" apart from a misbehaving peer.
package diagnostics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats holds one round of collected resource metrics.
type HostStats struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskUsagePercent float64
	LoadAverage      float64
}

// Monitor collects HostStats for watchDir on an interval and logs them.
// The zero value is not usable; construct with NewMonitor.
type Monitor struct {
	logger   *slog.Logger
	watchDir string
	interval time.Duration

	stop chan struct{}
	wg   sync.WaitGroup

	mu    sync.RWMutex
	stats HostStats
}

// NewMonitor constructs a Monitor that samples watchDir's filesystem
// (normally the receive directory) every interval. interval<=0 defaults
// to 15s.
func NewMonitor(logger *slog.Logger, watchDir string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		logger:   logger.With("component", "host_monitor"),
		watchDir: watchDir,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins periodic collection in the background.
func (m *Monitor) Start() {
	if m == nil {
		return
	}
	m.wg.Add(1)
	go m.run()
}

// Stop halts collection and waits for the background goroutine to exit.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	close(m.stop)
	m.wg.Wait()
}

// Stats returns the most recently collected sample.
func (m *Monitor) Stats() HostStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	stats := HostStats{}

	if percentage, err := cpu.Percent(0, false); err == nil && len(percentage) > 0 {
		stats.CPUPercent = percentage[0]
	} else {
		m.logger.Debug("collecting cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("collecting memory stats", "error", err)
	}

	if d, err := disk.Usage(m.watchDir); err == nil {
		stats.DiskUsagePercent = d.UsedPercent
	} else {
		m.logger.Debug("collecting disk stats", "dir", m.watchDir, "error", err)
	}

	if l, err := load.Avg(); err == nil {
		stats.LoadAverage = l.Load1
	} else {
		m.logger.Debug("collecting load stats", "error", err)
	}

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()

	m.logger.Info("host stats",
		"cpu_percent", stats.CPUPercent,
		"memory_percent", stats.MemoryPercent,
		"disk_usage_percent", stats.DiskUsagePercent,
		"load_average", stats.LoadAverage,
	)
}
