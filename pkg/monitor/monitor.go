// Package monitor samples this process's own CPU, memory, and disk
// I/O every interval and logs the result (spec section 4.4). Follows
// the ticker/stopCh shape of the teacher's manager.MetricsCollector.
package monitor

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/basalt-labs/histd/pkg/histderr"
	"github.com/basalt-labs/histd/pkg/log"
	"github.com/basalt-labs/histd/pkg/metrics"
)

// DefaultInterval is the spec's required sampling period.
const DefaultInterval = 60 * time.Second

// Monitor periodically samples process self-telemetry.
type Monitor struct {
	proc     *process.Process
	interval time.Duration
	stopCh   chan struct{}
}

// New constructs a Monitor bound to this process. It is terminal only
// if the sampling primitive itself cannot be constructed (spec section
// 4.4) — a failed per-tick sample afterward is logged and skipped.
func New(interval time.Duration) (*Monitor, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, histderr.Other("construct process sampling handle", err)
	}
	return &Monitor{proc: proc, interval: interval, stopCh: make(chan struct{})}, nil
}

// Start begins sampling on a ticker until Stop is called.
func (m *Monitor) Start() {
	ticker := time.NewTicker(m.interval)
	go func() {
		m.sample()
		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-m.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts sampling.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) sample() {
	logger := log.WithComponent("monitor")

	cpuPercent, err := m.proc.CPUPercent()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to sample CPU percent")
		return
	}

	memInfo, err := m.proc.MemoryInfo()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to sample memory info")
		return
	}

	ioCounters, err := m.proc.IOCounters()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to sample I/O counters")
		return
	}

	logger.Info().
		Float64("cpu_percent", cpuPercent).
		Uint64("rss_bytes", memInfo.RSS).
		Uint64("disk_read_bytes", ioCounters.ReadBytes).
		Uint64("disk_write_bytes", ioCounters.WriteBytes).
		Msg("self-telemetry sample")

	metrics.CPUPercent.Set(cpuPercent)
	metrics.RSSBytes.Set(float64(memInfo.RSS))
	metrics.DiskReadBytes.Set(float64(ioCounters.ReadBytes))
	metrics.DiskWriteBytes.Set(float64(ioCounters.WriteBytes))
}
