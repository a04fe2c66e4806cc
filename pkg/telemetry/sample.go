// Package telemetry samples host and GPU metrics at a fast cadence and
// persists them to the store at a slower one, mirroring the original
// collector's dual-cadence design: every field is read best-effort, a
// failure in one probe yields a zero value and a logged warning rather than
// aborting the whole sample.
package telemetry

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/cuemby/aegis/pkg/gpuhealth"
	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/metrics"
)

// Sample is one point-in-time reading of host health.
type Sample struct {
	Timestamp   time.Time
	CPUPercent  float64
	RAMPercent  float64
	DiskPercent float64
	TempCelsius float64
	GPU         []gpuhealth.Stats
	CollectedAt time.Time
}

// thermalZonePaths mirrors the original's Jetson-style probe order: check
// the host-mounted thermal zones first (container deployments bind-mount
// /host/sys), then fall back to the container's own view.
var thermalZonePaths = []string{
	"/host/sys/class/thermal/thermal_zone0/temp",
	"/host/sys/class/thermal/thermal_zone1/temp",
	"/sys/class/thermal/thermal_zone0/temp",
}

// Sampler owns the most recent Sample behind a mutex; the control loop
// reads a snapshot, the sampler task updates it independently at its own
// fixed period.
type Sampler struct {
	mu         sync.RWMutex
	last       Sample
	gpuMonitor *gpuhealth.Monitor
	gpuCounter int
	logger     zerolog.Logger
}

// NewSampler creates a Sampler backed by the given GPU monitor.
func NewSampler(gpuMonitor *gpuhealth.Monitor) *Sampler {
	return &Sampler{
		gpuMonitor: gpuMonitor,
		logger:     log.WithComponent("telemetry"),
	}
}

// Latest returns a copy of the most recently collected sample.
func (s *Sampler) Latest() Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run drives the live sampling loop at the given period until ctx is
// cancelled. Detailed GPU stats are refreshed only every gpuEvery ticks,
// matching the original's "don't query nvidia-smi every tick" discipline.
func (s *Sampler) Run(ctx context.Context, period time.Duration, gpuEvery int) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.collect(ctx, gpuEvery)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collect(ctx, gpuEvery)
		}
	}
}

func (s *Sampler) collect(ctx context.Context, gpuEvery int) {
	sample := Sample{Timestamp: time.Now()}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil || len(pct) == 0 {
		s.logger.Warn().Err(err).Msg("cpu sample failed, recording zero")
	} else {
		sample.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("memory sample failed, recording zero")
	} else {
		sample.RAMPercent = vm.UsedPercent
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err != nil {
		s.logger.Warn().Err(err).Msg("disk sample failed, recording zero")
	} else {
		sample.DiskPercent = du.UsedPercent
	}

	sample.TempCelsius = readThermalZone(s.logger)

	s.gpuCounter++
	if s.gpuCounter >= gpuEvery && s.gpuMonitor != nil {
		s.gpuCounter = 0
		stats, err := s.gpuMonitor.Collect(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("gpu sample failed")
		} else {
			sample.GPU = stats
			for _, g := range stats {
				label := strconv.Itoa(g.Index)
				metrics.GPUTemperatureCelsius.WithLabelValues(label).Set(g.Temperature)
				metrics.GPUUtilizationPercent.WithLabelValues(label).Set(g.Utilization)
			}
		}
	} else {
		s.mu.RLock()
		sample.GPU = s.last.GPU
		s.mu.RUnlock()
	}

	sample.CollectedAt = time.Now()

	s.mu.Lock()
	s.last = sample
	s.mu.Unlock()
}

func readThermalZone(logger zerolog.Logger) float64 {
	for _, path := range thermalZonePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		milliC, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil {
			continue
		}
		return milliC / 1000.0
	}
	logger.Warn().Msg("no thermal zone readable, recording zero")
	return 0
}
