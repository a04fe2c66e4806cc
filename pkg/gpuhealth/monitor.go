package gpuhealth

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/aegis/pkg/log"
)

// Monitor reads nvidia-smi and classifies the result. It keeps per-index
// hang counters across calls, since hang detection needs 30 consecutive
// high-utilization readings rather than a single sample.
type Monitor struct {
	hangCounters map[int]int
	timeout      time.Duration
}

func NewMonitor() *Monitor {
	return &Monitor{
		hangCounters: make(map[int]int),
		timeout:      5 * time.Second,
	}
}

// nvidiaSMIQuery mirrors the original's exact query field list and format
// flags so the column order below can be trusted without named lookups.
const nvidiaSMIQuery = "name,temperature.gpu,utilization.gpu,memory.used,memory.total,power.draw"

// Collect runs nvidia-smi and returns a classified Stats entry per GPU. An
// unreachable or erroring nvidia-smi yields a single Stats row with
// Health = HealthUnavailable rather than an error return, matching the
// original's NVML-failure fallback behavior of degrading gracefully.
func (m *Monitor) Collect(ctx context.Context) ([]Stats, error) {
	logger := log.WithComponent("gpu")

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "nvidia-smi",
		"--query-gpu="+nvidiaSMIQuery,
		"--format=csv,noheader,nounits")

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		logger.Warn().Err(err).Msg("nvidia-smi unavailable")
		return []Stats{{Index: 0, Health: HealthUnavailable, Error: ErrorNone}}, nil
	}

	records, err := csv.NewReader(strings.NewReader(stdout.String())).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse nvidia-smi output: %w", err)
	}

	out := make([]Stats, 0, len(records))
	for i, rec := range records {
		if len(rec) < 6 {
			continue
		}
		s := Stats{
			Index:          i,
			Name:           strings.TrimSpace(rec[0]),
			Temperature:    parseFloat(rec[1]),
			Utilization:    parseFloat(rec[2]),
			MemoryUsedMB:   parseFloat(rec[3]),
			MemoryTotalMB:  parseFloat(rec[4]),
			PowerDrawWatts: parseFloat(rec[5]),
		}
		if s.MemoryTotalMB > 0 {
			s.MemoryPercent = s.MemoryUsedMB / s.MemoryTotalMB * 100
		}
		m.classify(&s)
		out = append(out, s)
	}

	return out, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// classify runs the original's exact priority cascade: temperature first,
// then memory, then hang detection. Each branch sets both Health and Error
// so downstream recovery lookups never have to re-derive one from the
// other.
func (m *Monitor) classify(s *Stats) {
	switch {
	case s.Temperature >= TempShutdownC:
		s.Health = HealthCritical
		s.Error = ErrorThermal
		s.ErrorMessage = fmt.Sprintf("temperature %.1fC at or above shutdown threshold %.1fC", s.Temperature, TempShutdownC)
	case s.Temperature >= TempCriticalC:
		s.Health = HealthCritical
		s.Error = ErrorThermal
		s.ErrorMessage = fmt.Sprintf("temperature %.1fC at or above critical threshold %.1fC", s.Temperature, TempCriticalC)
	case s.Temperature >= TempWarningC:
		s.Health = HealthWarning
		s.Error = ErrorThermal
		s.ErrorMessage = fmt.Sprintf("temperature %.1fC at or above warning threshold %.1fC", s.Temperature, TempWarningC)
	case s.MemoryUsedMB >= MemoryCriticalMB:
		s.Health = HealthCritical
		s.Error = ErrorOOM
		s.ErrorMessage = fmt.Sprintf("memory used %.0fMB at or above critical threshold %.0fMB", s.MemoryUsedMB, MemoryCriticalMB)
	case s.MemoryUsedMB >= MemoryWarningMB:
		s.Health = HealthWarning
		s.Error = ErrorOOM
		s.ErrorMessage = fmt.Sprintf("memory used %.0fMB at or above warning threshold %.0fMB", s.MemoryUsedMB, MemoryWarningMB)
	default:
		s.Health = HealthHealthy
		s.Error = ErrorNone
	}

	if m.detectHang(s.Index, s.Utilization) {
		s.Health = HealthCritical
		s.Error = ErrorHang
		s.ErrorMessage = fmt.Sprintf("utilization sustained at or above %.0f%% for %d consecutive checks", UtilizationHangThreshold, HangDurationChecks)
	}
}

// detectHang increments a per-GPU consecutive-high-utilization counter and
// resets it to zero the instant a reading drops below the threshold,
// regardless of the counter's prior value — the explicit-reset rule the
// hang detector depends on.
func (m *Monitor) detectHang(index int, utilization float64) bool {
	if utilization < UtilizationHangThreshold {
		m.hangCounters[index] = 0
		return false
	}
	m.hangCounters[index]++
	return m.hangCounters[index] >= HangDurationChecks
}
