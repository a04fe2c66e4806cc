package reboot

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/cuemby/aegis/pkg/inspector"
	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/store"
)

// StabilizationWait is how long the validator waits after process start
// before running checks, giving slow-starting containers a chance to come
// up on their own.
const StabilizationWait = 30 * time.Second

// Validator runs the five post-reboot checks and records the outcome
// against the pending reboot_events row.
type Validator struct {
	st        *store.Store
	inspector *inspector.Inspector
}

func NewValidator(st *store.Store, insp *inspector.Inspector) *Validator {
	return &Validator{st: st, inspector: insp}
}

// Result captures the outcome of each of the five checks for the
// post_state JSON blob persisted on the reboot_events row.
type Result struct {
	CriticalUnitsOK bool     `json:"critical_units_ok"`
	DatabaseOK      bool     `json:"database_ok"`
	TelemetryOK     bool     `json:"telemetry_ok"`
	DiskOK          bool     `json:"disk_ok"`
	GPUQueryable    bool     `json:"gpu_queryable"`
	Failures        []string `json:"failures,omitempty"`
}

func (r Result) Passed() bool {
	return r.CriticalUnitsOK && r.DatabaseOK && r.TelemetryOK && r.DiskOK
}

// Run finds the most recent pending reboot row (if any), waits for
// stabilization, runs all five checks, and persists the outcome. It is a
// no-op if no reboot row is pending, which is the normal case on a process
// restart that was not preceded by a self-healing reboot.
func (v *Validator) Run(ctx context.Context, currentCPUPercent func() float64) error {
	logger := log.WithComponent("reboot")

	pending, err := v.st.GetPendingRebootEvent(ctx)
	if err != nil {
		return fmt.Errorf("check for pending reboot event: %w", err)
	}
	if pending == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(StabilizationWait):
	}

	result := Result{}

	units, err := v.inspector.Inspect(ctx)
	if err != nil {
		result.Failures = append(result.Failures, fmt.Sprintf("unit inspection failed: %v", err))
	} else {
		result.CriticalUnitsOK = true
		for _, u := range units {
			if !u.Present || !u.Running || !u.Healthy {
				result.CriticalUnitsOK = false
				result.Failures = append(result.Failures, fmt.Sprintf("unit %s not healthy: %s", u.Name, u.Message))
			}
		}
	}

	if err := v.st.Pool.Ping(ctx); err != nil {
		result.Failures = append(result.Failures, fmt.Sprintf("database unreachable: %v", err))
	} else {
		result.DatabaseOK = true
	}

	if currentCPUPercent() >= 0 {
		result.TelemetryOK = true
	} else {
		result.Failures = append(result.Failures, "metrics collector not responding")
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err != nil {
		result.Failures = append(result.Failures, fmt.Sprintf("disk usage check failed: %v", err))
	} else if du.UsedPercent >= 95 {
		result.Failures = append(result.Failures, fmt.Sprintf("disk usage %.1f%% >= 95%%", du.UsedPercent))
	} else {
		result.DiskOK = true
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(cctx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Run(); err == nil {
		result.GPUQueryable = true
	}

	postState := map[string]any{
		"critical_units_ok": result.CriticalUnitsOK,
		"database_ok":       result.DatabaseOK,
		"telemetry_ok":      result.TelemetryOK,
		"disk_ok":           result.DiskOK,
		"gpu_queryable":     result.GPUQueryable,
		"failures":          result.Failures,
	}

	if err := v.st.CompleteRebootEvent(ctx, pending.ID, result.Passed(), postState); err != nil {
		return fmt.Errorf("complete reboot event: %w", err)
	}

	severity := "INFO"
	if !result.Passed() {
		severity = "WARNING"
	}
	logger.Info().Bool("passed", result.Passed()).Strs("failures", result.Failures).Msg("post-reboot validation complete")
	return v.st.RecordSelfHealingEvent(ctx, store.SelfHealingEvent{
		EventType:   "post_reboot_validation",
		Severity:    severity,
		Description: fmt.Sprintf("post-reboot validation passed=%v", result.Passed()),
	})
}
