// Package recovery implements the self-healing ladder: Category A restarts
// a single unhealthy unit, Category B reacts to resource pressure on a
// specific resource, Category C is a gated, system-wide hard reset, and
// Category D (disabled by default) triggers a host reboot through the
// reboot safety gate. Every escalation decision is driven by ledger
// counters read from the store, never in-memory state, so it survives a
// process restart.
package recovery

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cuemby/aegis/pkg/gpuhealth"
	"github.com/cuemby/aegis/pkg/inspector"
	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/metrics"
	"github.com/cuemby/aegis/pkg/store"
)

// ContainerControl is the minimal primitive the executor needs against a
// managed unit; implemented against containerd in the supervisor wiring.
type ContainerControl interface {
	Stop(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
}

// ImagePruner removes container images that no live container references,
// the containerd-backed counterpart of the original's docker system/builder
// prune pair; build cache is not pruned.
type ImagePruner interface {
	PruneUnusedImages(ctx context.Context) error
}

// logDirectory is hardcoded, never taken from configuration or a request,
// so Category C's cleanup step can never be steered into deleting an
// arbitrary path.
const logDirectory = "/var/log/aegis"

// Debounce windows for Category B actions, matching the original exactly.
const (
	DebounceCPU     = 5 * time.Minute
	DebounceRAM     = 5 * time.Minute
	DebounceGPUUtil = 5 * time.Minute
	DebounceTempHot = 10 * time.Minute
	DebounceTempWarm = 10 * time.Minute

	CategoryACooldown      = 5 * time.Minute
	CategoryAWindow        = 10 * time.Minute
	CategoryAEscalateAfter = 3
	CategoryCCooldown      = time.Hour
	CategoryCWindow        = 30 * time.Minute
	CategoryCThreshold     = 3
)

type Executor struct {
	st         *store.Store
	control    ContainerControl
	recoverer  *gpuhealth.Recoverer
	pruner     ImagePruner
	breaker    *gobreaker.CircuitBreaker
	rebootFunc func(ctx context.Context, reason string) error
	units      []string
}

// New builds an Executor. units lists every application service
// considered part of the "hard restart all" step of Category C (the
// appliance's core containers, not the store-managed apps gated by
// IsStoreAppIntentionallyStopped).
func New(st *store.Store, control ContainerControl, recoverer *gpuhealth.Recoverer, pruner ImagePruner, units []string, rebootFunc func(context.Context, string) error) *Executor {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "recovery-actions",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
	})
	return &Executor{st: st, control: control, recoverer: recoverer, pruner: pruner, units: units, breaker: cb, rebootFunc: rebootFunc}
}

// RunCategoryA restarts a single unhealthy unit, escalating to a harder
// restart on the second consecutive failure and to Category C once the
// failure count within the window reaches CategoryAEscalateAfter.
func (e *Executor) RunCategoryA(ctx context.Context, unit inspector.UnitStatus) error {
	logger := log.WithComponent("recovery")

	if unit.StoreManaged {
		logger.Debug().Str("unit", unit.Name).Msg("store-managed unit intentionally stopped, skipping ladder")
		return nil
	}
	if unit.Healthy {
		return nil
	}

	if err := e.st.RecordServiceFailure(ctx, unit.Name, "unhealthy", "unhealthy"); err != nil {
		logger.Warn().Err(err).Msg("failed to record service failure")
	}

	if cooldown, err := e.st.IsInCooldown(ctx, unit.Name, CategoryACooldown); err != nil {
		logger.Warn().Err(err).Msg("failed to check cooldown")
	} else if cooldown {
		logger.Info().Str("unit", unit.Name).Msg("unit in cooldown, skipping recovery")
		return nil
	}

	n, err := e.st.FailuresInWindow(ctx, unit.Name, CategoryAWindow)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read failure window")
	}

	start := time.Now()
	var actionErr error
	switch {
	case n <= 1:
		actionErr = e.control.Start(ctx, unit.Name)
	case n == 2:
		actionErr = e.control.Stop(ctx, unit.Name)
		time.Sleep(2 * time.Second)
		if actionErr == nil {
			actionErr = e.control.Start(ctx, unit.Name)
		}
	default:
		logger.Warn().Str("unit", unit.Name).Int("failures", n).Msg("escalating to category C")
		return e.RunCategoryC(ctx, fmt.Sprintf("unit %s failed %d times", unit.Name, n))
	}

	e.recordAction(ctx, "service_restart", unit.Name, fmt.Sprintf("unhealthy, attempt %d", n), actionErr, start)
	return actionErr
}

// RunCategoryB reacts to resource pressure observed in a telemetry sample,
// each branch independently debounced against its own cooldown window. This
// is purely a resource-threshold ladder (§4.6's table): it never looks at a
// GPU's classified error, which is the separate, error-driven step
// RunGPUErrorRecovery implements for §4.12 step 3.
func (e *Executor) RunCategoryB(ctx context.Context, cpuPercent, ramPercent float64, gpu []gpuhealth.Stats) {
	if cpuPercent > 90 && e.cooldownElapsed(ctx, "llm-service", "llm_cache_clear", DebounceCPU) {
		start := time.Now()
		err := e.recoverer.ClearCache(ctx)
		e.recordAction(ctx, "llm_cache_clear", "llm-service", fmt.Sprintf("cpu %.1f%% > 90%%", cpuPercent), err, start)
	}

	if ramPercent > 90 && e.cooldownElapsed(ctx, "n8n", "service_restart", DebounceRAM) {
		start := time.Now()
		err := e.control.Stop(ctx, "n8n")
		time.Sleep(2 * time.Second)
		if err == nil {
			err = e.control.Start(ctx, "n8n")
		}
		e.recordAction(ctx, "service_restart", "n8n", fmt.Sprintf("ram %.1f%% > 90%%, restarting broker host to shed caches", ramPercent), err, start)
	}

	for _, g := range gpu {
		name := fmt.Sprintf("gpu-%d", g.Index)

		if g.Utilization > 95 && e.cooldownElapsed(ctx, name, "gpu_session_reset", DebounceGPUUtil) {
			start := time.Now()
			err := e.recoverer.ClearCache(ctx)
			e.recordAction(ctx, "gpu_session_reset", name, fmt.Sprintf("GPU %s utilization %.1f%% > 95%%", name, g.Utilization), err, start)
		}

		if g.Temperature > gpuhealth.TempCriticalC && e.cooldownElapsed(ctx, "llm-service", "service_restart", DebounceTempHot) {
			start := time.Now()
			err := e.control.Stop(ctx, "llm-service")
			e.recordAction(ctx, "service_restart", "llm-service", fmt.Sprintf("GPU %s temperature %.1fC > %.1fC", name, g.Temperature, gpuhealth.TempCriticalC), err, start)
		} else if g.Temperature > gpuhealth.TempWarningC && e.cooldownElapsed(ctx, name, "gpu_throttle", DebounceTempWarm) {
			start := time.Now()
			err := e.recoverer.Throttle(ctx)
			e.recordAction(ctx, "gpu_throttle", name, fmt.Sprintf("GPU %s temperature %.1fC > %.1fC", name, g.Temperature, gpuhealth.TempWarningC), err, start)
		}
	}
}

// RunGPUErrorRecovery implements §4.12 step 3: for every GPU the classifier
// (C2) reported a non-NONE error on, execute the §4.2-recommended recovery
// primitive, each target independently debounced. This runs regardless of
// whether RunCategoryB's raw thresholds also fired this cycle — a CUDA OOM
// well under the 95% utilization or 85C thresholds still needs a response.
func (e *Executor) RunGPUErrorRecovery(ctx context.Context, gpu []gpuhealth.Stats) {
	logger := log.WithComponent("recovery")

	for _, g := range gpu {
		if g.Error == gpuhealth.ErrorNone {
			continue
		}
		name := fmt.Sprintf("gpu-%d", g.Index)
		reason := fmt.Sprintf("GPU %s %s: %s", name, g.Error, gpuErrorMagnitude(g))
		action := gpuhealth.RecommendAction(g.Error, g.Temperature)

		switch action {
		case gpuhealth.ActionRestartLLM, gpuhealth.ActionClearCache:
			if e.cooldownElapsed(ctx, "llm-service", "llm_cache_clear", DebounceGPUUtil) {
				start := time.Now()
				err := e.recoverer.ClearCache(ctx)
				e.recordAction(ctx, "llm_cache_clear", "llm-service", reason, err, start)
			}
		case gpuhealth.ActionStopLLM:
			if e.cooldownElapsed(ctx, "llm-service", "service_restart", DebounceTempHot) {
				start := time.Now()
				err := e.control.Stop(ctx, "llm-service")
				e.recordAction(ctx, "service_restart", "llm-service", reason, err, start)
			}
		case gpuhealth.ActionThrottle:
			if e.cooldownElapsed(ctx, name, "gpu_throttle", DebounceTempWarm) {
				start := time.Now()
				err := e.recoverer.Throttle(ctx)
				e.recordAction(ctx, "gpu_throttle", name, reason, err, start)
			}
		case gpuhealth.ActionResetGPU:
			if e.cooldownElapsed(ctx, name, "gpu_reset", DebounceGPUUtil) {
				start := time.Now()
				err := e.recoverer.ResetGPU(ctx)
				e.recordAction(ctx, "gpu_reset", name, reason, err, start)
			}
		default:
			logger.Warn().Str("gpu", name).Str("error", string(g.Error)).Msg("no recovery mapped for GPU error")
		}
	}
}

// gpuErrorMagnitude renders the numeric reading behind a GPU error so every
// recorded recovery action's reason carries a concrete magnitude, not just
// a label.
func gpuErrorMagnitude(g gpuhealth.Stats) string {
	switch g.Error {
	case gpuhealth.ErrorOOM:
		return fmt.Sprintf("memory used %.0fMB", g.MemoryUsedMB)
	case gpuhealth.ErrorHang:
		return fmt.Sprintf("utilization %.1f%% sustained", g.Utilization)
	case gpuhealth.ErrorThermal:
		return fmt.Sprintf("temperature %.1fC", g.Temperature)
	default:
		return fmt.Sprintf("temperature %.1fC, utilization %.1f%%", g.Temperature, g.Utilization)
	}
}

// RunCategoryC is the gated, system-wide hard reset: globally cooled down
// to once per hour, it hard-restarts every core unit, cleans disk, and
// VACUUMs the database, escalating to Category D if critical events keep
// piling up afterward.
func (e *Executor) RunCategoryC(ctx context.Context, reason string) error {
	logger := log.WithComponent("recovery")

	last, err := e.st.LastActionAt(ctx, "system", "category_c")
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read category C cooldown")
	}
	if last != nil && time.Since(*last) < CategoryCCooldown {
		logger.Info().Str("reason", reason).Msg("category C on cooldown, logging only")
		return e.st.RecordSelfHealingEvent(ctx, store.SelfHealingEvent{
			EventType: "category_c_suppressed", Severity: "WARNING",
			Description: fmt.Sprintf("category C suppressed by hourly cooldown: %s", reason),
		})
	}

	start := time.Now()
	e.recordAction(ctx, "category_c", "system", reason, nil, start)

	if err := e.st.RecordSelfHealingEvent(ctx, store.SelfHealingEvent{
		EventType: "category_c", Severity: "CRITICAL",
		Description: fmt.Sprintf("category C hard reset triggered: %s", reason),
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to record category C event")
	}

	e.hardRestartAll(ctx)
	e.performDiskCleanup(ctx)
	e.performDBVacuum(ctx)

	n, err := e.st.CriticalEventsInWindow(ctx, CategoryCWindow)
	if err == nil && n >= CategoryCThreshold && e.rebootFunc != nil {
		logger.Warn().Int("critical_events", n).Msg("escalating to category D")
		return e.rebootFunc(ctx, fmt.Sprintf("category C did not resolve: %d critical events in window", n))
	}
	return nil
}

// hardRestartAll stops and starts every configured application unit in
// sequence, the most severe restart step short of a host reboot.
func (e *Executor) hardRestartAll(ctx context.Context) {
	logger := log.WithComponent("recovery")
	start := time.Now()
	failed := 0

	for _, unit := range e.units {
		if err := e.control.Stop(ctx, unit); err != nil {
			logger.Error().Err(err).Str("unit", unit).Msg("hard restart: stop failed")
			failed++
			continue
		}
		time.Sleep(time.Second)
		if err := e.control.Start(ctx, unit); err != nil {
			logger.Error().Err(err).Str("unit", unit).Msg("hard restart: start failed")
			failed++
		}
	}

	var actionErr error
	if failed > 0 {
		actionErr = fmt.Errorf("%d of %d units failed to hard restart", failed, len(e.units))
	}
	e.recordAction(ctx, "service_restart", "all-applications", "category C hard restart", actionErr, start)
}

// CleanDisk runs the disk cleanup step on its own, for the disk-usage tiers
// that warrant reclaiming space without the rest of Category C's hard
// restart-everything response.
func (e *Executor) CleanDisk(ctx context.Context) {
	e.performDiskCleanup(ctx)
}

// performDiskCleanup removes logs older than 7 days from the fixed log
// directory and prunes unused container images, then runs the stored
// metrics-retention cleanup procedure. The log path is never taken from a
// variable the caller controls.
func (e *Executor) performDiskCleanup(ctx context.Context) {
	logger := log.WithComponent("recovery")
	start := time.Now()
	var firstErr error

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := exec.CommandContext(cctx, "find", logDirectory, "-name", "*.log.*", "-mtime", "+7", "-delete").Run(); err != nil {
		logger.Warn().Err(err).Msg("log cleanup failed")
		firstErr = err
	}
	cancel()

	if e.pruner != nil {
		if err := e.pruner.PruneUnusedImages(ctx); err != nil {
			logger.Warn().Err(err).Msg("image prune failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if _, err := e.st.Pool.Exec(ctx, `SELECT cleanup_old_metrics($1)`, store.PGInterval(30*24*time.Hour)); err != nil {
		logger.Warn().Err(err).Msg("metrics cleanup failed")
		if firstErr == nil {
			firstErr = err
		}
	}

	e.recordAction(ctx, "disk_cleanup", "system", "category C disk cleanup", firstErr, start)
}

// performDBVacuum runs VACUUM ANALYZE over the pool. VACUUM cannot run
// inside a transaction block; a plain Exec against the pool is fine since
// pgx never wraps a single statement in an implicit transaction.
func (e *Executor) performDBVacuum(ctx context.Context) {
	start := time.Now()
	_, err := e.st.Pool.Exec(ctx, "VACUUM ANALYZE;")
	e.recordAction(ctx, "db_vacuum", "postgres-db", "category C database vacuum", err, start)
}

func (e *Executor) cooldownElapsed(ctx context.Context, service, actionType string, window time.Duration) bool {
	last, err := e.st.LastActionAt(ctx, service, actionType)
	if err != nil || last == nil {
		return true
	}
	return time.Since(*last) >= window
}

func (e *Executor) recordAction(ctx context.Context, actionType, service, reason string, actionErr error, start time.Time) {
	logger := log.WithComponent("recovery")
	metrics.RecoveryActionsTotal.WithLabelValues(actionType, service).Inc()
	msg := ""
	if actionErr != nil {
		msg = actionErr.Error()
	}
	if err := e.st.RecordRecoveryAction(ctx, store.RecoveryAction{
		ActionType:   actionType,
		ServiceName:  service,
		Reason:       reason,
		Success:      actionErr == nil,
		DurationMS:   time.Since(start).Milliseconds(),
		ErrorMessage: msg,
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to record recovery action")
	}
}
