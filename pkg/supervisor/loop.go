package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/aegis/pkg/inspector"
	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/notify"
	"github.com/cuemby/aegis/pkg/reboot"
	"github.com/cuemby/aegis/pkg/recovery"
	"github.com/cuemby/aegis/pkg/store"
	"github.com/cuemby/aegis/pkg/telemetry"
)

// DiskTiers mirrors the four escalating disk-usage thresholds the original
// checks in descending order every cycle.
type DiskTiers struct {
	WarningPercent  float64
	CleanupPercent  float64
	CriticalPercent float64
	RebootPercent   float64
}

// PeriodicCleanupEvery matches the original's "every 100 cycles" ledger
// trim cadence (roughly 16 minutes at the default 10s interval).
const PeriodicCleanupEvery = 100

// LedgerRetention is how far back RecordServiceFailure/RecoveryAction/
// SelfHealingEvent rows are kept before the periodic trim deletes them.
const LedgerRetention = 30 * 24 * time.Hour

// Loop drives the appliance's check-and-heal cycle: inspect every managed
// unit, react to unhealthy ones, react to resource pressure, watch disk
// space, and periodically trim the ledger tables the whole system reads
// its escalation decisions from.
type Loop struct {
	st        *store.Store
	insp      *inspector.Inspector
	exec      *recovery.Executor
	sampler   *telemetry.Sampler
	gate      *reboot.Gate
	notifier  *notify.Notifier
	heartbeat *Heartbeat

	enabled  bool
	interval time.Duration
	disk     DiskTiers

	metricsDownSince time.Time
	lastAction       string
	cycleCount       int64
}

func NewLoop(st *store.Store, insp *inspector.Inspector, exec *recovery.Executor, sampler *telemetry.Sampler, gate *reboot.Gate, notifier *notify.Notifier, heartbeat *Heartbeat, enabled bool, interval time.Duration, disk DiskTiers) *Loop {
	return &Loop{
		st: st, insp: insp, exec: exec, sampler: sampler, gate: gate, notifier: notifier, heartbeat: heartbeat,
		enabled: enabled, interval: interval, disk: disk,
	}
}

// Run blocks until ctx is cancelled, executing one cycle per tick. A panic
// or error inside a single cycle never stops the loop, matching the
// original's outer try/except around the whole cycle body.
func (l *Loop) Run(ctx context.Context) {
	logger := log.WithComponent("supervisor")
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	logger.Info().Bool("enabled", l.enabled).Dur("interval", l.interval).Msg("self-healing loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Int64("cycles", l.cycleCount).Msg("self-healing loop stopped")
			return
		case <-ticker.C:
			l.safeCycle(ctx)
		}
	}
}

func (l *Loop) safeCycle(ctx context.Context) {
	logger := log.WithComponent("supervisor")
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("recovered from panic in healing cycle")
		}
	}()

	if err := l.heartbeat.Write(l.lastAction); err != nil {
		logger.Warn().Err(err).Msg("failed to update heartbeat")
	}

	if !l.enabled {
		logger.Debug().Msg("healing cycle skipped (disabled)")
		return
	}

	if err := l.runCycle(ctx); err != nil {
		logger.Error().Err(err).Msg("error in healing cycle")
	}
	l.cycleCount++

	if l.cycleCount%PeriodicCleanupEvery == 0 && l.cycleCount > 0 {
		logger.Info().Int64("cycles", l.cycleCount).Msg("running periodic ledger cleanup")
		if err := l.st.TrimOldEvents(ctx, LedgerRetention); err != nil {
			logger.Warn().Err(err).Msg("periodic ledger cleanup failed")
		}
	}
}

func (l *Loop) runCycle(ctx context.Context) error {
	logger := log.WithComponent("supervisor")

	sample := l.sampler.Latest()
	if sample.CollectedAt.IsZero() {
		if l.metricsDownSince.IsZero() {
			l.metricsDownSince = time.Now()
			logger.Warn().Msg("telemetry collection not yet available")
		}
	} else if !l.metricsDownSince.IsZero() {
		logger.Info().Msg("telemetry collection recovered")
		l.metricsDownSince = time.Time{}
	}

	if !sample.CollectedAt.IsZero() {
		l.exec.RunGPUErrorRecovery(ctx, sample.GPU)
	}

	l.checkDiskUsage(ctx, sample.DiskPercent)

	units, err := l.insp.Inspect(ctx)
	if err != nil {
		return fmt.Errorf("inspect units: %w", err)
	}

	for _, unit := range units {
		if unit.Name == "aegis-supervisor" || unit.StoreManaged {
			continue
		}
		if !unit.Healthy {
			if err := l.exec.RunCategoryA(ctx, unit); err != nil {
				logger.Warn().Err(err).Str("unit", unit.Name).Msg("category A recovery failed")
				l.lastAction = fmt.Sprintf("category A recovery failed for %s", unit.Name)
			} else {
				l.lastAction = fmt.Sprintf("restarted %s", unit.Name)
			}
		}
	}

	if !sample.CollectedAt.IsZero() {
		l.exec.RunCategoryB(ctx, sample.CPUPercent, sample.RAMPercent, sample.GPU)
	}

	return nil
}

// checkDiskUsage implements the same four-tier ladder as the original: a
// critical tier triggers cleanup and logs a CRITICAL event, the reboot
// tier escalates straight to the gated Category D path.
func (l *Loop) checkDiskUsage(ctx context.Context, percent float64) {
	logger := log.WithComponent("supervisor")

	switch {
	case percent >= l.disk.RebootPercent:
		logger.Error().Float64("percent", percent).Msg("disk usage critical for reboot")
		if err := l.gate.Reboot(ctx, fmt.Sprintf("disk usage at %.1f%%", percent), percent, map[string]any{"disk_percent": percent}); err != nil {
			logger.Error().Err(err).Msg("reboot attempt failed")
		}
		l.notifyIfEnabled("disk_reboot", "EMERGENCY", fmt.Sprintf("disk usage at %.1f%%, reboot requested", percent), "")
	case percent >= l.disk.CriticalPercent:
		logger.Error().Float64("percent", percent).Msg("disk usage critical")
		if err := l.st.RecordSelfHealingEvent(ctx, store.SelfHealingEvent{
			EventType: "disk_critical", Severity: "CRITICAL",
			Description: fmt.Sprintf("disk usage at %.1f%%", percent), ActionTaken: "performing emergency cleanup",
		}); err != nil {
			logger.Warn().Err(err).Msg("failed to record disk critical event")
		}
		l.notifyIfEnabled("disk_critical", "CRITICAL", fmt.Sprintf("disk usage at %.1f%%", percent), "")
		l.exec.CleanDisk(ctx)
		l.lastAction = "disk cleanup (critical)"
	case percent >= l.disk.CleanupPercent:
		logger.Warn().Float64("percent", percent).Msg("disk usage high, starting cleanup")
		l.exec.CleanDisk(ctx)
		l.lastAction = "disk cleanup (high usage)"
	case percent >= l.disk.WarningPercent:
		logger.Warn().Float64("percent", percent).Msg("disk usage warning")
	}
}

func (l *Loop) notifyIfEnabled(eventType, severity, description, unit string) {
	if l.notifier != nil && l.notifier.Enabled() {
		l.notifier.SelfHealingEvent(eventType, severity, description, unit)
	}
}
