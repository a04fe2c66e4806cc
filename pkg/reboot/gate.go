// Package reboot implements the safety gate guarding Category D (host
// reboot) and the post-reboot validator that runs after the process comes
// back up.
package reboot

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/store"
)

// UpdateInProgressMarker is the fixed path an update-package installer
// touches while it is running; its presence refuses any reboot attempt.
const UpdateInProgressMarker = "/tmp/update_in_progress"

// MaxRebootsPerHour is the rolling-window loop guard.
const MaxRebootsPerHour = 3

// Gate evaluates whether a reboot may proceed.
type Gate struct {
	st      *store.Store
	enabled bool
}

func NewGate(st *store.Store, enabled bool) *Gate {
	return &Gate{st: st, enabled: enabled}
}

// check returns a non-empty refusal explaining why Reboot must not proceed,
// or waitOnce when recent workflow activity earns a single grace wait.
func (g *Gate) check(ctx context.Context, reason string, diskPercent float64) (refusal string, waitOnce bool) {
	if !g.enabled {
		return "reboot disabled by configuration, logging only", false
	}

	n, err := g.st.CompletedRebootsInWindow(ctx, time.Hour)
	if err == nil && n >= MaxRebootsPerHour {
		return fmt.Sprintf("reboot loop guard: %d reboots already completed in the last hour", n), false
	}

	if err := g.st.Pool.Ping(ctx); err != nil {
		return fmt.Sprintf("database unreachable: %v", err), false
	}

	if _, err := os.Stat(UpdateInProgressMarker); err == nil {
		return "update package installation in progress", false
	}

	if diskPercent >= 98 && !strings.Contains(strings.ToLower(reason), "disk") {
		return fmt.Sprintf("disk at %.1f%% and reason is not disk-related", diskPercent), false
	}

	// A "running" workflow-activity row in the last 5 minutes earns one
	// 30s grace wait, not an outright refusal, since it usually finishes
	// quickly.
	if n, err := g.st.CountRunningWorkflowActivity(ctx, 5*time.Minute); err == nil && n > 0 {
		return "", true
	}

	return "", false
}

// waitForWorkflows sleeps out the one-time 30s grace period check grants
// for active workflow automation. Nothing is re-checked afterwards: the
// reboot then proceeds, since the original treats the wait as advisory,
// not a second refusal point.
func (g *Gate) waitForWorkflows(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return nil
	}
}

// Reboot runs the full gate, and if it passes, snapshots pre-reboot state,
// waits a short grace period, and reboots the host. If the gate refuses, it
// logs the refusal as a CRITICAL self-healing event and the system
// continues running.
func (g *Gate) Reboot(ctx context.Context, reason string, diskPercent float64, preState map[string]any) error {
	logger := log.WithComponent("reboot")

	refusal, waitOnce := g.check(ctx, reason, diskPercent)
	if waitOnce {
		logger.Warn().Msg("active workflows detected, waiting 30s before reboot")
		if err := g.waitForWorkflows(ctx); err != nil {
			return err
		}
	}
	if refusal != "" {
		logger.Warn().Str("reason", refusal).Msg("reboot refused")
		return g.st.RecordSelfHealingEvent(ctx, store.SelfHealingEvent{
			EventType: "reboot_refused", Severity: "CRITICAL",
			Description: fmt.Sprintf("reboot requested (%s) but refused: %s", reason, refusal),
		})
	}

	id, err := g.st.CreateRebootEvent(ctx, reason, preState)
	if err != nil {
		return fmt.Errorf("create reboot event: %w", err)
	}
	logger.Warn().Int64("reboot_event_id", id).Str("reason", reason).Msg("rebooting host")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
	}

	return rebootHost(ctx)
}
