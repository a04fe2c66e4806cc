package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// RecordServiceFailure appends an observed failure to the append-only
// service_failures ledger. Rows are never updated or deleted; every
// escalation decision is made by counting rows in a time window, not by
// tracking in-memory state, so decisions survive a process restart.
func (s *Store) RecordServiceFailure(ctx context.Context, serviceName, failureType, healthStatus string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO service_failures (service_name, failure_type, health_status) VALUES ($1,$2,$3)
	`, serviceName, failureType, healthStatus)
	return err
}

// FailuresInWindow counts failures for a service within the trailing
// window, the basis for the Category A/B ladder's escalation thresholds.
func (s *Store) FailuresInWindow(ctx context.Context, serviceName string, window time.Duration) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `
		SELECT count(*) FROM service_failures WHERE service_name = $1 AND "timestamp" > now() - $2::interval
	`, serviceName, PGInterval(window)).Scan(&n)
	return n, err
}

type RecoveryAction struct {
	ActionType   string
	ServiceName  string
	Reason       string
	Success      bool
	DurationMS   int64
	ErrorMessage string
	Metadata     map[string]any
	Timestamp    time.Time
}

func (s *Store) RecordRecoveryAction(ctx context.Context, a RecoveryAction) error {
	meta := a.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO recovery_actions (action_type, service_name, reason, success, duration_ms, error_message, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, a.ActionType, a.ServiceName, a.Reason, a.Success, a.DurationMS, nullIfEmpty(a.ErrorMessage), metaJSON)
	return err
}

// LastActionAt returns the timestamp of the most recent recovery action of
// a given type against a service, used to enforce per-action-type cooldowns
// (e.g. 5 minutes between gpu_session_reset attempts) by comparing ledger
// timestamps rather than an in-memory debounce map.
func (s *Store) LastActionAt(ctx context.Context, serviceName, actionType string) (*time.Time, error) {
	var ts time.Time
	err := s.Pool.QueryRow(ctx, `
		SELECT "timestamp" FROM recovery_actions
		WHERE service_name = $1 AND action_type = $2
		ORDER BY "timestamp" DESC LIMIT 1
	`, serviceName, actionType).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ts, nil
}

// IsInCooldown reports whether a successful recovery action against service
// completed within the trailing window, mirroring the original's
// is_in_cooldown/is_service_in_cooldown check: Category A consults this
// right after recording a failure, before deciding whether to restart.
func (s *Store) IsInCooldown(ctx context.Context, serviceName string, window time.Duration) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM recovery_actions
			WHERE service_name = $1 AND success = true AND "timestamp" > now() - $2::interval
		)
	`, serviceName, PGInterval(window)).Scan(&exists)
	return exists, err
}

// CompletedRebootsInWindow is the reboot-loop guard: at most 3 completed
// reboots per rolling hour, checked before Category D is ever attempted.
func (s *Store) CompletedRebootsInWindow(ctx context.Context, window time.Duration) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `
		SELECT count(*) FROM reboot_events WHERE reboot_completed = true AND "timestamp" > now() - $1::interval
	`, PGInterval(window)).Scan(&n)
	return n, err
}

type SelfHealingEvent struct {
	EventType   string
	Severity    string
	Description string
	ActionTaken string
	ServiceName string
	Success     *bool
	Timestamp   time.Time
}

func (s *Store) RecordSelfHealingEvent(ctx context.Context, e SelfHealingEvent) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO self_healing_events (event_type, severity, description, action_taken, service_name, success)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.EventType, e.Severity, e.Description, nullIfEmpty(e.ActionTaken), nullIfEmpty(e.ServiceName), e.Success)
	return err
}

// CriticalEventsInWindow counts CRITICAL/EMERGENCY events in the trailing
// window, the trigger for escalating from Category C to Category D.
func (s *Store) CriticalEventsInWindow(ctx context.Context, window time.Duration) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `
		SELECT count(*) FROM self_healing_events
		WHERE severity IN ('CRITICAL', 'EMERGENCY') AND "timestamp" > now() - $1::interval
	`, PGInterval(window)).Scan(&n)
	return n, err
}

// TrimOldEvents deletes ledger rows older than the retention window; called
// periodically (every 100 supervisor cycles) rather than on every write.
func (s *Store) TrimOldEvents(ctx context.Context, olderThan time.Duration) error {
	tables := []string{"service_failures", "recovery_actions", "self_healing_events"}
	for _, t := range tables {
		if _, err := s.Pool.Exec(ctx, `DELETE FROM `+t+` WHERE "timestamp" < now() - $1::interval`, PGInterval(olderThan)); err != nil {
			return err
		}
	}
	return nil
}

type RebootEvent struct {
	ID                int64
	Reason            string
	PreState          map[string]any
	PostState         map[string]any
	RebootCompleted   bool
	ValidationPassed  *bool
	Timestamp         time.Time
}

func (s *Store) CreateRebootEvent(ctx context.Context, reason string, preState map[string]any) (int64, error) {
	preJSON, err := json.Marshal(preState)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.Pool.QueryRow(ctx, `
		INSERT INTO reboot_events (reason, pre_state) VALUES ($1, $2) RETURNING id
	`, reason, preJSON).Scan(&id)
	return id, err
}

// GetPendingRebootEvent finds the most recent reboot row not yet marked
// completed; the post-reboot validator uses this to know which row to
// update after the process restarts following a reboot.
func (s *Store) GetPendingRebootEvent(ctx context.Context) (*RebootEvent, error) {
	var e RebootEvent
	var preJSON, postJSON []byte
	err := s.Pool.QueryRow(ctx, `
		SELECT id, reason, pre_state, post_state, reboot_completed, validation_passed, "timestamp"
		FROM reboot_events WHERE reboot_completed = false
		ORDER BY "timestamp" DESC LIMIT 1
	`).Scan(&e.ID, &e.Reason, &preJSON, &postJSON, &e.RebootCompleted, &e.ValidationPassed, &e.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal(preJSON, &e.PreState)
	_ = json.Unmarshal(postJSON, &e.PostState)
	return &e, nil
}

func (s *Store) CompleteRebootEvent(ctx context.Context, id int64, validationPassed bool, postState map[string]any) error {
	postJSON, err := json.Marshal(postState)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		UPDATE reboot_events SET reboot_completed = true, validation_passed = $1, post_state = $2 WHERE id = $3
	`, validationPassed, postJSON, id)
	return err
}

// CountRunningWorkflowActivity counts workflow_activity rows marked
// "running" within the trailing window, the basis for the reboot gate's
// one-time grace wait for in-flight automation.
func (s *Store) CountRunningWorkflowActivity(ctx context.Context, window time.Duration) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `
		SELECT count(*) FROM workflow_activity WHERE status = 'running' AND "timestamp" > now() - $1::interval
	`, PGInterval(window)).Scan(&n)
	return n, err
}

// IsStoreAppIntentionallyStopped looks up a container/app by name in the
// app_installations table. status == "installed" means the operator
// deliberately stopped it through the app store and it must be skipped by
// the recovery ladder; "running" or a missing row means it is eligible.
func (s *Store) IsStoreAppIntentionallyStopped(ctx context.Context, containerName string) (bool, error) {
	var status string
	err := s.Pool.QueryRow(ctx, `
		SELECT status FROM app_installations WHERE container_name = $1 OR app_id = $1
	`, containerName).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return status == "installed", nil
}
