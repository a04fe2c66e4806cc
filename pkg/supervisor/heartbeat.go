// Package supervisor runs the appliance's self-healing control loop: a
// heartbeat file the process refreshes every cycle, an HTTP server exposing
// that heartbeat as liveness and Prometheus metrics, and the cycle itself
// that inspects every managed unit and drives the recovery ladder.
package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MaxHeartbeatAge is how stale a heartbeat can get before /health reports
// unhealthy.
const MaxHeartbeatAge = 60 * time.Second

// DegradedAfter is the age at which a still-fresh heartbeat is reported
// degraded rather than healthy: twice the expected cycle interval.
const DegradedAfter = 20 * time.Second

// heartbeatRecord is the on-disk JSON shape, matched field for field so an
// operator tailing the file sees the same keys regardless of which process
// wrote it most recently.
type heartbeatRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	CheckCount int64     `json:"check_count"`
	LastAction string    `json:"last_action"`
}

// Heartbeat owns the on-disk heartbeat file and the in-memory cycle
// counter, written once per control-loop iteration.
type Heartbeat struct {
	path       string
	checkCount int64
}

func NewHeartbeat(path string) *Heartbeat {
	return &Heartbeat{path: path}
}

// Write bumps the cycle counter and persists a fresh heartbeat record.
func (h *Heartbeat) Write(lastAction string) error {
	h.checkCount++
	rec := heartbeatRecord{
		Timestamp:  time.Now(),
		CheckCount: h.checkCount,
		LastAction: lastAction,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(h.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create heartbeat directory: %w", err)
		}
	}
	return os.WriteFile(h.path, data, 0o644)
}

// CheckCount returns the number of heartbeats written so far by this
// process instance.
func (h *Heartbeat) CheckCount() int64 {
	return h.checkCount
}

// Status is the JSON body served at /health and /healthz.
type Status struct {
	Healthy               bool     `json:"healthy"`
	State                 string   `json:"status"`
	Reason                string   `json:"reason,omitempty"`
	Timestamp             string   `json:"timestamp"`
	LastHeartbeat         *string  `json:"last_heartbeat"`
	SecondsSinceHeartbeat *float64 `json:"seconds_since_heartbeat"`
	MaxAgeSeconds         *float64 `json:"max_age_seconds,omitempty"`
	CheckCount            *int64   `json:"check_count,omitempty"`
	LastAction            *string  `json:"last_action,omitempty"`
}

// CheckHealth reads the heartbeat file at path and classifies it exactly
// the way the original standalone health-check server does: missing file,
// unparseable file, and a stale timestamp are all unhealthy; a fresh one
// is healthy or degraded depending on how close it is to the expected
// cycle interval.
func CheckHealth(path string) Status {
	now := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return Status{Healthy: false, State: "unhealthy", Reason: "heartbeat file does not exist", Timestamp: now.Format(time.RFC3339)}
	}

	var rec heartbeatRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Status{Healthy: false, State: "unhealthy", Reason: fmt.Sprintf("failed to read heartbeat file: %v", err), Timestamp: now.Format(time.RFC3339)}
	}

	if rec.Timestamp.IsZero() {
		return Status{Healthy: false, State: "unhealthy", Reason: "heartbeat file missing timestamp", Timestamp: now.Format(time.RFC3339)}
	}

	age := now.Sub(rec.Timestamp)
	seconds := age.Seconds()
	lastHeartbeat := rec.Timestamp.Format(time.RFC3339)
	checkCount := rec.CheckCount
	lastAction := rec.LastAction
	maxAge := MaxHeartbeatAge.Seconds()

	if age > MaxHeartbeatAge {
		return Status{
			Healthy: false, State: "unhealthy",
			Reason:                fmt.Sprintf("heartbeat too old: %.1fs > %.0fs", seconds, maxAge),
			Timestamp:             now.Format(time.RFC3339),
			LastHeartbeat:         &lastHeartbeat,
			SecondsSinceHeartbeat: &seconds,
			MaxAgeSeconds:         &maxAge,
			CheckCount:            &checkCount,
		}
	}

	state := "healthy"
	if age >= DegradedAfter {
		state = "degraded"
	}

	return Status{
		Healthy:               true,
		State:                 state,
		Timestamp:             now.Format(time.RFC3339),
		LastHeartbeat:         &lastHeartbeat,
		SecondsSinceHeartbeat: &seconds,
		MaxAgeSeconds:         &maxAge,
		CheckCount:            &checkCount,
		LastAction:            &lastAction,
	}
}
