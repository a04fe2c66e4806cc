// Package inspector enumerates the appliance's managed service units and
// reports their running/health state, adapting the teacher's pluggable
// health.Checker interface from cluster-task probing to single-host
// container inspection via containerd.
package inspector

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"

	"github.com/cuemby/aegis/pkg/health"
	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/runtime"
	"github.com/cuemby/aegis/pkg/store"
)

// UnitStatus is the observed condition of one managed container.
type UnitStatus struct {
	Name        string
	Present     bool
	Running     bool
	Healthy     bool
	StoreManaged bool
	Message     string
}

// Inspector enumerates the fixed set of core units the supervisor watches
// plus any store-installed apps, classifying each as eligible for the
// recovery ladder or intentionally stopped.
type Inspector struct {
	client *containerd.Client
	st     *store.Store
	units  []string
}

// CriticalUnits are the always-present services the post-reboot validator
// and the recovery ladder both depend on being healthy.
var CriticalUnits = []string{
	"postgres-db", "metrics-collector", "llm-service", "dashboard-backend", "minio", "n8n",
}

// healthCommands gives each known unit its own in-container probe, matching
// §4.5's "health is taken from the unit's own health-probe result if
// present". A unit with no entry here has no health signal of its own, so
// probe() reports Healthy based on task state alone ("unknown" treated as
// not-unhealthy, per spec, rather than guessed at).
var healthCommands = map[string][]string{
	"postgres-db":       {"pg_isready", "-U", "aegis"},
	"llm-service":       {"curl", "-fsS", "http://localhost:8001/health"},
	"metrics-collector": {"curl", "-fsS", "http://localhost:8000/health"},
	"dashboard-backend": {"curl", "-fsS", "http://localhost:3000/api/health"},
	"minio":             {"curl", "-fsS", "http://localhost:9000/minio/health/live"},
	"n8n":               {"curl", "-fsS", "http://localhost:5678/healthz"},
}

func New(client *containerd.Client, st *store.Store, units []string) *Inspector {
	if units == nil {
		units = CriticalUnits
	}
	return &Inspector{client: client, st: st, units: units}
}

// Inspect returns the status of every watched unit. A unit recorded in
// app_installations with status "installed" is reported StoreManaged and
// skipped by the recovery ladder even if it is not running, since that
// reflects a deliberate operator action, not a failure.
func (i *Inspector) Inspect(ctx context.Context) ([]UnitStatus, error) {
	logger := log.WithComponent("inspector")
	out := make([]UnitStatus, 0, len(i.units))

	for _, name := range i.units {
		st := UnitStatus{Name: name}

		stopped, err := i.st.IsStoreAppIntentionallyStopped(ctx, name)
		if err != nil {
			logger.Warn().Err(err).Str("unit", name).Msg("app_installations lookup failed")
		}
		st.StoreManaged = stopped

		running, healthy, msg := i.probe(ctx, name)
		st.Present = true
		st.Running = running
		st.Healthy = healthy
		st.Message = msg

		out = append(out, st)
	}
	return out, nil
}

// probe checks container task state via containerd and, when a health
// command is configured for the unit, runs it through health.ExecChecker.
func (i *Inspector) probe(ctx context.Context, containerName string) (running, healthy bool, message string) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cctx = namespaces.WithNamespace(cctx, runtime.Namespace)

	container, err := i.client.LoadContainer(cctx, containerName)
	if err != nil {
		return false, false, fmt.Sprintf("container not found: %v", err)
	}

	task, err := container.Task(cctx, nil)
	if err != nil {
		return false, false, fmt.Sprintf("no task: %v", err)
	}

	status, err := task.Status(cctx)
	if err != nil {
		return false, false, fmt.Sprintf("status error: %v", err)
	}

	running = status.Status == containerd.Running
	if !running {
		return false, false, fmt.Sprintf("task status: %s", status.Status)
	}

	cmd, ok := healthCommands[containerName]
	if !ok {
		return true, true, "running, no health probe configured"
	}

	checker := health.NewExecChecker(cmd).WithContainer(containerName)
	checker.Client = i.client
	result := checker.Check(cctx)
	return true, result.Healthy, result.Message
}
