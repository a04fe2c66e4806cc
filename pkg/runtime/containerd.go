package runtime

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
)

const (
	// Namespace scopes every container this control plane manages, keeping
	// it isolated from anything else running on the same containerd.
	Namespace = "aegis"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// Manager is a thin containerd client wrapper giving the recovery ladder
// and the service inspector the only two primitives they need against a
// managed unit: stop it, start it again, and reclaim image disk space.
// Containers themselves are provisioned outside this control plane (by the
// appliance's base image or its installer); Manager never creates one.
type Manager struct {
	Client *containerd.Client
}

// NewManager connects to containerd at socketPath (DefaultSocketPath if
// empty).
func NewManager(socketPath string) (*Manager, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}

	return &Manager{Client: client}, nil
}

func (m *Manager) Close() error {
	return m.Client.Close()
}

// Stop sends SIGTERM to the named container's task, waits up to 10s for a
// clean exit, then SIGKILLs and deletes the task. A container with no
// running task is a no-op, matching the original's idempotent stop.
func (m *Manager) Stop(ctx context.Context, name string) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := m.Client.LoadContainer(ctx, name)
	if err != nil {
		return fmt.Errorf("load container %s: %w", name, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal task %s: %w", name, err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("wait on task %s: %w", name, err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("force kill task %s: %w", name, err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("delete task %s: %w", name, err)
	}
	return nil
}

// Start creates a fresh task for the named container and starts it. The
// container object itself (image, spec, mounts) is assumed already present
// from provisioning; Start only re-launches its process.
func (m *Manager) Start(ctx context.Context, name string) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := m.Client.LoadContainer(ctx, name)
	if err != nil {
		return fmt.Errorf("load container %s: %w", name, err)
	}

	if existing, err := container.Task(ctx, nil); err == nil {
		if _, err := existing.Delete(ctx); err != nil {
			return fmt.Errorf("clear stale task for %s: %w", name, err)
		}
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("create task for %s: %w", name, err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("start task for %s: %w", name, err)
	}
	return nil
}

// PruneUnusedImages deletes every image in the namespace that no live
// container currently references, the containerd-backed equivalent of the
// original's docker system/builder prune pair used in Category C cleanup.
func (m *Manager) PruneUnusedImages(ctx context.Context) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	containers, err := m.Client.Containers(ctx)
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	inUse := make(map[string]bool, len(containers))
	for _, c := range containers {
		info, err := c.Info(ctx)
		if err != nil {
			continue
		}
		inUse[info.Image] = true
	}

	images, err := m.Client.ImageService().List(ctx)
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}

	for _, img := range images {
		if inUse[img.Name] {
			continue
		}
		if err := m.Client.ImageService().Delete(ctx, img.Name); err != nil {
			return fmt.Errorf("delete unused image %s: %w", img.Name, err)
		}
	}
	return nil
}
