package health

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/google/uuid"
)

// ExecChecker performs exec-based health checks by running a command
type ExecChecker struct {
	// Command is the command to execute (e.g., ["pg_isready", "-U", "postgres"])
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration

	// ContainerID is the ID of the container to exec into
	// If empty, runs on host (useful for testing)
	ContainerID string

	// Client is the containerd client used to exec into ContainerID. Nil
	// with a non-empty ContainerID is a configuration error, not a silent
	// host fallback.
	Client *containerd.Client

	// Namespace is the containerd namespace ContainerID lives in; defaults
	// to "aegis" when empty.
	Namespace string
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
	}
}

// Check performs the exec health check
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	// Create context with timeout
	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	if e.ContainerID != "" {
		if e.Client == nil {
			return Result{
				Healthy:   false,
				Message:   "exec checker targets a container but has no containerd client",
				CheckedAt: start,
				Duration:  time.Since(start),
			}
		}
		healthy, message := e.execInContainer(execCtx)
		return Result{Healthy: healthy, Message: message, CheckedAt: start, Duration: time.Since(start)}
	}

	// Execute on host (for testing)
	cmd := exec.CommandContext(execCtx, e.Command[0], e.Command[1:]...)

	// Capture output
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Execute command
	err := cmd.Run()

	// Build result message
	message := fmt.Sprintf("Command: %v", e.Command)
	if err != nil {
		// Command failed
		message = fmt.Sprintf("%s, Error: %v", message, err)
		if stderr.Len() > 0 {
			message = fmt.Sprintf("%s, Stderr: %s", message, stderr.String())
		}

		return Result{
			Healthy:   false,
			Message:   message,
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	// Command succeeded (exit code 0)
	if stdout.Len() > 0 {
		// Include output in message (truncated if too long)
		output := stdout.String()
		if len(output) > 100 {
			output = output[:100] + "..."
		}
		message = fmt.Sprintf("%s, Output: %s", message, output)
	}

	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// execInContainer runs Command inside the container's own namespaces via a
// fresh containerd exec process attached to the container's running task,
// the real equivalent of `docker exec` / `containerd.task.Exec`.
func (e *ExecChecker) execInContainer(ctx context.Context) (healthy bool, message string) {
	ns := e.Namespace
	if ns == "" {
		ns = "aegis"
	}
	ctx = namespaces.WithNamespace(ctx, ns)

	container, err := e.Client.LoadContainer(ctx, e.ContainerID)
	if err != nil {
		return false, fmt.Sprintf("load container: %v", err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return false, fmt.Sprintf("load task: %v", err)
	}

	spec, err := container.Spec(ctx)
	if err != nil {
		return false, fmt.Sprintf("load container spec: %v", err)
	}
	pspec := *spec.Process
	pspec.Args = e.Command
	pspec.Terminal = false

	var stdout, stderr bytes.Buffer
	execID := "healthcheck-" + uuid.NewString()
	process, err := task.Exec(ctx, execID, &pspec, cio.NewCreator(cio.WithStreams(nil, &stdout, &stderr)))
	if err != nil {
		return false, fmt.Sprintf("create exec process: %v", err)
	}
	defer process.Delete(ctx, containerd.WithProcessKill)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return false, fmt.Sprintf("wait on exec process: %v", err)
	}
	if err := process.Start(ctx); err != nil {
		return false, fmt.Sprintf("start exec process: %v", err)
	}

	select {
	case status := <-statusC:
		code := status.ExitCode()
		if code != 0 {
			msg := fmt.Sprintf("exit code %d", code)
			if stderr.Len() > 0 {
				msg = fmt.Sprintf("%s: %s", msg, strings.TrimSpace(stderr.String()))
			}
			return false, msg
		}
		return true, strings.TrimSpace(stdout.String())
	case <-ctx.Done():
		return false, "exec health check timed out"
	}
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithContainer sets the container ID for exec
func (e *ExecChecker) WithContainer(containerID string) *ExecChecker {
	e.ContainerID = containerID
	return e
}
