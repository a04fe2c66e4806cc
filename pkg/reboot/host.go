package reboot

import (
	"context"
	"os/exec"
)

// rebootHost invokes the host's reboot command. Isolated in its own file so
// tests can substitute a fake without touching gate.go's decision logic.
var rebootHost = func(ctx context.Context) error {
	return exec.CommandContext(ctx, "systemctl", "reboot").Run()
}
