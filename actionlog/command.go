package actionlog

import (
	"context"
	"fmt"
	"os/exec"
)

// RunCommand runs a shell command and relays its output line by line into
// the current execution's log. Stdout lines are indented two spaces,
// stderr lines are tagged "[stderr]". A non-zero exit is echoed and
// returned as the error; output already relayed is not repeated.
func RunCommand(ctx context.Context, command string) error {
	Printf(ctx, "$ %s", command)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	stdout := NewWriter(ctx, LevelInfo, "  ")
	stderr := NewWriter(ctx, LevelInfo, "  [stderr] ")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			Errorf(ctx, "✗ Command failed with exit code %d", exitErr.ExitCode())
			return fmt.Errorf("command %q failed with exit code %d", command, exitErr.ExitCode())
		}
		Errorf(ctx, "✗ Command failed: %v", err)
		return fmt.Errorf("command %q: %w", command, err)
	}
	return nil
}
