package packaging

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/coreos/go-systemd/v22/util"
)

var (
	// ErrUnitNotFound is returned when the service manager does not know the unit.
	ErrUnitNotFound = errors.New("packaging: unit not loaded")

	// ErrNotRunning is returned when the unit has no process to act on.
	ErrNotRunning = errors.New("packaging: unit not running")
)

// notFoundMarkers and notRunningMarkers are substrings of systemctl and
// D-Bus error messages meaning the desired state already holds.
var (
	notFoundMarkers = []string{
		"not loaded",
		"does not exist",
		"not found",
		"NoSuchUnit",
		"No such file or directory",
	}
	notRunningMarkers = []string{
		"No main process",
		"not active",
		"NotActive",
		"no processes",
	}
)

// classifyManagerError wraps err with ErrUnitNotFound or ErrNotRunning when
// msg carries one of the known markers.
func classifyManagerError(msg string, err error) error {
	for _, m := range notFoundMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", ErrUnitNotFound, err)
		}
	}
	for _, m := range notRunningMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", ErrNotRunning, err)
		}
	}
	return err
}

// realSystemdController implements SystemdController using os/exec to call systemctl.
type realSystemdController struct{}

// NewSystemdController returns a SystemdController that calls the real systemctl binary.
func NewSystemdController() SystemdController {
	return &realSystemdController{}
}

func (c *realSystemdController) IsAvailable() bool {
	if _, err := exec.LookPath("systemctl"); err != nil {
		return false
	}
	return util.IsRunningSystemd()
}

func (c *realSystemdController) DaemonReload(ctx context.Context) error {
	return c.run(ctx, "daemon-reload")
}

func (c *realSystemdController) Enable(ctx context.Context, service string) error {
	return c.run(ctx, "enable", unitName(service))
}

func (c *realSystemdController) Disable(ctx context.Context, service string) error {
	return c.run(ctx, "disable", unitName(service))
}

func (c *realSystemdController) Restart(ctx context.Context, service string) error {
	return c.run(ctx, "restart", unitName(service))
}

func (c *realSystemdController) Stop(ctx context.Context, service string) error {
	return c.run(ctx, "stop", unitName(service))
}

func (c *realSystemdController) Kill(ctx context.Context, service string) error {
	return c.run(ctx, "kill", "--signal=SIGKILL", unitName(service))
}

func (c *realSystemdController) ResetFailed(ctx context.Context, service string) error {
	return c.run(ctx, "reset-failed", unitName(service))
}

func (c *realSystemdController) IsActive(ctx context.Context, service string) bool {
	err := exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", unitName(service)).Run()
	return err == nil
}

func (c *realSystemdController) IsEnabled(ctx context.Context, service string) bool {
	err := exec.CommandContext(ctx, "systemctl", "is-enabled", "--quiet", unitName(service)).Run()
	return err == nil
}

func (c *realSystemdController) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "systemctl", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(output))
		return classifyManagerError(msg, fmt.Errorf("packaging: systemctl %s: %s: %w", args[0], msg, err))
	}
	return nil
}
