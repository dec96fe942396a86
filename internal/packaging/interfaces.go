package packaging

import (
	"context"

	"github.com/ollama-lan/ollama-lan/internal/fetch"
)

// SystemdController abstracts systemd service management for testability.
// service is a unit name with or without the ".service" suffix.
type SystemdController interface {
	// IsAvailable returns true if systemd is the running service manager.
	IsAvailable() bool

	// DaemonReload reloads unit files.
	DaemonReload(ctx context.Context) error

	// Enable enables the named service to start on boot.
	Enable(ctx context.Context, service string) error

	// Disable disables the named service from starting on boot.
	Disable(ctx context.Context, service string) error

	// Restart starts the named service, restarting it if it is already running.
	Restart(ctx context.Context, service string) error

	// Stop stops the named service.
	Stop(ctx context.Context, service string) error

	// Kill sends SIGKILL to every process of the named service.
	Kill(ctx context.Context, service string) error

	// ResetFailed clears the failed state of the named service.
	ResetFailed(ctx context.Context, service string) error

	// IsActive returns true if the named service is currently running.
	IsActive(ctx context.Context, service string) bool

	// IsEnabled returns true if the named service starts on boot.
	IsEnabled(ctx context.Context, service string) bool
}

// RootChecker abstracts privilege checking for testability.
type RootChecker interface {
	// IsRoot returns true if the current process has root privileges.
	IsRoot() bool
}

// SourceFetcher retrieves and validates a source tree.
type SourceFetcher interface {
	Fetch(ctx context.Context, ref fetch.Reference) (*fetch.Source, error)
}

// CommandRunner runs a command as the runtime user.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// ProcessKiller terminates processes whose command line contains a needle.
type ProcessKiller interface {
	// KillMatching sends SIGKILL to matching processes and returns how many were signalled.
	KillMatching(ctx context.Context, needle string) (int, error)
}

// UpstreamProber checks that the model-serving API answers.
type UpstreamProber interface {
	Probe(ctx context.Context) error
}
