package packaging

import (
	"fmt"

	"github.com/kballard/go-shellquote"
)

// GenerateLauncher produces the launcher script installed at cfg.LauncherPath.
// It runs the entry point with the virtual environment's interpreter and
// forwards all arguments.
func GenerateLauncher(cfg InstallConfig) string {
	cfg.ApplyDefaults()
	return fmt.Sprintf(`#!/bin/sh
# ollama-lan launcher
exec %s "$@"
`, shellquote.Join(cfg.VenvPython(), cfg.EntryPointPath()))
}

// ManualCommand returns the shell command an operator runs to start the
// service by hand when no service manager is available.
func ManualCommand(cfg InstallConfig) string {
	cfg.ApplyDefaults()
	args := ExecStartArgs(cfg)
	return shellquote.Join(append([]string{cfg.LauncherPath}, args[2:]...)...)
}
