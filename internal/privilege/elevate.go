package privilege

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const (
	// EnvPrefix marks the environment variables forwarded to the elevated child.
	EnvPrefix = "OLLAMA_LAN_"

	// ElevatedEnvVar is set in the elevated child so it never delegates again.
	ElevatedEnvVar = EnvPrefix + "ELEVATED"
)

// Stdio carries the streams attached to the elevated child.
type Stdio struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ElevatedCommand builds the command that re-executes self under the grant's
// helper. Variables carrying EnvPrefix are passed through env(1) because
// helpers reset the environment by default.
func ElevatedCommand(ctx context.Context, g Grant, self string, args, environ []string) (*exec.Cmd, error) {
	if g.Kind != GrantDelegate {
		return nil, fmt.Errorf("privilege: cannot delegate with grant %s", g.Kind)
	}
	if self == "" {
		return nil, errors.New("privilege: executable path is required")
	}

	argv := []string{"env"}
	argv = append(argv, forwardedEnv(environ)...)
	argv = append(argv, ElevatedEnvVar+"=1", self)
	argv = append(argv, args...)

	return exec.CommandContext(ctx, g.Helper, argv...), nil
}

// Reexec runs self with args under the elevation helper and waits for it.
// The child's exit status becomes the returned error.
func Reexec(ctx context.Context, g Grant, args []string, stdio Stdio) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("privilege: resolve executable path: %w", err)
	}

	cmd, err := ElevatedCommand(ctx, g, self, args, os.Environ())
	if err != nil {
		return err
	}
	cmd.Stdin = stdio.Stdin
	cmd.Stdout = stdio.Stdout
	cmd.Stderr = stdio.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("privilege: elevated run via %s: %w", g.Helper, err)
	}
	return nil
}

func forwardedEnv(environ []string) []string {
	var out []string
	for _, kv := range environ {
		if strings.HasPrefix(kv, ElevatedEnvVar+"=") {
			continue
		}
		if strings.HasPrefix(kv, EnvPrefix) && strings.Contains(kv, "=") {
			out = append(out, kv)
		}
	}
	sort.Strings(out)
	return out
}

// Elevated reports whether this process was started by Reexec.
func Elevated(getenv func(string) string) bool {
	return getenv(ElevatedEnvVar) != ""
}
