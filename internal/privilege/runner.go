package privilege

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// waitDelayAfterKill bounds how long a cancelled child may linger.
const waitDelayAfterKill = 500 * time.Millisecond

// maxErrorOutput caps the command output quoted in an error message.
const maxErrorOutput = 4096

// Runner runs a command under one fixed identity.
type Runner interface {
	// Run executes name with args in dir and waits for it to finish.
	// A non-zero exit is returned as an error carrying the command's output.
	Run(ctx context.Context, dir, name string, args ...string) error
}

// DirectRunner runs commands as the current process identity.
type DirectRunner struct{}

// Run implements Runner.
func (DirectRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return run(cmd)
}

// CredentialRunner drops privileges to Target before running each command.
// The calling process must be root.
type CredentialRunner struct {
	Target Identity
}

// Run implements Runner.
func (r CredentialRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid: uint32(r.Target.UID),
			Gid: uint32(r.Target.GID),
		},
	}
	cmd.Env = r.env(os.Environ())
	return run(cmd)
}

// env replaces identity-bearing variables so tools such as pip resolve
// caches under the target's home rather than root's.
func (r CredentialRunner) env(environ []string) []string {
	out := make([]string, 0, len(environ)+3)
	for _, kv := range environ {
		switch {
		case strings.HasPrefix(kv, "HOME="), strings.HasPrefix(kv, "USER="), strings.HasPrefix(kv, "LOGNAME="):
			continue
		}
		out = append(out, kv)
	}
	home := r.Target.Home
	if home == "" {
		home = "/"
	}
	return append(out, "HOME="+home, "USER="+r.Target.User, "LOGNAME="+r.Target.User)
}

// RunnerFor selects the Runner for target. Privileges are dropped only when
// the current process is root and target is not.
func RunnerFor(currentIsRoot bool, target Identity) Runner {
	if currentIsRoot && !target.IsRoot() {
		return CredentialRunner{Target: target}
	}
	return DirectRunner{}
}

func run(cmd *exec.Cmd) error {
	cmd.WaitDelay = waitDelayAfterKill
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("privilege: run %s: %s: %w", strings.Join(cmd.Args, " "), tail(out.String()), err)
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorOutput {
		s = "..." + s[len(s)-maxErrorOutput:]
	}
	return s
}
