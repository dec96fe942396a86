package packaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// procScanner implements ProcessKiller by reading /proc/<pid>/cmdline.
type procScanner struct {
	root string
	self int
	kill func(pid int) error
}

// NewProcessKiller returns a ProcessKiller over the host's /proc.
func NewProcessKiller() ProcessKiller {
	return &procScanner{
		root: "/proc",
		self: os.Getpid(),
		kill: func(pid int) error { return unix.Kill(pid, unix.SIGKILL) },
	}
}

// KillMatching implements ProcessKiller. Processes that exit between the
// scan and the signal are not counted and not reported as errors.
func (p *procScanner) KillMatching(ctx context.Context, needle string) (int, error) {
	if needle == "" {
		return 0, errors.New("packaging: refusing to match an empty command line")
	}
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return 0, fmt.Errorf("packaging: read %s: %w", p.root, err)
	}

	want := []byte(needle)
	killed := 0
	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return killed, err
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid == p.self {
			continue
		}
		cmdline, err := os.ReadFile(filepath.Join(p.root, e.Name(), "cmdline"))
		if err != nil || len(cmdline) == 0 {
			continue
		}
		cmdline = bytes.ReplaceAll(cmdline, []byte{0}, []byte{' '})
		if !bytes.Contains(cmdline, want) {
			continue
		}
		if err := p.kill(pid); err != nil {
			if errors.Is(err, unix.ESRCH) {
				continue
			}
			errs = append(errs, fmt.Errorf("kill %d: %w", pid, err))
			continue
		}
		killed++
	}
	return killed, errors.Join(errs...)
}
