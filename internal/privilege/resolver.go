// Package privilege decides how the current invocation obtains administrative
// rights and how child commands are run under the service's runtime identity.
package privilege

import (
	"errors"
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"
)

// ErrNoElevation is returned when the process is not root and no elevation
// helper can be found on PATH.
var ErrNoElevation = errors.New("privilege: not running as root and no elevation helper (sudo, doas) found on PATH")

// Helpers lists the elevation helpers in preference order.
var Helpers = []string{"sudo", "doas"}

// GrantKind classifies an elevation grant.
type GrantKind int

const (
	// GrantUnavailable means neither root nor an elevation helper is available.
	GrantUnavailable GrantKind = iota
	// GrantRoot means the process already has administrative rights.
	GrantRoot
	// GrantDelegate means privileged work must be delegated through Helper.
	GrantDelegate
)

// String returns the human-readable name of the grant kind.
func (k GrantKind) String() string {
	switch k {
	case GrantRoot:
		return "root"
	case GrantDelegate:
		return "delegate"
	default:
		return "unavailable"
	}
}

// Grant is the elevation capability computed once per invocation.
type Grant struct {
	Kind GrantKind

	// Helper is the absolute path of the elevation helper. Set only for GrantDelegate.
	Helper string
}

// Probe abstracts identity and PATH inspection for testability.
type Probe interface {
	// IsRoot returns true if the effective user is root.
	IsRoot() bool

	// LookPath searches PATH for an executable.
	LookPath(file string) (string, error)
}

type realProbe struct{}

// NewProbe returns a Probe backed by the real process identity and PATH.
func NewProbe() Probe {
	return realProbe{}
}

func (realProbe) IsRoot() bool {
	return unix.Geteuid() == 0
}

func (realProbe) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Resolve determines the elevation grant. It performs no side effects, so
// callers run it before touching the network or the filesystem.
func Resolve(p Probe) (Grant, error) {
	if p.IsRoot() {
		return Grant{Kind: GrantRoot}, nil
	}
	for _, name := range Helpers {
		path, err := p.LookPath(name)
		if err == nil {
			return Grant{Kind: GrantDelegate, Helper: path}, nil
		}
	}
	return Grant{Kind: GrantUnavailable}, ErrNoElevation
}

// MustBeRoot returns an error naming op unless the grant is GrantRoot.
func (g Grant) MustBeRoot(op string) error {
	if g.Kind != GrantRoot {
		return fmt.Errorf("privilege: %s requires root privileges (grant: %s)", op, g.Kind)
	}
	return nil
}
