package privilege

import (
	"fmt"
	"os/user"
	"strconv"
)

// invokerEnvVars name the variables elevation helpers use to record the
// original, non-elevated user.
var invokerEnvVars = []string{"SUDO_USER", "DOAS_USER"}

// Identity is a resolved runtime user and group.
type Identity struct {
	User  string
	Group string
	UID   int
	GID   int
	Home  string
}

// IsRoot returns true if the identity is the superuser.
func (id Identity) IsRoot() bool {
	return id.UID == 0
}

// UserLookup abstracts the user database for testability.
type UserLookup interface {
	Current() (*user.User, error)
	Lookup(username string) (*user.User, error)
	LookupGroup(name string) (*user.Group, error)
	LookupGroupID(gid string) (*user.Group, error)
}

type osUserLookup struct{}

// NewUserLookup returns a UserLookup backed by os/user.
func NewUserLookup() UserLookup {
	return osUserLookup{}
}

func (osUserLookup) Current() (*user.User, error) { return user.Current() }
func (osUserLookup) Lookup(name string) (*user.User, error) { return user.Lookup(name) }
func (osUserLookup) LookupGroup(n string) (*user.Group, error) { return user.LookupGroup(n) }
func (osUserLookup) LookupGroupID(id string) (*user.Group, error) {
	return user.LookupGroupId(id)
}

// InvokingUser returns the user that ran the elevation helper, or "" when
// the process was not started through one.
func InvokingUser(getenv func(string) string) string {
	for _, name := range invokerEnvVars {
		if v := getenv(name); v != "" && v != "root" {
			return v
		}
	}
	return ""
}

// ResolveIdentity picks the runtime identity. An explicit userName wins,
// then the non-elevated invoker, then the current user. groupName defaults
// to the user's primary group.
func ResolveIdentity(lookup UserLookup, userName, groupName string, getenv func(string) string) (Identity, error) {
	var (
		u   *user.User
		err error
	)
	switch {
	case userName != "":
		u, err = lookup.Lookup(userName)
	case InvokingUser(getenv) != "":
		u, err = lookup.Lookup(InvokingUser(getenv))
	default:
		u, err = lookup.Current()
	}
	if err != nil {
		return Identity{}, fmt.Errorf("privilege: resolve runtime user: %w", err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Identity{}, fmt.Errorf("privilege: parse uid %q: %w", u.Uid, err)
	}

	var g *user.Group
	if groupName != "" {
		g, err = lookup.LookupGroup(groupName)
	} else {
		g, err = lookup.LookupGroupID(u.Gid)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("privilege: resolve runtime group: %w", err)
	}

	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return Identity{}, fmt.Errorf("privilege: parse gid %q: %w", g.Gid, err)
	}

	return Identity{
		User:  u.Username,
		Group: g.Name,
		UID:   uid,
		GID:   gid,
		Home:  u.HomeDir,
	}, nil
}
