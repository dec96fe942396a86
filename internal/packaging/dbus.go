package packaging

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/coreos/go-systemd/v22/util"
	"golang.org/x/sys/unix"
)

// jobModeReplace queues a job replacing any conflicting pending job.
const jobModeReplace = "replace"

// dbusAPI is the subset of *dbus.Conn the controller uses.
type dbusAPI interface {
	ReloadContext(ctx context.Context) error
	EnableUnitFilesContext(ctx context.Context, files []string, runtime bool, force bool) (bool, []dbus.EnableUnitFileChange, error)
	DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]dbus.DisableUnitFileChange, error)
	RestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	KillUnitContext(ctx context.Context, name string, signal int32)
	ResetFailedUnitContext(ctx context.Context, name string) error
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	GetUnitPropertyContext(ctx context.Context, unit string, propertyName string) (*dbus.Property, error)
	Close()
}

// dbusController implements SystemdController over the systemd D-Bus API.
type dbusController struct {
	newConn func(ctx context.Context) (dbusAPI, error)
}

// NewDBusController returns a SystemdController that talks to systemd over D-Bus.
func NewDBusController() SystemdController {
	return &dbusController{newConn: func(ctx context.Context) (dbusAPI, error) {
		conn, err := dbus.NewWithContext(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}}
}

func (c *dbusController) IsAvailable() bool {
	return util.IsRunningSystemd()
}

func (c *dbusController) DaemonReload(ctx context.Context) error {
	return c.with(ctx, "daemon-reload", func(conn dbusAPI) error {
		return conn.ReloadContext(ctx)
	})
}

func (c *dbusController) Enable(ctx context.Context, service string) error {
	return c.with(ctx, "enable", func(conn dbusAPI) error {
		_, _, err := conn.EnableUnitFilesContext(ctx, []string{unitName(service)}, false, true)
		return err
	})
}

func (c *dbusController) Disable(ctx context.Context, service string) error {
	return c.with(ctx, "disable", func(conn dbusAPI) error {
		_, err := conn.DisableUnitFilesContext(ctx, []string{unitName(service)}, false)
		return err
	})
}

func (c *dbusController) Restart(ctx context.Context, service string) error {
	return c.with(ctx, "restart", func(conn dbusAPI) error {
		ch := make(chan string, 1)
		if _, err := conn.RestartUnitContext(ctx, unitName(service), jobModeReplace, ch); err != nil {
			return err
		}
		return waitJob(ctx, "restart", ch)
	})
}

func (c *dbusController) Stop(ctx context.Context, service string) error {
	return c.with(ctx, "stop", func(conn dbusAPI) error {
		ch := make(chan string, 1)
		if _, err := conn.StopUnitContext(ctx, unitName(service), jobModeReplace, ch); err != nil {
			return err
		}
		return waitJob(ctx, "stop", ch)
	})
}

func (c *dbusController) Kill(ctx context.Context, service string) error {
	return c.with(ctx, "kill", func(conn dbusAPI) error {
		conn.KillUnitContext(ctx, unitName(service), int32(unix.SIGKILL))
		return nil
	})
}

func (c *dbusController) ResetFailed(ctx context.Context, service string) error {
	return c.with(ctx, "reset-failed", func(conn dbusAPI) error {
		return conn.ResetFailedUnitContext(ctx, unitName(service))
	})
}

func (c *dbusController) IsActive(ctx context.Context, service string) bool {
	active := false
	_ = c.with(ctx, "is-active", func(conn dbusAPI) error {
		units, err := conn.ListUnitsByNamesContext(ctx, []string{unitName(service)})
		if err != nil {
			return err
		}
		for _, u := range units {
			if u.Name == unitName(service) && u.ActiveState == "active" {
				active = true
			}
		}
		return nil
	})
	return active
}

func (c *dbusController) IsEnabled(ctx context.Context, service string) bool {
	enabled := false
	_ = c.with(ctx, "is-enabled", func(conn dbusAPI) error {
		prop, err := conn.GetUnitPropertyContext(ctx, unitName(service), "UnitFileState")
		if err != nil {
			return err
		}
		state, _ := prop.Value.Value().(string)
		enabled = state == "enabled"
		return nil
	})
	return enabled
}

// with opens a connection, runs fn and closes the connection. Errors are
// classified like systemctl's so teardown treats both backends alike.
func (c *dbusController) with(ctx context.Context, op string, fn func(conn dbusAPI) error) error {
	conn, err := c.newConn(ctx)
	if err != nil {
		return fmt.Errorf("packaging: dbus connect: %w", err)
	}
	defer conn.Close()

	if err := fn(conn); err != nil {
		return classifyManagerError(err.Error(), fmt.Errorf("packaging: dbus %s: %w", op, err))
	}
	return nil
}

// waitJob blocks until systemd reports the job result.
func waitJob(ctx context.Context, op string, ch <-chan string) error {
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("packaging: %s job finished with result %q", op, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
