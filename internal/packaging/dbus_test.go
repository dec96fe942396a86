package packaging

import (
	"context"
	"errors"
	"testing"

	"github.com/coreos/go-systemd/v22/dbus"
)

// stubDBus records calls and answers jobs with jobResult.
type stubDBus struct {
	calls     []string
	errs      map[string]error
	jobResult string
	units     []dbus.UnitStatus
	closed    int
}

func (s *stubDBus) call(name string) error {
	s.calls = append(s.calls, name)
	return s.errs[name]
}

func (s *stubDBus) job(name string, ch chan<- string) (int, error) {
	if err := s.call(name); err != nil {
		return 0, err
	}
	ch <- s.jobResult
	return 1, nil
}

func (s *stubDBus) ReloadContext(context.Context) error { return s.call("Reload") }

func (s *stubDBus) EnableUnitFilesContext(_ context.Context, files []string, _ bool, _ bool) (bool, []dbus.EnableUnitFileChange, error) {
	return false, nil, s.call("EnableUnitFiles " + files[0])
}

func (s *stubDBus) DisableUnitFilesContext(_ context.Context, files []string, _ bool) ([]dbus.DisableUnitFileChange, error) {
	return nil, s.call("DisableUnitFiles " + files[0])
}

func (s *stubDBus) RestartUnitContext(_ context.Context, name, _ string, ch chan<- string) (int, error) {
	return s.job("RestartUnit "+name, ch)
}

func (s *stubDBus) StopUnitContext(_ context.Context, name, _ string, ch chan<- string) (int, error) {
	return s.job("StopUnit "+name, ch)
}

func (s *stubDBus) KillUnitContext(_ context.Context, name string, _ int32) {
	_ = s.call("KillUnit " + name)
}

func (s *stubDBus) ResetFailedUnitContext(_ context.Context, name string) error {
	return s.call("ResetFailedUnit " + name)
}

func (s *stubDBus) ListUnitsByNamesContext(_ context.Context, units []string) ([]dbus.UnitStatus, error) {
	return s.units, s.call("ListUnitsByNames " + units[0])
}

func (s *stubDBus) GetUnitPropertyContext(_ context.Context, unit, prop string) (*dbus.Property, error) {
	return &dbus.Property{Name: prop}, s.call("GetUnitProperty " + unit)
}

func (s *stubDBus) Close() { s.closed++ }

func newStubController(stub *stubDBus) *dbusController {
	return &dbusController{newConn: func(context.Context) (dbusAPI, error) {
		return stub, nil
	}}
}

func TestDBusController_StopUnknownUnit(t *testing.T) {
	stub := &stubDBus{errs: map[string]error{
		"StopUnit ollama-lan.service": errors.New("org.freedesktop.systemd1.NoSuchUnit: Unit ollama-lan.service not loaded."),
	}}
	ctrl := newStubController(stub)

	err := ctrl.Stop(context.Background(), "ollama-lan")
	if !errors.Is(err, ErrUnitNotFound) {
		t.Fatalf("Stop() error = %v, want ErrUnitNotFound", err)
	}
	if classify(err) != OutcomeAbsent {
		t.Errorf("classify(%v) = %s, want absent", err, classify(err))
	}
	if stub.closed != 1 {
		t.Errorf("connection closed %d times, want 1", stub.closed)
	}
}

func TestDBusController_OtherErrorsUnclassified(t *testing.T) {
	stub := &stubDBus{errs: map[string]error{
		"ResetFailedUnit ollama-lan.service": errors.New("org.freedesktop.DBus.Error.AccessDenied: permission denied"),
	}}

	err := newStubController(stub).ResetFailed(context.Background(), "ollama-lan")
	if err == nil {
		t.Fatal("ResetFailed() = nil error")
	}
	if errors.Is(err, ErrUnitNotFound) || errors.Is(err, ErrNotRunning) {
		t.Errorf("ResetFailed() error = %v, want unclassified", err)
	}
	if classify(err) != OutcomeWarning {
		t.Errorf("classify(%v) = %s, want warning", err, classify(err))
	}
}

func TestDBusController_JobResult(t *testing.T) {
	tests := []struct {
		result  string
		wantErr bool
	}{
		{"done", false},
		{"failed", true},
		{"timeout", true},
	}
	for _, tt := range tests {
		t.Run(tt.result, func(t *testing.T) {
			stub := &stubDBus{jobResult: tt.result}
			err := newStubController(stub).Restart(context.Background(), "ollama-lan.service")
			if (err != nil) != tt.wantErr {
				t.Errorf("Restart() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(stub.calls) != 1 || stub.calls[0] != "RestartUnit ollama-lan.service" {
				t.Errorf("calls = %q", stub.calls)
			}
		})
	}
}

func TestDBusController_Lifecycle(t *testing.T) {
	stub := &stubDBus{jobResult: "done"}
	ctrl := newStubController(stub)
	ctx := context.Background()

	for _, op := range []func() error{
		func() error { return ctrl.DaemonReload(ctx) },
		func() error { return ctrl.Enable(ctx, "ollama-lan") },
		func() error { return ctrl.Disable(ctx, "ollama-lan") },
		func() error { return ctrl.Kill(ctx, "ollama-lan") },
	} {
		if err := op(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	want := []string{
		"Reload",
		"EnableUnitFiles ollama-lan.service",
		"DisableUnitFiles ollama-lan.service",
		"KillUnit ollama-lan.service",
	}
	if len(stub.calls) != len(want) {
		t.Fatalf("calls = %q, want %q", stub.calls, want)
	}
	for i := range want {
		if stub.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, stub.calls[i], want[i])
		}
	}
	if stub.closed != len(want) {
		t.Errorf("connection closed %d times, want %d", stub.closed, len(want))
	}
}

func TestDBusController_IsActive(t *testing.T) {
	stub := &stubDBus{units: []dbus.UnitStatus{{Name: "ollama-lan.service", ActiveState: "active"}}}
	ctrl := newStubController(stub)
	if !ctrl.IsActive(context.Background(), "ollama-lan") {
		t.Error("IsActive() = false, want true")
	}

	stub.units[0].ActiveState = "inactive"
	if ctrl.IsActive(context.Background(), "ollama-lan") {
		t.Error("IsActive() = true for an inactive unit")
	}
}

func TestDBusController_ConnectFailure(t *testing.T) {
	ctrl := &dbusController{newConn: func(context.Context) (dbusAPI, error) {
		return nil, errors.New("dial unix /run/systemd/private: no such file or directory")
	}}
	if err := ctrl.DaemonReload(context.Background()); err == nil {
		t.Error("DaemonReload() = nil error when the bus is unreachable")
	}
	if ctrl.IsEnabled(context.Background(), "ollama-lan") {
		t.Error("IsEnabled() = true when the bus is unreachable")
	}
}
