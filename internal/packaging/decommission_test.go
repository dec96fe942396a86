package packaging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func stepNames(r TeardownReport) []string {
	names := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		names[i] = s.Step
	}
	return names
}

func outcomes(r TeardownReport) map[string]Outcome {
	m := make(map[string]Outcome, len(r.Steps))
	for _, s := range r.Steps {
		m[s.Step] = s.Outcome
	}
	return m
}

func (e *testEnv) uninstall(t *testing.T) TeardownReport {
	t.Helper()
	report, err := e.installer(t).Uninstall(context.Background())
	if err != nil {
		t.Fatalf("Uninstall() error: %v", err)
	}
	return report
}

func TestUninstall_RejectsNonRoot(t *testing.T) {
	env := newTestEnv(t)
	env.install(t)
	env.rootChk.isRoot = false
	env.systemd.calls = nil

	_, err := env.installer(t).Uninstall(context.Background())
	if !errors.Is(err, ErrNotRoot) {
		t.Fatalf("Uninstall() error = %v, want ErrNotRoot", err)
	}
	if len(env.systemd.calls) != 0 {
		t.Errorf("systemd calls = %v, want none", env.systemd.calls)
	}
	if _, err := os.Stat(env.cfg.InstallDir); err != nil {
		t.Errorf("install dir touched without privileges: %v", err)
	}
}

func TestUninstall_CanonicalOrder(t *testing.T) {
	env := newTestEnv(t)
	env.install(t)
	env.systemd.calls = nil

	report := env.uninstall(t)

	want := []string{
		"stop", "disable", "kill", "reset-failed", "kill-strays",
		"remove-unit", "remove-launcher", "remove-install-dir", "daemon-reload",
	}
	if got := stepNames(report); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("steps = %v, want %v", got, want)
	}

	wantCalls := []string{
		"stop ollama-lan", "disable ollama-lan", "kill ollama-lan",
		"reset-failed ollama-lan", "daemon-reload",
	}
	if strings.Join(env.systemd.calls, ",") != strings.Join(wantCalls, ",") {
		t.Errorf("systemd calls = %v, want %v", env.systemd.calls, wantCalls)
	}
}

func TestUninstall_Converges(t *testing.T) {
	env := newTestEnv(t)
	env.install(t)

	report := env.uninstall(t)
	if !report.Clean() {
		t.Errorf("report has warnings: %+v", report.Warnings())
	}

	assertAbsent(t, env.cfg.InstallDir)
	assertAbsent(t, env.cfg.UnitFilePath)
	assertAbsent(t, env.cfg.LauncherPath)
	if env.systemd.enabled || env.systemd.active {
		t.Errorf("service enabled=%v active=%v after uninstall", env.systemd.enabled, env.systemd.active)
	}

	got := outcomes(report)
	for _, step := range []string{"stop", "disable", "remove-unit", "remove-launcher", "remove-install-dir", "daemon-reload"} {
		if got[step] != OutcomeDone {
			t.Errorf("step %s = %s, want done", step, got[step])
		}
	}
	// stop already terminated the main process
	if got["kill"] != OutcomeAbsent {
		t.Errorf("step kill = %s, want absent", got["kill"])
	}

	st := env.installer(t).Status(context.Background())
	if st.Installed() || st.UnitFile || st.Launcher || st.Enabled || st.Active {
		t.Errorf("Status() after uninstall = %+v, want nothing left", st)
	}
}

func TestUninstall_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.install(t)
	env.uninstall(t)

	report := env.uninstall(t)
	if !report.Clean() {
		t.Errorf("second uninstall has warnings: %+v", report.Warnings())
	}
	for _, s := range report.Steps {
		if s.Step == "daemon-reload" {
			continue
		}
		if s.Outcome != OutcomeAbsent {
			t.Errorf("step %s = %s (%v), want absent", s.Step, s.Outcome, s.Err)
		}
	}
}

func TestUninstall_CleanMachine(t *testing.T) {
	env := newTestEnv(t)

	report := env.uninstall(t)
	if !report.Clean() {
		t.Errorf("uninstall on clean machine has warnings: %+v", report.Warnings())
	}
	assertEmptyDir(t, env.root)
}

func TestUninstall_AfterManualKill(t *testing.T) {
	env := newTestEnv(t)
	env.install(t)

	// Operator killed the service by hand; systemd reports it inactive and
	// a stray copy started from the launcher is still around.
	env.systemd.active = false
	env.systemd.errs = map[string]error{"stop": ErrNotRunning}
	env.procs.matches = 1

	report := env.uninstall(t)
	if !report.Clean() {
		t.Errorf("report has warnings: %+v", report.Warnings())
	}
	got := outcomes(report)
	if got["stop"] != OutcomeAbsent {
		t.Errorf("step stop = %s, want absent", got["stop"])
	}
	if got["kill-strays"] != OutcomeDone {
		t.Errorf("step kill-strays = %s, want done", got["kill-strays"])
	}
	if len(env.procs.needles) != 1 || env.procs.needles[0] != filepath.Join(env.cfg.InstallDir, "ollama-lan.py") {
		t.Errorf("stray scan needles = %v, want the installed entry point", env.procs.needles)
	}
	assertAbsent(t, env.cfg.InstallDir)
	assertAbsent(t, env.cfg.UnitFilePath)
}

func TestUninstall_WarningsDoNotAbort(t *testing.T) {
	env := newTestEnv(t)
	env.install(t)
	env.systemd.errs = map[string]error{"disable": errors.New("Access denied")}
	env.procs.err = errors.New("kill 42: operation not permitted")

	report := env.uninstall(t)
	if report.Clean() {
		t.Fatal("report is clean, want warnings")
	}
	warned := map[string]bool{}
	for _, w := range report.Warnings() {
		warned[w.Step] = true
	}
	if !warned["disable"] || !warned["kill-strays"] || len(warned) != 2 {
		t.Errorf("warnings = %v, want disable and kill-strays", warned)
	}
	assertAbsent(t, env.cfg.InstallDir)
	assertAbsent(t, env.cfg.UnitFilePath)
	assertAbsent(t, env.cfg.LauncherPath)
	if env.systemd.count("daemon-reload") == 0 {
		t.Error("daemon-reload skipped after a warning")
	}
}

func TestUninstall_NoSystemd(t *testing.T) {
	env := newTestEnv(t)
	env.systemd.available = false
	env.install(t)

	report := env.uninstall(t)
	got := outcomes(report)
	for _, step := range []string{"stop", "disable", "kill", "reset-failed", "daemon-reload"} {
		if got[step] != OutcomeSkipped {
			t.Errorf("step %s = %s, want skipped", step, got[step])
		}
	}
	if len(env.systemd.calls) != 0 {
		t.Errorf("systemd calls = %v, want none", env.systemd.calls)
	}
	assertAbsent(t, env.cfg.InstallDir)
	assertAbsent(t, env.cfg.LauncherPath)
}

func TestUninstall_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.installer(t).Uninstall(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Uninstall() error = %v, want context.Canceled", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeDone},
		{ErrUnitNotFound, OutcomeAbsent},
		{ErrNotRunning, OutcomeAbsent},
		{os.ErrNotExist, OutcomeAbsent},
		{&os.PathError{Op: "remove", Path: "/x", Err: os.ErrNotExist}, OutcomeAbsent},
		{errors.New("permission denied"), OutcomeWarning},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestUninstall_IgnoresServiceSettings(t *testing.T) {
	env := newTestEnv(t)
	env.install(t)

	// Values install would reject must not block teardown.
	env.cfg.Service.OllamaBaseURL = "localhost:11434"
	env.cfg.Service.Port = -1
	env.cfg.RuntimeUser = ""
	env.cfg.RuntimeGroup = ""

	report := env.uninstall(t)
	if !report.Clean() {
		t.Errorf("report has warnings: %+v", report.Warnings())
	}
	if len(report.Steps) != 9 {
		t.Errorf("ran %d steps, want 9", len(report.Steps))
	}
	assertAbsent(t, env.cfg.InstallDir)
	assertAbsent(t, env.cfg.UnitFilePath)
	assertAbsent(t, env.cfg.LauncherPath)
}

func TestUninstall_RejectsInvalidTarget(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*InstallConfig)
	}{
		{"root install dir", func(c *InstallConfig) { c.InstallDir = "/" }},
		{"relative unit path", func(c *InstallConfig) { c.UnitFilePath = "ollama-lan.service" }},
		{"entry point with directory", func(c *InstallConfig) { c.EntryPoint = "../ollama-lan.py" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.mutate(&env.cfg)

			report, err := env.installer(t).Uninstall(context.Background())
			if err == nil {
				t.Fatal("Uninstall() = nil error for an invalid target")
			}
			if len(report.Steps) != 0 || len(env.systemd.calls) != 0 {
				t.Errorf("teardown ran despite invalid target: steps=%d calls=%v", len(report.Steps), env.systemd.calls)
			}
		})
	}
}
