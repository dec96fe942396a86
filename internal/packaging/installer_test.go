package packaging

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/ollama-lan/ollama-lan/internal/fetch"
)

// --- Mock SystemdController ---

// mockSystemdController keeps enabled/active state and answers like
// systemctl does for units whose file is missing.
type mockSystemdController struct {
	available bool
	unitPath  string
	enabled   bool
	active    bool
	errs      map[string]error

	calls []string
}

func (m *mockSystemdController) IsAvailable() bool { return m.available }

func (m *mockSystemdController) op(name, service string) error {
	if service == "" {
		m.calls = append(m.calls, name)
	} else {
		m.calls = append(m.calls, name+" "+service)
	}
	return m.errs[name]
}

func (m *mockSystemdController) loaded() bool {
	_, err := os.Stat(m.unitPath)
	return err == nil
}

func (m *mockSystemdController) notLoaded(service string) error {
	return fmt.Errorf("%w: Unit %s not loaded", ErrUnitNotFound, service)
}

func (m *mockSystemdController) DaemonReload(_ context.Context) error {
	return m.op("daemon-reload", "")
}

func (m *mockSystemdController) Enable(_ context.Context, service string) error {
	if err := m.op("enable", service); err != nil {
		return err
	}
	m.enabled = true
	return nil
}

func (m *mockSystemdController) Disable(_ context.Context, service string) error {
	if err := m.op("disable", service); err != nil {
		return err
	}
	if !m.loaded() {
		return m.notLoaded(service)
	}
	m.enabled = false
	return nil
}

func (m *mockSystemdController) Restart(_ context.Context, service string) error {
	if err := m.op("restart", service); err != nil {
		return err
	}
	m.active = true
	return nil
}

func (m *mockSystemdController) Stop(_ context.Context, service string) error {
	if err := m.op("stop", service); err != nil {
		return err
	}
	if !m.loaded() {
		return m.notLoaded(service)
	}
	m.active = false
	return nil
}

func (m *mockSystemdController) Kill(_ context.Context, service string) error {
	if err := m.op("kill", service); err != nil {
		return err
	}
	if !m.active {
		return fmt.Errorf("%w: No main process to kill", ErrNotRunning)
	}
	m.active = false
	return nil
}

func (m *mockSystemdController) ResetFailed(_ context.Context, service string) error {
	if err := m.op("reset-failed", service); err != nil {
		return err
	}
	if !m.loaded() {
		return m.notLoaded(service)
	}
	return nil
}

func (m *mockSystemdController) IsActive(_ context.Context, _ string) bool  { return m.active }
func (m *mockSystemdController) IsEnabled(_ context.Context, _ string) bool { return m.enabled }

func (m *mockSystemdController) count(name string) int {
	n := 0
	for _, c := range m.calls {
		if c == name || strings.HasPrefix(c, name+" ") {
			n++
		}
	}
	return n
}

// --- Mock RootChecker ---

type mockRootChecker struct {
	isRoot bool
}

func (m *mockRootChecker) IsRoot() bool { return m.isRoot }

// --- Mock CommandRunner ---

// mockRunner records commands and creates the venv interpreter when asked to
// create a virtual environment.
type mockRunner struct {
	calls [][]string
	errs  map[string]error
}

func (m *mockRunner) Run(_ context.Context, _ string, name string, args ...string) error {
	m.calls = append(m.calls, append([]string{name}, args...))
	key := filepath.Base(name)
	if err := m.errs[key]; err != nil {
		return err
	}
	if len(args) == 3 && args[0] == "-m" && args[1] == "venv" {
		bin := filepath.Join(args[2], "bin")
		if err := os.MkdirAll(bin, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(bin, "python"), []byte("#!/bin/sh\n"), 0o755)
	}
	return nil
}

func (m *mockRunner) count(sub string) int {
	n := 0
	for _, c := range m.calls {
		if strings.Contains(strings.Join(c, " "), sub) {
			n++
		}
	}
	return n
}

// --- Mock ProcessKiller ---

type mockProcs struct {
	matches int
	err     error
	needles []string
}

func (m *mockProcs) KillMatching(_ context.Context, needle string) (int, error) {
	m.needles = append(m.needles, needle)
	n := m.matches
	m.matches = 0
	return n, m.err
}

// --- Mock UpstreamProber ---

type mockUpstream struct {
	err   error
	calls int
}

func (m *mockUpstream) Probe(_ context.Context) error {
	m.calls++
	return m.err
}

// --- Fake source archive ---

// archiveDownloader serves an in-memory tar.gz instead of downloading.
type archiveDownloader struct {
	files map[string]string
	urls  []string
}

func (d *archiveDownloader) Name() string { return "fake" }

func (d *archiveDownloader) Download(_ context.Context, url, dst string) error {
	d.urls = append(d.urls, url)
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range d.files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return os.WriteFile(dst, buf.Bytes(), 0o644)
}

func validArchive() map[string]string {
	return map[string]string{
		"ollama-lan-main/ollama-lan.py":    "print('hello')\n",
		"ollama-lan-main/requirements.txt": "gradio\nrequests\n",
		"ollama-lan-main/README.md":        "# ollama-lan\n",
	}
}

// --- Test helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	root     string
	cfg      InstallConfig
	systemd  *mockSystemdController
	rootChk  *mockRootChecker
	runner   *mockRunner
	procs    *mockProcs
	upstream *mockUpstream
	download *archiveDownloader
}

// newTestEnv returns an environment with every path under t.TempDir(),
// running as root with systemd available.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := InstallConfig{
		InstallDir:   filepath.Join(tmpDir, "opt", "ollama-lan"),
		UnitFilePath: filepath.Join(tmpDir, "etc", "systemd", "system", "ollama-lan.service"),
		LauncherPath: filepath.Join(tmpDir, "usr", "local", "bin", "ollama-lan"),
		RuntimeUser:  "alice",
		RuntimeGroup: "alice",
		RuntimeUID:   os.Getuid(),
		RuntimeGID:   os.Getgid(),
	}
	return &testEnv{
		root:     tmpDir,
		cfg:      cfg,
		systemd:  &mockSystemdController{available: true, unitPath: cfg.UnitFilePath},
		rootChk:  &mockRootChecker{isRoot: true},
		runner:   &mockRunner{},
		procs:    &mockProcs{},
		upstream: &mockUpstream{},
		download: &archiveDownloader{files: validArchive()},
	}
}

func (e *testEnv) installer(t *testing.T) *Installer {
	t.Helper()
	fetcher := fetch.NewFetcher(fetch.Config{TempDir: e.root}, e.download, testLogger())
	return NewInstaller(e.cfg, Deps{
		Systemd:  e.systemd,
		Root:     e.rootChk,
		Fetcher:  fetcher,
		Runner:   e.runner,
		Procs:    e.procs,
		Upstream: e.upstream,
	}, testLogger())
}

func (e *testEnv) install(t *testing.T) InstallResult {
	t.Helper()
	res, err := e.installer(t).Install(context.Background())
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	return res
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%q) failed: %v", path, err)
	}
	return string(data)
}

func assertMode(t *testing.T, path string, want os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat(%q) failed: %v", path, err)
	}
	if got := info.Mode().Perm(); got != want {
		t.Errorf("mode of %s = %04o, want %04o", path, got, want)
	}
}

func assertAbsent(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Lstat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("%s still exists (err=%v)", path, err)
	}
}

// assertEmptyDir fails unless dir is empty. Fetch workspaces are created
// under the test root, so this also catches leaked workspaces.
func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%q) failed: %v", dir, err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("expected %s to be empty, found %v", dir, names)
	}
}

// --- Install tests ---

func TestInstall_RejectsNonRoot(t *testing.T) {
	env := newTestEnv(t)
	env.rootChk.isRoot = false

	_, err := env.installer(t).Install(context.Background())
	if !errors.Is(err, ErrNotRoot) {
		t.Fatalf("Install() error = %v, want ErrNotRoot", err)
	}

	assertEmptyDir(t, env.root)
	if len(env.download.urls) != 0 {
		t.Errorf("download attempted before privilege check: %v", env.download.urls)
	}
	if len(env.systemd.calls) != 0 || len(env.runner.calls) != 0 {
		t.Errorf("side effects before privilege check: systemd=%v runner=%v", env.systemd.calls, env.runner.calls)
	}
}

func TestInstall_FreshDefaults(t *testing.T) {
	env := newTestEnv(t)
	res := env.install(t)

	if !res.Registered || !res.Started || !res.UnitChanged {
		t.Errorf("InstallResult = %+v, want registered, started, changed", res)
	}

	unit := readFile(t, env.cfg.UnitFilePath)
	for _, want := range []string{
		`"--host" "0.0.0.0"`,
		`"--port" "11440"`,
		`"--ollama-base-url" "http://localhost:11434"`,
		"User=alice",
		"WorkingDirectory=" + env.cfg.InstallDir,
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit missing %q\n%s", want, unit)
		}
	}
	assertMode(t, env.cfg.UnitFilePath, 0o644)

	entry := filepath.Join(env.cfg.InstallDir, "ollama-lan.py")
	if got := readFile(t, entry); got != "print('hello')\n" {
		t.Errorf("entry point content = %q", got)
	}
	assertMode(t, entry, 0o755)
	assertMode(t, filepath.Join(env.cfg.InstallDir, "requirements.txt"), 0o644)
	assertMode(t, env.cfg.LauncherPath, 0o755)
	if !strings.Contains(readFile(t, env.cfg.LauncherPath), filepath.Join(env.cfg.InstallDir, "venv", "bin", "python")) {
		t.Error("launcher does not reference the venv interpreter")
	}

	if !env.systemd.enabled || !env.systemd.active {
		t.Errorf("service enabled=%v active=%v, want both true", env.systemd.enabled, env.systemd.active)
	}
	wantCalls := []string{"daemon-reload", "enable ollama-lan", "restart ollama-lan"}
	if strings.Join(env.systemd.calls, ",") != strings.Join(wantCalls, ",") {
		t.Errorf("systemd calls = %v, want %v", env.systemd.calls, wantCalls)
	}

	if env.runner.count("-m venv") != 1 {
		t.Errorf("venv created %d times, want 1", env.runner.count("-m venv"))
	}
	if env.runner.count("install --upgrade -r") != 1 {
		t.Errorf("pip install ran %d times, want 1", env.runner.count("install --upgrade -r"))
	}
	if env.upstream.calls != 1 {
		t.Errorf("upstream probed %d times, want 1", env.upstream.calls)
	}

	// Only the installed tree remains; the fetch workspace is gone.
	entries, _ := os.ReadDir(env.root)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "ollama-lan-fetch-") {
			t.Errorf("fetch workspace %s left behind", e.Name())
		}
	}

	st := env.installer(t).Status(context.Background())
	if !st.Installed() || !st.UnitFile || !st.Launcher || !st.Enabled || !st.Active {
		t.Errorf("Status() = %+v, want fully installed", st)
	}
}

func TestInstall_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.install(t)
	first := readFile(t, env.cfg.UnitFilePath)

	res := env.install(t)
	second := readFile(t, env.cfg.UnitFilePath)

	if first != second {
		t.Errorf("unit changed between identical installs:\n%s\n---\n%s", first, second)
	}
	if res.UnitChanged {
		t.Error("UnitChanged = true on identical reinstall")
	}
	if env.runner.count("-m venv") != 1 {
		t.Errorf("venv created %d times, want reuse on second install", env.runner.count("-m venv"))
	}
	if env.runner.count("install --upgrade -r") != 2 {
		t.Errorf("pip install ran %d times, want 2", env.runner.count("install --upgrade -r"))
	}

	units, err := filepath.Glob(filepath.Join(filepath.Dir(env.cfg.UnitFilePath), "*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 {
		t.Errorf("unit directory holds %v, want exactly one unit", units)
	}
}

func TestInstall_Reconfigure(t *testing.T) {
	env := newTestEnv(t)
	env.install(t)

	env.cfg.Service.Port = 9000
	res := env.install(t)

	unit := readFile(t, env.cfg.UnitFilePath)
	if !strings.Contains(unit, `"--port" "9000"`) {
		t.Errorf("unit does not carry the new port:\n%s", unit)
	}
	if strings.Contains(unit, "11440") {
		t.Errorf("unit still carries the old port:\n%s", unit)
	}
	if !res.UnitChanged || !res.Started {
		t.Errorf("InstallResult = %+v, want changed and started", res)
	}
	if n := env.systemd.count("restart"); n != 2 {
		t.Errorf("restart called %d times, want 2", n)
	}
}

func TestInstall_ModelAndShare(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Service.Model = `llama3 "8b"`
	env.cfg.Service.Share = true
	env.install(t)

	unit := readFile(t, env.cfg.UnitFilePath)
	if !strings.Contains(unit, `"--model" "llama3 \"8b\"" "--share"`) {
		t.Errorf("unit missing escaped model and share flag:\n%s", unit)
	}
}

func TestInstall_NoSystemd(t *testing.T) {
	env := newTestEnv(t)
	env.systemd.available = false

	res := env.install(t)
	if res.Registered || res.Started {
		t.Errorf("InstallResult = %+v, want unregistered", res)
	}
	if !strings.HasPrefix(res.ManualCommand, env.cfg.LauncherPath) {
		t.Errorf("ManualCommand = %q, want launcher path prefix %q", res.ManualCommand, env.cfg.LauncherPath)
	}
	assertAbsent(t, env.cfg.UnitFilePath)
	if _, err := os.Stat(filepath.Join(env.cfg.InstallDir, "ollama-lan.py")); err != nil {
		t.Errorf("entry point not provisioned: %v", err)
	}
	if len(env.systemd.calls) != 0 {
		t.Errorf("systemd calls = %v, want none", env.systemd.calls)
	}
}

func TestInstall_NoStart(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.NoStart = true

	res := env.install(t)
	if !res.Registered || res.Started {
		t.Errorf("InstallResult = %+v, want registered but not started", res)
	}
	if env.systemd.count("restart") != 0 {
		t.Error("restart called with NoStart")
	}
	if !env.systemd.enabled {
		t.Error("service not enabled with NoStart")
	}
	if env.upstream.calls != 0 {
		t.Error("upstream probed although the service was not started")
	}
}

func TestInstall_MissingEntryPoint(t *testing.T) {
	env := newTestEnv(t)
	env.download.files = map[string]string{
		"ollama-lan-main/requirements.txt": "gradio\n",
	}

	_, err := env.installer(t).Install(context.Background())
	if !errors.Is(err, fetch.ErrEntryPointMissing) {
		t.Fatalf("Install() error = %v, want ErrEntryPointMissing", err)
	}
	for _, hint := range []string{"OLLAMA_LAN_REPO", "OLLAMA_LAN_REF"} {
		if !strings.Contains(err.Error(), hint) {
			t.Errorf("error %q does not mention %s", err, hint)
		}
	}
	assertEmptyDir(t, env.root)
}

func TestInstall_DependencyFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	env.runner.errs = map[string]error{"pip": errors.New("exit status 1")}

	_, err := env.installer(t).Install(context.Background())
	if err == nil || !strings.Contains(err.Error(), "install dependencies") {
		t.Fatalf("Install() error = %v, want dependency failure", err)
	}
	assertAbsent(t, env.cfg.UnitFilePath)
	if len(env.systemd.calls) != 0 {
		t.Errorf("systemd touched after provisioning failure: %v", env.systemd.calls)
	}
}

func TestInstall_UpstreamUnreachableNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.err = errors.New("connection refused")

	res := env.install(t)
	if !res.Started {
		t.Error("install did not complete when the upstream API was unreachable")
	}
}

func TestInstall_InvalidConfig(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.RuntimeUser = ""

	_, err := env.installer(t).Install(context.Background())
	if err == nil || !strings.Contains(err.Error(), "RuntimeUser") {
		t.Fatalf("Install() error = %v, want RuntimeUser validation error", err)
	}
	if len(env.download.urls) != 0 {
		t.Error("download attempted with invalid config")
	}
}

func TestCheckPlatform(t *testing.T) {
	if err := CheckPlatform("linux"); err != nil {
		t.Errorf("CheckPlatform(linux) = %v", err)
	}
	for _, goos := range []string{"darwin", "windows", "freebsd"} {
		if err := CheckPlatform(goos); !errors.Is(err, ErrUnsupportedOS) {
			t.Errorf("CheckPlatform(%s) = %v, want ErrUnsupportedOS", goos, err)
		}
	}
}
