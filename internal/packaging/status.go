package packaging

import (
	"context"
	"os"
)

// Status is a read-only snapshot of the installation.
type Status struct {
	InstallDir     bool `yaml:"install_dir"`
	EntryPoint     bool `yaml:"entry_point"`
	VirtualEnv     bool `yaml:"venv"`
	Launcher       bool `yaml:"launcher"`
	UnitFile       bool `yaml:"unit_file"`
	ServiceManager bool `yaml:"service_manager"`
	Enabled        bool `yaml:"enabled"`
	Active         bool `yaml:"active"`
}

// Installed reports whether the application files are in place.
func (s Status) Installed() bool {
	return s.InstallDir && s.EntryPoint && s.VirtualEnv
}

// Status inspects the installation. It needs no privileges and changes nothing.
func (ins *Installer) Status(ctx context.Context) Status {
	st := Status{
		InstallDir: exists(ins.cfg.InstallDir),
		EntryPoint: exists(ins.cfg.EntryPointPath()),
		VirtualEnv: exists(ins.cfg.VenvPython()),
		Launcher:   exists(ins.cfg.LauncherPath),
		UnitFile:   exists(ins.cfg.UnitFilePath),
	}
	if ins.systemd != nil && ins.systemd.IsAvailable() {
		st.ServiceManager = true
		st.Enabled = ins.systemd.IsEnabled(ctx, ins.cfg.ServiceName)
		st.Active = ins.systemd.IsActive(ctx, ins.cfg.ServiceName)
	}
	return st
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
