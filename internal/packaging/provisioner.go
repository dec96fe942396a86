package packaging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ollama-lan/ollama-lan/internal/fetch"
	"github.com/ollama-lan/ollama-lan/internal/fsutil"
)

// provision materialises src into the installation target. Every step
// overwrites in place, so re-running after a failure is the recovery path.
func (ins *Installer) provision(ctx context.Context, src *fetch.Source) error {
	// 1. Target directory
	if err := os.MkdirAll(ins.cfg.InstallDir, 0o755); err != nil {
		return fmt.Errorf("packaging: create install directory %s: %w", ins.cfg.InstallDir, err)
	}
	ins.logger.Info("install directory ready", "path", ins.cfg.InstallDir)

	// 2. Application files
	files := []struct {
		src, dst string
		perm     os.FileMode
	}{
		{src.EntryPoint, ins.cfg.EntryPointPath(), 0o755},
		{src.Manifest, ins.cfg.ManifestPath(), 0o644},
	}
	for _, f := range files {
		if err := fsutil.CopyFileAtomic(f.src, f.dst, f.perm); err != nil {
			return fmt.Errorf("packaging: copy %s: %w", filepath.Base(f.dst), err)
		}
		ins.logger.Info("file installed", "path", f.dst)
	}

	// 3. Ownership
	if err := chownTree(ins.cfg.InstallDir, ins.cfg.RuntimeUID, ins.cfg.RuntimeGID); err != nil {
		return fmt.Errorf("packaging: chown %s: %w", ins.cfg.InstallDir, err)
	}
	ins.logger.Info("ownership set", "path", ins.cfg.InstallDir,
		"owner", ins.cfg.RuntimeUser+":"+ins.cfg.RuntimeGroup)

	// 4. Virtual environment, reused when present
	if _, err := os.Stat(ins.cfg.VenvPython()); errors.Is(err, os.ErrNotExist) {
		ins.logger.Info("creating virtual environment", "path", ins.cfg.VenvDir())
		if err := ins.runner.Run(ctx, ins.cfg.InstallDir, ins.cfg.PythonBin, "-m", "venv", ins.cfg.VenvDir()); err != nil {
			return fmt.Errorf("packaging: create virtual environment: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("packaging: stat virtual environment: %w", err)
	} else {
		ins.logger.Info("existing virtual environment reused", "path", ins.cfg.VenvDir())
	}

	// 5. Dependencies
	ins.logger.Info("installing dependencies", "manifest", ins.cfg.ManifestPath())
	pip := filepath.Join(ins.cfg.VenvDir(), "bin", "pip")
	if err := ins.runner.Run(ctx, ins.cfg.InstallDir, pip, "install", "--upgrade", "-r", ins.cfg.ManifestPath()); err != nil {
		return fmt.Errorf("packaging: install dependencies: %w", err)
	}

	// 6. Launcher
	if err := os.MkdirAll(filepath.Dir(ins.cfg.LauncherPath), 0o755); err != nil {
		return fmt.Errorf("packaging: create launcher directory: %w", err)
	}
	launcher := []byte(GenerateLauncher(ins.cfg))
	if err := fsutil.WriteFileAtomic(filepath.Dir(ins.cfg.LauncherPath), filepath.Base(ins.cfg.LauncherPath), launcher, 0o755); err != nil {
		return fmt.Errorf("packaging: write launcher: %w", err)
	}
	ins.logger.Info("launcher installed", "path", ins.cfg.LauncherPath)

	return nil
}

// chownTree sets uid:gid on root and everything below it without following symlinks.
func chownTree(root string, uid, gid int) error {
	return filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(path, uid, gid)
	})
}
