package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Default names of the files the fetched tree must contain.
const (
	DefaultEntryPoint = "ollama-lan.py"
	DefaultManifest   = "requirements.txt"
)

var (
	// ErrEntryPointMissing is returned when the extracted tree lacks the entry point.
	ErrEntryPointMissing = errors.New("fetch: entry point not found in archive")

	// ErrManifestMissing is returned when the extracted tree lacks the dependency manifest.
	ErrManifestMissing = errors.New("fetch: dependency manifest not found in archive")
)

// Workspace is an ephemeral directory removed by Close.
type Workspace struct {
	Dir string
}

// NewWorkspace creates a fresh temporary directory under parent (os.TempDir if empty).
func NewWorkspace(parent string) (*Workspace, error) {
	dir, err := os.MkdirTemp(parent, "ollama-lan-fetch-")
	if err != nil {
		return nil, fmt.Errorf("fetch: create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// Close removes the workspace and everything in it. It is safe to call more than once.
func (w *Workspace) Close() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	err := os.RemoveAll(w.Dir)
	w.Dir = ""
	return err
}

// Source is a validated, extracted source tree. Close releases its workspace.
type Source struct {
	// Root is the extracted top directory.
	Root string

	// EntryPoint and Manifest are absolute paths inside Root.
	EntryPoint string
	Manifest   string

	workspace *Workspace
}

// Close removes the workspace holding the source tree.
func (s *Source) Close() error {
	if s == nil {
		return nil
	}
	return s.workspace.Close()
}

// Config holds the Fetcher settings.
type Config struct {
	// EntryPoint is the file name that must exist at the top of the tree.
	// Default: ollama-lan.py
	EntryPoint string

	// Manifest is the dependency manifest file name.
	// Default: requirements.txt
	Manifest string

	// TempDir is the parent of ephemeral workspaces. Default: os.TempDir().
	TempDir string
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.EntryPoint == "" {
		c.EntryPoint = DefaultEntryPoint
	}
	if c.Manifest == "" {
		c.Manifest = DefaultManifest
	}
}

// Fetcher downloads and validates source archives.
type Fetcher struct {
	cfg        Config
	downloader Downloader
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher with defaults applied.
func NewFetcher(cfg Config, downloader Downloader, logger *slog.Logger) *Fetcher {
	cfg.ApplyDefaults()
	return &Fetcher{
		cfg:        cfg,
		downloader: downloader,
		logger:     logger.With("component", "fetch"),
	}
}

// Fetch downloads ref into a new workspace, extracts it and validates the
// expected layout. On error the workspace is already removed; on success
// the caller owns the Source and must Close it.
func (f *Fetcher) Fetch(ctx context.Context, ref Reference) (_ *Source, err error) {
	ref.ApplyDefaults()
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	ws, err := NewWorkspace(f.cfg.TempDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			ws.Close()
		}
	}()

	url := ref.ArchiveURL()
	archivePath := filepath.Join(ws.Dir, "source.tar.gz")
	f.logger.Info("downloading source archive", "url", url, "via", f.downloader.Name())
	if err := f.downloader.Download(ctx, url, archivePath); err != nil {
		return nil, fmt.Errorf("fetch: download %s (%s): %w", url, overrideHint(), err)
	}

	digest, err := hashFile(archivePath)
	if err != nil {
		return nil, err
	}
	f.logger.Info("source archive downloaded", "sha256", digest)
	if err := verifyChecksum(ref.SHA256, digest); err != nil {
		return nil, fmt.Errorf("%w (%s)", err, overrideHint())
	}

	extractDir := filepath.Join(ws.Dir, "src")
	if err := os.Mkdir(extractDir, 0o755); err != nil {
		return nil, fmt.Errorf("fetch: create extraction directory: %w", err)
	}
	archive, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("fetch: open archive: %w", err)
	}
	err = extractTarGz(archive, extractDir)
	archive.Close()
	if err != nil {
		return nil, err
	}

	root := filepath.Join(extractDir, ref.TopDir())
	src := &Source{
		Root:       root,
		EntryPoint: filepath.Join(root, f.cfg.EntryPoint),
		Manifest:   filepath.Join(root, f.cfg.Manifest),
		workspace:  ws,
	}
	if !isRegular(src.EntryPoint) {
		return nil, fmt.Errorf("%w: expected %s/%s in %s (%s)", ErrEntryPointMissing, ref.TopDir(), f.cfg.EntryPoint, url, overrideHint())
	}
	if !isRegular(src.Manifest) {
		return nil, fmt.Errorf("%w: expected %s/%s in %s (%s)", ErrManifestMissing, ref.TopDir(), f.cfg.Manifest, url, overrideHint())
	}

	f.logger.Info("source archive validated", "root", ref.TopDir())
	return src, nil
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
