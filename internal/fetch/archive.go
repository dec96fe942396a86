package fetch

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	// maxEntrySize caps any single regular file in the archive (256 MiB).
	maxEntrySize = 256 << 20

	// maxTotalSize caps the sum of all extracted files (1 GiB).
	maxTotalSize = 1 << 30
)

// ErrUnsafePath is returned for archive entries that would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("fetch: archive entry escapes extraction directory")

// extractTarGz decompresses the gzip tar stream r into dir. Only regular
// files, directories and symlinks pointing inside dir are materialised.
func extractTarGz(r io.Reader, dir string) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("fetch: open gzip stream: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	var total int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, hdr.Name)
		}
		if err != nil {
			return fmt.Errorf("fetch: read tar entry: %w", err)
		}

		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("fetch: create directory %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if hdr.Size > maxEntrySize {
				return fmt.Errorf("fetch: archive entry %s exceeds %d bytes", hdr.Name, maxEntrySize)
			}
			total += hdr.Size
			if total > maxTotalSize {
				return fmt.Errorf("fetch: archive exceeds %d bytes", maxTotalSize)
			}
			if err := writeEntry(tr, target, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("fetch: extract %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			linkTarget := hdr.Linkname
			if !filepath.IsAbs(linkTarget) {
				linkTarget = filepath.Join(filepath.Dir(target), linkTarget)
			}
			if !within(dir, linkTarget) {
				return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("fetch: create directory for %s: %w", hdr.Name, err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("fetch: create symlink %s: %w", hdr.Name, err)
			}
		default:
			// pax headers, hard links and devices carry nothing the
			// installer copies.
		}
	}
}

func writeEntry(r io.Reader, target string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, io.LimitReader(r, maxEntrySize)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// safeJoin joins name onto dir and rejects results outside dir.
func safeJoin(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(dir, name)
	if !within(dir, target) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func within(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
