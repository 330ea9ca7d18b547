// Package blob stores audio artifacts as content-addressed files on disk.
package blob

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/checksum"
)

// Info describes one stored blob.
type Info struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Store is the interface for audio blob operations.
type Store interface {
	// Put writes data and returns the blob name (checksum + extension).
	Put(data []byte, mimeType string) (string, error)
	// Read returns the raw bytes of the named blob.
	Read(name string) ([]byte, error)
	// Delete removes the named blob. Missing blobs are not an error.
	Delete(name string) error
	// List returns info for every stored blob.
	List() ([]Info, error)
	// Path resolves a blob name to its absolute path.
	Path(name string) (string, error)
}

// Dir implements Store backed by a flat directory.
type Dir struct {
	root string
}

// NewDir creates a Dir store rooted at the given directory, creating it if
// needed.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blob: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &Dir{root: abs}, nil
}

// Root returns the absolute root directory.
func (d *Dir) Root() string {
	return d.root
}

// safeName rejects names with path separators or traversal and resolves the
// absolute path under the root.
func (d *Dir) safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("blob: name is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("blob: invalid name: %s", name)
	}
	abs := filepath.Join(d.root, cleaned)
	if !strings.HasPrefix(abs, d.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("blob: name escapes blob root: %s", name)
	}
	return abs, nil
}

// Put writes data atomically: tmp file → fsync → rename. The blob name is
// derived from the content checksum, so identical payloads dedupe naturally.
func (d *Dir) Put(data []byte, mimeType string) (string, error) {
	name := checksum.Sum(data)[:16] + extensionFor(mimeType)
	abs, err := d.safeName(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(d.root, ".ansuz-tmp-*")
	if err != nil {
		return "", fmt.Errorf("blob: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("blob: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("blob: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("blob: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return "", fmt.Errorf("blob: rename: %w", err)
	}
	success = true
	return name, nil
}

// Read returns the raw bytes of a blob.
func (d *Dir) Read(name string) ([]byte, error) {
	abs, err := d.safeName(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", name, err)
	}
	return data, nil
}

// Delete removes a blob. A missing file is treated as already deleted.
func (d *Dir) Delete(name string) error {
	abs, err := d.safeName(name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: delete %s: %w", name, err)
	}
	return nil
}

// List returns info for every blob in the root directory.
func (d *Dir) List() ([]Info, error) {
	var out []Info
	err := filepath.WalkDir(d.root, func(p string, e fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		out = append(out, Info{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blob: list: %w", err)
	}
	return out, nil
}

// Path resolves a blob name to its absolute path without reading it.
func (d *Dir) Path(name string) (string, error) {
	return d.safeName(name)
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
