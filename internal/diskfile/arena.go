// Package diskfile owns the on-disk file handles that source blocks and
// target blocks point into. Callers never hold a raw *os.File: they hold an
// arena index, resolved to a path (and opened) only when needed. This
// breaks the cyclic-ownership problem that a direct back-pointer from a
// block location to its open file would create, since the same physical
// file can be both a candidate being scanned and the eventual repair
// target.
package diskfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// Unset is the sentinel arena index meaning "no disk file resolved yet".
const Unset = -1

// Arena is a canonical-path-to-index registry of disk files, backed by an
// afero.Fs so it can be exercised against an in-memory filesystem in tests.
type Arena struct {
	fsys afero.Fs

	mu     sync.Mutex
	paths  []string
	byPath map[string]int
}

// NewArena returns an empty Arena backed by fsys.
func NewArena(fsys afero.Fs) *Arena {
	return &Arena{
		fsys:   fsys,
		byPath: make(map[string]int),
	}
}

// Resolve returns the arena index for path, canonicalizing it first,
// registering a new slot on first sight.
func (a *Arena) Resolve(path string) int {
	canon := filepath.Clean(path)

	a.mu.Lock()
	defer a.mu.Unlock()

	if idx, ok := a.byPath[canon]; ok {
		return idx
	}

	idx := len(a.paths)
	a.paths = append(a.paths, canon)
	a.byPath[canon] = idx

	return idx
}

// Path returns the canonical path registered at idx.
func (a *Arena) Path(idx int) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.paths[idx]
}

// Fs returns the backing filesystem, for callers that need to perform a
// filesystem operation the Arena itself does not wrap (e.g. existence
// checks against a path not yet resolved to an index).
func (a *Arena) Fs() afero.Fs {
	return a.fsys
}

// Len reports how many distinct paths have been resolved.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.paths)
}

// Open opens the disk file registered at idx for reading.
func (a *Arena) Open(idx int) (afero.File, error) {
	f, err := a.fsys.Open(a.Path(idx))
	if err != nil {
		return nil, fmt.Errorf("failed to open arena file: %w", err)
	}

	return f, nil
}

// Create creates (or truncates) the disk file registered at idx for
// writing, making any missing parent directories first.
func (a *Arena) Create(idx int) (afero.File, error) {
	path := a.Path(idx)

	if err := a.fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}

	f, err := a.fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create arena file: %w", err)
	}

	return f, nil
}

// OpenWrite opens the disk file registered at idx for random-access
// writing without truncating it, creating it (and any missing parent
// directories) first if it does not yet exist. This is what the repair
// executor uses to write copy- and output-block chunks at arbitrary
// offsets into a target file that Create already sized once.
func (a *Arena) OpenWrite(idx int) (afero.File, error) {
	path := a.Path(idx)

	if err := a.fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}

	f, err := a.fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open arena file for writing: %w", err)
	}

	return f, nil
}

// Rename moves the disk file registered at idx to newPath on the backing
// filesystem and repoints the arena's path registry at the new location,
// preserving idx so every existing BlockLocation referencing it stays
// valid. Used by the orchestrator's rename policy, where a file proven
// complete under the wrong name is moved into (or out of) its expected
// slot without disturbing any block location already recorded against it.
func (a *Arena) Rename(idx int, newPath string) error {
	a.mu.Lock()
	oldPath := a.paths[idx]
	a.mu.Unlock()

	newCanon := filepath.Clean(newPath)

	if err := a.fsys.MkdirAll(filepath.Dir(newCanon), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	if err := a.fsys.Rename(oldPath, newCanon); err != nil {
		return fmt.Errorf("failed to rename arena file: %w", err)
	}

	a.mu.Lock()
	delete(a.byPath, oldPath)
	a.paths[idx] = newCanon
	a.byPath[newCanon] = idx
	a.mu.Unlock()

	return nil
}

// Stat stats the disk file registered at idx.
func (a *Arena) Stat(idx int) (int64, error) {
	info, err := a.fsys.Stat(a.Path(idx))
	if err != nil {
		return 0, fmt.Errorf("failed to stat arena file: %w", err)
	}

	return info.Size(), nil
}
