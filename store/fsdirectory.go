package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/diagon-project/diagon"
)

// FSDirectory stores index files as plain files in a single directory.
type FSDirectory struct {
	dir     string
	tempSeq atomic.Uint64
	closed  atomic.Bool

	mu    sync.Mutex
	locks map[string]*fsLock
}

// OpenFSDirectory opens (creating if needed) a filesystem directory.
func OpenFSDirectory(dir string) (*FSDirectory, error) {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory %s: %v: %w", dir, err, diagon.ErrIO)
		}
	case err != nil:
		return nil, fmt.Errorf("store: stat %s: %v: %w", dir, err, diagon.ErrIO)
	case !info.IsDir():
		return nil, fmt.Errorf("store: path exists but is not a directory: %s: %w", dir, diagon.ErrInvalidInput)
	}

	return &FSDirectory{dir: dir, locks: make(map[string]*fsLock)}, nil
}

// Path returns the filesystem path backing this directory.
func (d *FSDirectory) Path() string { return d.dir }

func (d *FSDirectory) ensureOpen() error {
	if d.closed.Load() {
		return fmt.Errorf("store: directory %s already closed: %w", d.dir, diagon.ErrInvalidInput)
	}
	return nil
}

func (d *FSDirectory) ListAll() ([]string, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %v: %w", d.dir, err, diagon.ErrIO)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return sortedNames(names), nil
}

func (d *FSDirectory) DeleteFile(name string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(d.dir, name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("store: delete %s: %w", name, diagon.ErrNotFound)
		}
		return fmt.Errorf("store: delete %s: %v: %w", name, err, diagon.ErrIO)
	}
	return nil
}

func (d *FSDirectory) FileLength(name string) (int64, error) {
	if err := d.ensureOpen(); err != nil {
		return 0, err
	}
	info, err := os.Stat(filepath.Join(d.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("store: stat %s: %w", name, diagon.ErrNotFound)
		}
		return 0, fmt.Errorf("store: stat %s: %v: %w", name, err, diagon.ErrIO)
	}
	return info.Size(), nil
}

func (d *FSDirectory) CreateOutput(name string, _ IOContext) (*IndexOutput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(d.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("store: create %s: file exists: %w", name, diagon.ErrInvalidInput)
		}
		return nil, fmt.Errorf("store: create %s: %v: %w", name, err, diagon.ErrIO)
	}
	return newIndexOutput(name, f, f), nil
}

func (d *FSDirectory) CreateTempOutput(prefix, suffix string) (*IndexOutput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	for {
		name := fmt.Sprintf("%s_%d%s.tmp", prefix, d.tempSeq.Add(1), suffix)
		f, err := os.OpenFile(filepath.Join(d.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: create temp %s: %v: %w", name, err, diagon.ErrIO)
		}
		return newIndexOutput(name, f, f), nil
	}
}

func (d *FSDirectory) OpenInput(name string, _ IOContext) (IndexInput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(d.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("store: open %s: %w", name, diagon.ErrNotFound)
		}
		return nil, fmt.Errorf("store: open %s: %v: %w", name, err, diagon.ErrIO)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("store: stat %s: %v: %w", name, err, diagon.ErrIO)
	}
	return &fileInput{name: name, r: f, closer: f, length: info.Size()}, nil
}

func (d *FSDirectory) Rename(src, dst string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	dstPath := filepath.Join(d.dir, dst)
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("store: rename %s -> %s: destination exists: %w", src, dst, diagon.ErrInvalidInput)
	}
	if err := os.Rename(filepath.Join(d.dir, src), dstPath); err != nil {
		return fmt.Errorf("store: rename %s -> %s: %v: %w", src, dst, err, diagon.ErrIO)
	}
	return nil
}

func (d *FSDirectory) Sync(names []string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	var errs error
	for _, name := range names {
		errs = multierr.Append(errs, d.syncFile(name))
	}
	return errs
}

func (d *FSDirectory) syncFile(name string) error {
	f, err := os.Open(filepath.Join(d.dir, name))
	if err != nil {
		return fmt.Errorf("store: sync %s: %v: %w", name, err, diagon.ErrIO)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("store: sync %s: %v: %w", name, err, diagon.ErrIO)
	}
	return nil
}

func (d *FSDirectory) SyncMetaData() error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	f, err := os.Open(d.dir)
	if err != nil {
		return fmt.Errorf("store: sync metadata %s: %v: %w", d.dir, err, diagon.ErrIO)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("store: sync metadata %s: %v: %w", d.dir, err, diagon.ErrIO)
	}
	return nil
}

func (d *FSDirectory) ObtainLock(name string) (Lock, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	path := filepath.Join(d.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("store: lock %s held: %w", name, diagon.ErrIO)
		}
		return nil, fmt.Errorf("store: lock %s: %v: %w", name, err, diagon.ErrIO)
	}
	_ = f.Close()

	l := &fsLock{path: path}
	d.mu.Lock()
	d.locks[name] = l
	d.mu.Unlock()
	return l, nil
}

func (d *FSDirectory) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs error
	for _, l := range d.locks {
		errs = multierr.Append(errs, l.Release())
	}
	d.locks = nil
	return errs
}

type fsLock struct {
	path     string
	released atomic.Bool
}

func (l *fsLock) Release() error {
	if l.released.Swap(true) {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: release lock %s: %v: %w", l.path, err, diagon.ErrIO)
	}
	return nil
}
