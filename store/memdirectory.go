package store

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/diagon-project/diagon"
)

// MemDirectory keeps every file in memory. Used by tests and by the hot tier
// when a cache budget allows fully resident segments.
type MemDirectory struct {
	mu      sync.RWMutex
	files   map[string][]byte
	locks   map[string]bool
	tempSeq atomic.Uint64
	closed  atomic.Bool
}

// NewMemDirectory returns an empty in-memory directory.
func NewMemDirectory() *MemDirectory {
	return &MemDirectory{
		files: make(map[string][]byte),
		locks: make(map[string]bool),
	}
}

func (d *MemDirectory) ensureOpen() error {
	if d.closed.Load() {
		return fmt.Errorf("store: directory already closed: %w", diagon.ErrInvalidInput)
	}
	return nil
}

func (d *MemDirectory) ListAll() ([]string, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.files))
	for name := range d.files {
		names = append(names, name)
	}
	return sortedNames(names), nil
}

func (d *MemDirectory) DeleteFile(name string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[name]; !ok {
		return fmt.Errorf("store: delete %s: %w", name, diagon.ErrNotFound)
	}
	delete(d.files, name)
	return nil
}

func (d *MemDirectory) FileLength(name string) (int64, error) {
	if err := d.ensureOpen(); err != nil {
		return 0, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.files[name]
	if !ok {
		return 0, fmt.Errorf("store: stat %s: %w", name, diagon.ErrNotFound)
	}
	return int64(len(data)), nil
}

func (d *MemDirectory) CreateOutput(name string, _ IOContext) (*IndexOutput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[name]; ok {
		return nil, fmt.Errorf("store: create %s: file exists: %w", name, diagon.ErrInvalidInput)
	}
	d.files[name] = nil
	buf := &bytes.Buffer{}
	return newIndexOutput(name, buf, &memFileCloser{dir: d, name: name, buf: buf}), nil
}

func (d *MemDirectory) CreateTempOutput(prefix, suffix string) (*IndexOutput, error) {
	for {
		name := fmt.Sprintf("%s_%d%s.tmp", prefix, d.tempSeq.Add(1), suffix)
		out, err := d.CreateOutput(name, IOContextDefault)
		if err == nil {
			return out, nil
		}
		if err := d.ensureOpen(); err != nil {
			return nil, err
		}
	}
}

func (d *MemDirectory) OpenInput(name string, _ IOContext) (IndexInput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.files[name]
	if !ok {
		return nil, fmt.Errorf("store: open %s: %w", name, diagon.ErrNotFound)
	}
	return NewBytesInput(name, data), nil
}

func (d *MemDirectory) Rename(src, dst string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[src]
	if !ok {
		return fmt.Errorf("store: rename %s: %w", src, diagon.ErrNotFound)
	}
	if _, ok := d.files[dst]; ok {
		return fmt.Errorf("store: rename %s -> %s: destination exists: %w", src, dst, diagon.ErrInvalidInput)
	}
	d.files[dst] = data
	delete(d.files, src)
	return nil
}

func (d *MemDirectory) Sync([]string) error     { return d.ensureOpen() }
func (d *MemDirectory) SyncMetaData() error     { return d.ensureOpen() }

func (d *MemDirectory) ObtainLock(name string) (Lock, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locks[name] {
		return nil, fmt.Errorf("store: lock %s held: %w", name, diagon.ErrIO)
	}
	d.locks[name] = true
	return &memLock{dir: d, name: name}, nil
}

func (d *MemDirectory) Close() error {
	d.closed.Store(true)
	return nil
}

// memFileCloser publishes the buffered content into the directory when the
// output closes; until then readers see an empty file.
type memFileCloser struct {
	dir  *MemDirectory
	name string
	buf  *bytes.Buffer
}

func (c *memFileCloser) Close() error {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	if _, ok := c.dir.files[c.name]; ok {
		c.dir.files[c.name] = append([]byte(nil), c.buf.Bytes()...)
	}
	return nil
}

type memLock struct {
	dir      *MemDirectory
	name     string
	released atomic.Bool
}

func (l *memLock) Release() error {
	if l.released.Swap(true) {
		return nil
	}
	l.dir.mu.Lock()
	defer l.dir.mu.Unlock()
	delete(l.dir.locks, l.name)
	return nil
}
