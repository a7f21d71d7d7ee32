package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
	"go.uber.org/multierr"

	"github.com/diagon-project/diagon"
)

// MMapDirectory is an FSDirectory whose inputs are zero-copy views over
// memory-mapped files. Preferred for read-mostly tiers; the sparse indexes
// and packed FSTs read straight out of the mapping.
type MMapDirectory struct {
	*FSDirectory

	mu       sync.Mutex
	mappings []mmap.MMap
}

// OpenMMapDirectory opens (creating if needed) a memory-mapping directory.
func OpenMMapDirectory(dir string) (*MMapDirectory, error) {
	fs, err := OpenFSDirectory(dir)
	if err != nil {
		return nil, err
	}
	return &MMapDirectory{FSDirectory: fs}, nil
}

func (d *MMapDirectory) OpenInput(name string, ctx IOContext) (IndexInput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(d.Path(), name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store: open %s: %w", name, diagon.ErrNotFound)
		}
		return nil, fmt.Errorf("store: open %s: %v: %w", name, err, diagon.ErrIO)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("store: stat %s: %v: %w", name, err, diagon.ErrIO)
	}
	if info.Size() == 0 {
		return NewBytesInput(name, nil), nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("store: mmap %s: %v: %w", name, err, diagon.ErrIO)
	}

	d.mu.Lock()
	d.mappings = append(d.mappings, m)
	d.mu.Unlock()

	// Clones share the mapping; it is released when the directory closes.
	return NewBytesInput(name, m), nil
}

func (d *MMapDirectory) Close() error {
	errs := d.FSDirectory.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.mappings {
		if err := m.Unmap(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("store: unmap: %v: %w", err, diagon.ErrIO))
		}
	}
	d.mappings = nil
	return errs
}
