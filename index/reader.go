package index

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/columnar"
	"github.com/diagon-project/diagon/sparse"
	"github.com/diagon-project/diagon/store"
	"github.com/diagon-project/diagon/termdict"
)

// SegmentReader resolves a published segment's per-field handles. Field
// readers open lazily and are cached; a SegmentReader serves concurrent
// callers.
type SegmentReader struct {
	dir    store.Directory
	info   SegmentInfo
	fields *FieldInfos

	mu      sync.Mutex
	columns map[string]*columnar.Reader
	terms   map[string]*termdict.Reader
	sindis  map[string]*sparse.SindiIndex
	qblocks map[string]*sparse.QBlockIndex
}

// OpenSegmentReader opens a segment by name. A missing .si means the
// segment was never published.
func OpenSegmentReader(dir store.Directory, segment string) (*SegmentReader, error) {
	info, fields, err := readSegmentInfo(dir, segment)
	if err != nil {
		return nil, err
	}
	return &SegmentReader{
		dir:     dir,
		info:    info,
		fields:  fields,
		columns: make(map[string]*columnar.Reader),
		terms:   make(map[string]*termdict.Reader),
		sindis:  make(map[string]*sparse.SindiIndex),
		qblocks: make(map[string]*sparse.QBlockIndex),
	}, nil
}

// Info returns the segment identity.
func (r *SegmentReader) Info() SegmentInfo { return r.info }

// FieldInfos returns the segment's field registry.
func (r *SegmentReader) FieldInfos() *FieldInfos { return r.fields }

// NumDocs returns the segment's document count.
func (r *SegmentReader) NumDocs() int { return r.info.MaxDoc }

func (r *SegmentReader) fieldWith(name string, want func(*FieldInfo) bool, kind string) (*FieldInfo, error) {
	f := r.fields.FieldInfo(name)
	if f == nil {
		return nil, fmt.Errorf("index: field %q: %w", name, diagon.ErrNotFound)
	}
	if !want(f) {
		return nil, fmt.Errorf("index: field %q is not %s: %w", name, kind, diagon.ErrInvalidInput)
	}
	return f, nil
}

// Column returns the columnar reader of a stored field.
func (r *SegmentReader) Column(name string) (*columnar.Reader, error) {
	if _, err := r.fieldWith(name, func(f *FieldInfo) bool { return f.Stored }, "stored"); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.columns[name]; ok {
		return cached, nil
	}
	reader, err := columnar.OpenReader(r.dir, r.info.Name, name)
	if err != nil {
		return nil, err
	}
	r.columns[name] = reader
	return reader, nil
}

// Terms returns the term dictionary reader of an indexed field.
func (r *SegmentReader) Terms(name string) (*termdict.Reader, error) {
	if _, err := r.fieldWith(name, func(f *FieldInfo) bool { return f.Indexed }, "indexed"); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.terms[name]; ok {
		return cached, nil
	}
	reader, err := termdict.OpenReader(r.dir, r.info.Name, name)
	if err != nil {
		return nil, err
	}
	r.terms[name] = reader
	return reader, nil
}

// Sindi returns the SINDI index of a sparse field.
func (r *SegmentReader) Sindi(name string) (*sparse.SindiIndex, error) {
	if _, err := r.fieldWith(name, func(f *FieldInfo) bool { return f.Sparse }, "sparse"); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.sindis[name]; ok {
		return cached, nil
	}
	idx, err := sparse.LoadSindiIndex(r.dir, r.info.Name+"_"+name)
	if err != nil {
		return nil, err
	}
	r.sindis[name] = idx
	return idx, nil
}

// QBlock returns the QBlock index of a sparse field, when one was built.
func (r *SegmentReader) QBlock(name string) (*sparse.QBlockIndex, error) {
	if _, err := r.fieldWith(name, func(f *FieldInfo) bool { return f.Sparse }, "sparse"); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.qblocks[name]; ok {
		return cached, nil
	}
	idx, err := sparse.LoadQBlockIndex(r.dir, r.info.Name+"_"+name)
	if err != nil {
		return nil, err
	}
	r.qblocks[name] = idx
	return idx, nil
}

// Close releases every cached field reader.
func (r *SegmentReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs error
	for _, c := range r.columns {
		errs = multierr.Append(errs, c.Close())
	}
	for _, t := range r.terms {
		errs = multierr.Append(errs, t.Close())
	}
	r.columns = make(map[string]*columnar.Reader)
	r.terms = make(map[string]*termdict.Reader)
	return errs
}
