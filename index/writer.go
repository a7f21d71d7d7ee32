package index

import (
	"fmt"
	"strings"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/bytesref"
	"github.com/diagon-project/diagon/codec"
	"github.com/diagon-project/diagon/column"
	"github.com/diagon-project/diagon/columnar"
	"github.com/diagon-project/diagon/sparse"
	"github.com/diagon-project/diagon/store"
	"github.com/diagon-project/diagon/termdict"
)

// Document is one row of input to the segment writer.
type Document struct {
	values map[string]column.Field
	text   map[string]string
	sparse map[string]sparse.Vector
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		values: make(map[string]column.Field),
		text:   make(map[string]string),
		sparse: make(map[string]sparse.Vector),
	}
}

// SetValue sets a stored field value.
func (d *Document) SetValue(field string, v column.Field) *Document {
	d.values[field] = v
	return d
}

// SetText sets an indexed text field. Tokenization is whitespace splitting.
func (d *Document) SetText(field, text string) *Document {
	d.text[field] = text
	return d
}

// SetSparse sets a sparse-vector field.
func (d *Document) SetSparse(field string, v sparse.Vector) *Document {
	d.sparse[field] = v
	return d
}

// WriterOption configures a segment writer.
type WriterOption func(*SegmentWriter)

// WithCodec sets the columnar compression codec.
func WithCodec(c codec.Codec) WriterOption {
	return func(w *SegmentWriter) { w.codec = c }
}

// WithGranuleSize overrides the columnar granule size.
func WithGranuleSize(rows int) WriterOption {
	return func(w *SegmentWriter) { w.granuleSize = rows }
}

// WithQBlock additionally builds a QBlock index for every sparse field.
func WithQBlock(cfg sparse.QBlockConfig) WriterOption {
	return func(w *SegmentWriter) { w.qblockCfg = &cfg }
}

// WithSindiConfig overrides the SINDI build configuration.
func WithSindiConfig(cfg sparse.SindiConfig) WriterOption {
	return func(w *SegmentWriter) { w.sindiCfg = cfg }
}

// SegmentWriter fans documents into per-field columnar buffers, postings
// accumulators and sparse-vector builders, then commits them as one
// immutable segment. Writers are single-threaded by contract.
type SegmentWriter struct {
	state       SegmentWriteState
	codec       codec.Codec
	granuleSize int
	sindiCfg    sparse.SindiConfig
	qblockCfg   *sparse.QBlockConfig

	colWriters map[string]*columnar.Writer
	termAccum  map[string]*memIndex
	sparseDocs map[string][]sparse.Vector

	numDocs   int
	committed bool
}

// NewSegmentWriter prepares a writer for the given write state.
func NewSegmentWriter(state SegmentWriteState, opts ...WriterOption) (*SegmentWriter, error) {
	if state.FieldInfos == nil || state.FieldInfos.Len() == 0 {
		return nil, fmt.Errorf("index: segment %q has no fields: %w", state.SegmentName, diagon.ErrInvalidConfig)
	}

	w := &SegmentWriter{
		state:       state,
		codec:       codec.LZ4{},
		granuleSize: columnar.DefaultGranuleSize,
		sindiCfg:    sparse.DefaultSindiConfig(),
		colWriters:  make(map[string]*columnar.Writer),
		termAccum:   make(map[string]*memIndex),
		sparseDocs:  make(map[string][]sparse.Vector),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, f := range state.FieldInfos.All() {
		if f.Stored {
			cw, err := columnar.NewWriter(state.Directory, state.SegmentName, f.Name, f.Type,
				columnar.WithCodec(w.codec), columnar.WithGranuleSize(w.granuleSize))
			if err != nil {
				return nil, err
			}
			w.colWriters[f.Name] = cw
		}
		if f.Indexed {
			w.termAccum[f.Name] = newMemIndex()
		}
		if f.Sparse {
			w.sparseDocs[f.Name] = nil
		}
	}
	return w, nil
}

// NumDocs returns the number of documents added so far.
func (w *SegmentWriter) NumDocs() int { return w.numDocs }

// AddDocument appends one document. Missing stored fields become nulls;
// missing sparse fields become empty vectors.
func (w *SegmentWriter) AddDocument(doc *Document) error {
	if w.committed {
		return fmt.Errorf("index: AddDocument after Commit: %w", diagon.ErrInvalidInput)
	}
	docID := uint32(w.numDocs)

	for name, cw := range w.colWriters {
		v, ok := doc.values[name]
		if !ok {
			v = column.NullField()
		}
		if err := cw.Append(v); err != nil {
			return fmt.Errorf("index: field %q doc %d: %w", name, docID, err)
		}
	}

	for name, accum := range w.termAccum {
		for _, token := range strings.Fields(doc.text[name]) {
			accum.addOccurrence(bytesref.FromString(token), docID)
		}
	}

	for name := range w.sparseDocs {
		w.sparseDocs[name] = append(w.sparseDocs[name], doc.sparse[name])
	}

	w.numDocs++
	return nil
}

// Commit finalizes every per-field structure and publishes the segment by
// renaming its .si file into place. Until the rename, readers see nothing.
func (w *SegmentWriter) Commit() error {
	if w.committed {
		return fmt.Errorf("index: Commit called twice: %w", diagon.ErrInvalidInput)
	}
	w.committed = true

	var marks []columnar.ColumnMarks
	for _, f := range w.state.FieldInfos.All() {
		cw, ok := w.colWriters[f.Name]
		if !ok {
			continue
		}
		if err := cw.Finish(); err != nil {
			return err
		}
		marks = append(marks, columnar.ColumnMarks{Name: f.Name, Type: f.Type, Marks: cw.Marks()})
	}
	if len(marks) > 0 {
		if err := columnar.WriteMarkFile(w.state.Directory, w.state.SegmentName, marks); err != nil {
			return err
		}
	}

	for _, f := range w.state.FieldInfos.All() {
		accum, ok := w.termAccum[f.Name]
		if !ok {
			continue
		}
		if err := w.flushTerms(f.Name, accum); err != nil {
			return err
		}
	}

	for _, f := range w.state.FieldInfos.All() {
		docs, ok := w.sparseDocs[f.Name]
		if !ok {
			continue
		}
		if err := w.flushSparse(f.Name, docs); err != nil {
			return err
		}
	}

	return writeSegmentInfo(w.state.Directory,
		SegmentInfo{Name: w.state.SegmentName, MaxDoc: w.numDocs},
		w.state.FieldInfos)
}

// flushTerms drains one field's accumulator into the postings stream and
// the block-tree term dictionary.
func (w *SegmentWriter) flushTerms(field string, accum *memIndex) error {
	pw, err := termdict.NewPostingsWriter(w.state.Directory, w.state.SegmentName, field)
	if err != nil {
		return err
	}
	tw, err := termdict.NewWriter(w.state.Directory, w.state.SegmentName, field, termdict.DefaultConfig())
	if err != nil {
		return err
	}

	for term, postings := range accum.terms() {
		if err := pw.StartTerm(); err != nil {
			return err
		}
		for _, p := range postings {
			if err := pw.AddDoc(p.doc, p.freq); err != nil {
				return err
			}
		}
		stats, err := pw.FinishTerm()
		if err != nil {
			return err
		}
		if err := tw.AddTerm(term, stats); err != nil {
			return err
		}
	}

	if err := pw.Close(); err != nil {
		return err
	}
	if err := w.state.Directory.Sync([]string{pw.FileName()}); err != nil {
		return err
	}
	return tw.Finish()
}

// flushSparse builds and persists the sparse indexes of one field. The
// field name namespaces the files, so one segment can carry several sparse
// fields.
func (w *SegmentWriter) flushSparse(field string, docs []sparse.Vector) error {
	prefix := w.state.SegmentName + "_" + field

	sindi, err := sparse.NewSindiIndex(w.sindiCfg)
	if err != nil {
		return err
	}
	if err := sindi.Build(docs); err != nil {
		return err
	}
	if err := sindi.Save(w.state.Directory, prefix); err != nil {
		return err
	}

	if w.qblockCfg != nil {
		qb, err := sparse.NewQBlockIndex(*w.qblockCfg)
		if err != nil {
			return err
		}
		if err := qb.Build(docs); err != nil {
			return err
		}
		if err := qb.Save(w.state.Directory, prefix); err != nil {
			return err
		}
	}
	return nil
}

// SizeBytes sums the lengths of the segment's published files. Used when
// registering with the tier controller.
func SizeBytes(dir store.Directory, segment string) (int64, error) {
	names, err := dir.ListAll()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, name := range names {
		if !strings.HasPrefix(name, segment) {
			continue
		}
		n, err := dir.FileLength(name)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
