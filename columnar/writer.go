package columnar

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/codec"
	"github.com/diagon-project/diagon/column"
	"github.com/diagon-project/diagon/store"
)

// Column file layout ("<segment>_<column>.col"):
//
//	+--------------------------------------------------------------+
//	| u32 magic "DCOL" | u32 version | u32 rows_per_granule        |
//	| u8 codec_id | u8 type_index                                  |
//	| u32 granule_count                                            |
//	+--------------------------------------------------------------+
//	| per granule:                                                 |
//	|   u32 num_rows | u64 file_offset | u32 compressed_size       |
//	|   u32 uncompressed_size | i64 min | i64 max | u32 start_doc  |
//	+--------------------------------------------------------------+
//	| u32 crc32 over header + granule directory                    |
//	+--------------------------------------------------------------+
//	| data section: compressed granules at the declared offsets    |
//	+--------------------------------------------------------------+
//
// String granules serialize offsets and chars side by side before
// compression: n end-offsets as u64, then the concatenated chars.
const (
	headerBytes       = 4 + 4 + 4 + 1 + 1 + 4
	granuleEntryBytes = 4 + 8 + 4 + 4 + 8 + 8 + 4
)

// WriterOption configures a column writer.
type WriterOption func(*Writer)

// WithGranuleSize overrides the rows-per-granule constant.
func WithGranuleSize(rows int) WriterOption {
	return func(w *Writer) { w.granuleSize = rows }
}

// WithCodec sets the compression codec (LZ4 by default).
func WithCodec(c codec.Codec) WriterOption {
	return func(w *Writer) { w.codec = c }
}

// Writer accumulates one column's rows and flushes them as compressed
// granules. Writers are single-threaded by contract.
type Writer struct {
	dir         store.Directory
	fileName    string
	typ         column.TypeIndex
	codec       codec.Codec
	granuleSize int

	pending   *column.Column
	granules  []GranuleInfo
	data      []byte
	nextDocID uint32
	finished  bool
}

// NewWriter creates a writer for "<segment>_<columnName>.col".
func NewWriter(dir store.Directory, segment, columnName string, typ column.TypeIndex, opts ...WriterOption) (*Writer, error) {
	pending, err := column.New(typ)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		dir:         dir,
		fileName:    store.SegmentFileName(segment, columnName, "col"),
		typ:         typ,
		codec:       codec.LZ4{},
		granuleSize: DefaultGranuleSize,
		pending:     pending,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.granuleSize <= 0 {
		return nil, fmt.Errorf("columnar: granule size %d: %w", w.granuleSize, diagon.ErrInvalidConfig)
	}
	return w, nil
}

// FileName returns the column file this writer produces.
func (w *Writer) FileName() string { return w.fileName }

// Append adds one row.
func (w *Writer) Append(f column.Field) error {
	if w.finished {
		return fmt.Errorf("columnar: append after finish: %w", diagon.ErrInvalidInput)
	}
	if err := w.pending.AppendField(f); err != nil {
		return err
	}
	if w.pending.Rows() >= w.granuleSize {
		return w.flushGranule()
	}
	return nil
}

// Column exposes the pending buffer for typed appends; the caller must call
// MaybeFlush after appending directly.
func (w *Writer) Column() *column.Column { return w.pending }

// MaybeFlush flushes the pending granule if it reached the granule size.
func (w *Writer) MaybeFlush() error {
	if w.pending.Rows() >= w.granuleSize {
		return w.flushGranule()
	}
	return nil
}

func (w *Writer) flushGranule() error {
	rows := w.pending.Rows()
	if rows == 0 {
		return nil
	}

	raw, err := serializeGranule(w.pending)
	if err != nil {
		return err
	}
	minV, maxV, err := granuleMinMax(w.pending)
	if err != nil {
		return err
	}

	dst := make([]byte, w.codec.MaxCompressedSize(len(raw)))
	n, err := w.codec.Compress(dst, raw)
	if err != nil {
		return err
	}

	w.granules = append(w.granules, GranuleInfo{
		NumRows:          uint32(rows),
		FileOffset:       uint64(len(w.data)), // rebased onto the data section in Finish
		CompressedSize:   uint32(n),
		UncompressedSize: uint32(len(raw)),
		Min:              minV,
		Max:              maxV,
		StartDocID:       w.nextDocID,
	})
	w.data = append(w.data, dst[:n]...)
	w.nextDocID += uint32(rows)
	w.pending.Reset()
	return nil
}

// Finish flushes the partial granule, writes the column file and syncs it.
func (w *Writer) Finish() error {
	if w.finished {
		return fmt.Errorf("columnar: finish called twice: %w", diagon.ErrInvalidInput)
	}
	if err := w.flushGranule(); err != nil {
		return err
	}
	w.finished = true

	dataStart := uint64(headerBytes + len(w.granules)*granuleEntryBytes + 4)

	head := make([]byte, 0, int(dataStart))
	head = binary.LittleEndian.AppendUint32(head, Magic)
	head = binary.LittleEndian.AppendUint32(head, Version)
	head = binary.LittleEndian.AppendUint32(head, uint32(w.granuleSize))
	head = append(head, byte(w.codec.ID()), byte(w.typ))
	head = binary.LittleEndian.AppendUint32(head, uint32(len(w.granules)))
	for _, g := range w.granules {
		head = binary.LittleEndian.AppendUint32(head, g.NumRows)
		head = binary.LittleEndian.AppendUint64(head, g.FileOffset+dataStart)
		head = binary.LittleEndian.AppendUint32(head, g.CompressedSize)
		head = binary.LittleEndian.AppendUint32(head, g.UncompressedSize)
		head = binary.LittleEndian.AppendUint64(head, uint64(g.Min))
		head = binary.LittleEndian.AppendUint64(head, uint64(g.Max))
		head = binary.LittleEndian.AppendUint32(head, g.StartDocID)
	}
	head = binary.LittleEndian.AppendUint32(head, crc32.ChecksumIEEE(head))

	out, err := w.dir.CreateOutput(w.fileName, store.IOContextDefault)
	if err != nil {
		return err
	}
	if err := out.WriteBytes(head); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.WriteBytes(w.data); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return w.dir.Sync([]string{w.fileName})
}

// Marks returns the granule marks written, for the segment mark file.
func (w *Writer) Marks() []Mark {
	marks := make([]Mark, len(w.granules))
	for i, g := range w.granules {
		marks[i] = Mark{NumRows: g.NumRows, DataOffset: g.FileOffset, FirstDocID: g.StartDocID}
	}
	return marks
}

// NumRows returns the rows flushed plus pending.
func (w *Writer) NumRows() int {
	n := int(w.nextDocID) + w.pending.Rows()
	return n
}

func serializeGranule(c *column.Column) ([]byte, error) {
	if c.Type() == column.TypeString {
		offsets, chars, err := c.StringStorage()
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(offsets)*8+len(chars))
		for _, off := range offsets {
			out = binary.LittleEndian.AppendUint64(out, off)
		}
		return append(out, chars...), nil
	}
	raw, err := c.RawNumeric()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), raw...), nil
}

// granuleMinMax computes conservative int64 bounds for skip evaluation.
// String granules carry no usable bounds.
func granuleMinMax(c *column.Column) (int64, int64, error) {
	rows := c.Rows()
	if c.Type() == column.TypeString || rows == 0 {
		return 0, 0, nil
	}

	minV, maxV := int64(math.MaxInt64), int64(math.MinInt64)
	update := func(v int64) {
		minV = min(minV, v)
		maxV = max(maxV, v)
	}
	for i := 0; i < rows; i++ {
		switch c.Type() {
		case column.TypeInt64:
			v, err := c.Int64At(i)
			if err != nil {
				return 0, 0, err
			}
			update(v)
		case column.TypeUInt32:
			v, err := c.UInt32At(i)
			if err != nil {
				return 0, 0, err
			}
			update(int64(v))
		case column.TypeUInt64:
			v, err := c.UInt64At(i)
			if err != nil {
				return 0, 0, err
			}
			if v > math.MaxInt64 {
				v = math.MaxInt64
			}
			update(int64(v))
		case column.TypeFloat32:
			v, err := c.Float32At(i)
			if err != nil {
				return 0, 0, err
			}
			update(int64(math.Floor(float64(v))))
			update(int64(math.Ceil(float64(v))))
		case column.TypeFloat64:
			v, err := c.Float64At(i)
			if err != nil {
				return 0, 0, err
			}
			update(int64(math.Floor(v)))
			update(int64(math.Ceil(v)))
		}
	}
	return minV, maxV, nil
}
