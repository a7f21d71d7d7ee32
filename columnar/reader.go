package columnar

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/codec"
	"github.com/diagon-project/diagon/column"
	"github.com/diagon-project/diagon/store"
)

// ReaderOption configures a column reader.
type ReaderOption func(*Reader)

// WithExpectedCodec makes the reader reject files written with a different
// codec instead of trusting the header byte.
func WithExpectedCodec(c codec.Codec) ReaderOption {
	return func(r *Reader) { r.expected = c }
}

// Reader reads one column's granules. The reader clones its input per
// operation, so a single Reader serves concurrent callers.
type Reader struct {
	in          store.IndexInput
	fileName    string
	typ         column.TypeIndex
	codec       codec.Codec
	expected    codec.Codec
	granuleSize int
	granules    []GranuleInfo
	index       *GranuleIndex
}

// ScanStats reports how a range scan treated each granule.
type ScanStats struct {
	Skipped     int
	BulkCounted int
	Scanned     int
}

// OpenReader opens "<segment>_<columnName>.col".
func OpenReader(dir store.Directory, segment, columnName string, opts ...ReaderOption) (*Reader, error) {
	fileName := store.SegmentFileName(segment, columnName, "col")
	in, err := dir.OpenInput(fileName, store.IOContextReadMostly)
	if err != nil {
		return nil, err
	}

	r := &Reader{in: in, fileName: fileName}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.readDirectory(); err != nil {
		_ = in.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readDirectory() error {
	in := r.in.Clone()
	defer in.Close()

	head := make([]byte, headerBytes)
	if err := in.ReadBytes(head); err != nil {
		return fmt.Errorf("columnar: %s header: %v: %w", r.fileName, err, diagon.ErrCorrupt)
	}
	if magic := binary.LittleEndian.Uint32(head[0:]); magic != Magic {
		return fmt.Errorf("columnar: %s bad magic 0x%08x: %w", r.fileName, magic, diagon.ErrCorrupt)
	}
	if version := binary.LittleEndian.Uint32(head[4:]); version != Version {
		return fmt.Errorf("columnar: %s unsupported version %d: %w", r.fileName, version, diagon.ErrCorrupt)
	}
	r.granuleSize = int(binary.LittleEndian.Uint32(head[8:]))

	fileCodec, err := codec.ByID(codec.ID(head[12]))
	if err != nil {
		return err
	}
	if r.expected != nil && r.expected.ID() != fileCodec.ID() {
		return fmt.Errorf("columnar: %s written with %s, reader configured for %s: %w",
			r.fileName, fileCodec.Name(), r.expected.Name(), diagon.ErrCorrupt)
	}
	r.codec = fileCodec
	r.typ = column.TypeIndex(head[13])
	if r.typ == column.TypeNothing || r.typ > column.TypeString {
		return fmt.Errorf("columnar: %s unknown type tag %d: %w", r.fileName, head[13], diagon.ErrCorrupt)
	}

	count := binary.LittleEndian.Uint32(head[14:])
	body := make([]byte, int(count)*granuleEntryBytes)
	if err := in.ReadBytes(body); err != nil {
		return fmt.Errorf("columnar: %s granule directory: %v: %w", r.fileName, err, diagon.ErrCorrupt)
	}
	storedCRC, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("columnar: %s directory crc: %v: %w", r.fileName, err, diagon.ErrCorrupt)
	}
	crc := crc32.ChecksumIEEE(head)
	crc = crc32.Update(crc, crc32.IEEETable, body)
	if crc != storedCRC {
		return fmt.Errorf("columnar: %s directory crc mismatch: %w", r.fileName, diagon.ErrCorrupt)
	}

	r.granules = make([]GranuleInfo, count)
	marks := make([]Mark, count)
	for i := range r.granules {
		e := body[i*granuleEntryBytes:]
		g := GranuleInfo{
			NumRows:          binary.LittleEndian.Uint32(e[0:]),
			FileOffset:       binary.LittleEndian.Uint64(e[4:]),
			CompressedSize:   binary.LittleEndian.Uint32(e[12:]),
			UncompressedSize: binary.LittleEndian.Uint32(e[16:]),
			Min:              int64(binary.LittleEndian.Uint64(e[20:])),
			Max:              int64(binary.LittleEndian.Uint64(e[28:])),
			StartDocID:       binary.LittleEndian.Uint32(e[36:]),
		}
		if g.FileOffset+uint64(g.CompressedSize) > uint64(r.in.Length()) {
			return fmt.Errorf("columnar: %s granule %d beyond file end: %w", r.fileName, i, diagon.ErrCorrupt)
		}
		r.granules[i] = g
		marks[i] = Mark{NumRows: g.NumRows, DataOffset: g.FileOffset, FirstDocID: g.StartDocID}
	}

	r.index, err = NewGranuleIndex(marks)
	return err
}

// Type returns the column's element type.
func (r *Reader) Type() column.TypeIndex { return r.typ }

// Codec returns the codec the file was written with.
func (r *Reader) Codec() codec.Codec { return r.codec }

// Granules returns the granule directory.
func (r *Reader) Granules() []GranuleInfo { return r.granules }

// Index returns the granule index for doc-id translation.
func (r *Reader) Index() *GranuleIndex { return r.index }

// NumRows returns the total row count.
func (r *Reader) NumRows() int { return int(r.index.TotalRows()) }

// ReadGranule decompresses granule i into a column.
func (r *Reader) ReadGranule(i int) (*column.Column, error) {
	if i < 0 || i >= len(r.granules) {
		return nil, fmt.Errorf("columnar: granule %d out of range [0,%d): %w",
			i, len(r.granules), diagon.ErrInvalidInput)
	}
	g := r.granules[i]

	in := r.in.Clone()
	defer in.Close()
	if err := in.Seek(int64(g.FileOffset)); err != nil {
		return nil, err
	}
	compressed := make([]byte, g.CompressedSize)
	if err := in.ReadBytes(compressed); err != nil {
		return nil, fmt.Errorf("columnar: %s granule %d: %v: %w", r.fileName, i, err, diagon.ErrCorrupt)
	}

	raw := make([]byte, g.UncompressedSize)
	if _, err := r.codec.Decompress(raw, compressed); err != nil {
		return nil, err
	}

	if r.typ == column.TypeString {
		n := int(g.NumRows)
		if len(raw) < n*8 {
			return nil, fmt.Errorf("columnar: %s granule %d shorter than offsets array: %w",
				r.fileName, i, diagon.ErrCorrupt)
		}
		offsets := make([]uint64, n)
		for j := range offsets {
			offsets[j] = binary.LittleEndian.Uint64(raw[j*8:])
		}
		return column.FromStringStorage(offsets, raw[n*8:])
	}

	c, err := column.FromRawNumeric(r.typ, raw)
	if err != nil {
		return nil, err
	}
	if c.Rows() != int(g.NumRows) {
		return nil, fmt.Errorf("columnar: %s granule %d has %d rows, directory says %d: %w",
			r.fileName, i, c.Rows(), g.NumRows, diagon.ErrCorrupt)
	}
	return c, nil
}

// FilterInt64Range evaluates low <= v <= high over a numeric column and
// returns the matching doc ids. Granules are skipped on disjoint MinMax,
// bulk-counted when fully contained, and decompressed otherwise.
func (r *Reader) FilterInt64Range(low, high int64) (*roaring.Bitmap, ScanStats, error) {
	var stats ScanStats
	result := roaring.New()

	if r.typ == column.TypeString {
		return nil, stats, fmt.Errorf("columnar: range filter on string column: %w", diagon.ErrInvalidInput)
	}
	if low > high {
		return result, stats, nil
	}

	for i, g := range r.granules {
		switch {
		case g.Max < low || g.Min > high:
			stats.Skipped++

		case g.Min >= low && g.Max <= high:
			stats.BulkCounted++
			result.AddRange(uint64(g.StartDocID), uint64(g.StartDocID)+uint64(g.NumRows))

		default:
			stats.Scanned++
			col, err := r.ReadGranule(i)
			if err != nil {
				return nil, stats, err
			}
			for row := 0; row < col.Rows(); row++ {
				v, err := rowAsInt64(col, row)
				if err != nil {
					return nil, stats, err
				}
				if v >= low && v <= high {
					result.Add(g.StartDocID + uint32(row))
				}
			}
		}
	}
	return result, stats, nil
}

// Close releases the underlying input.
func (r *Reader) Close() error { return r.in.Close() }

func rowAsInt64(c *column.Column, row int) (int64, error) {
	switch c.Type() {
	case column.TypeInt64:
		return c.Int64At(row)
	case column.TypeUInt32:
		v, err := c.UInt32At(row)
		return int64(v), err
	case column.TypeUInt64:
		v, err := c.UInt64At(row)
		return int64(v), err
	case column.TypeFloat32:
		v, err := c.Float32At(row)
		return int64(v), err
	case column.TypeFloat64:
		v, err := c.Float64At(row)
		return int64(v), err
	}
	return 0, fmt.Errorf("columnar: no integer view of %s: %w", c.Type(), diagon.ErrInvalidInput)
}
