package columnar

import (
	"fmt"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/column"
	"github.com/diagon-project/diagon/store"
)

// Mark file ("<segment>.cmk"): per-column granule marks, so a segment reader
// can address granules across all columns without opening each column file
// header first.
const (
	markMagic   uint32 = 0x444D524B // "DMRK"
	markVersion uint32 = 1
)

// ColumnMarks pairs a column's name and type with its granule marks.
type ColumnMarks struct {
	Name  string
	Type  column.TypeIndex
	Marks []Mark
}

// WriteMarkFile writes the segment mark file for the given columns.
func WriteMarkFile(dir store.Directory, segment string, cols []ColumnMarks) error {
	name := store.SegmentFileName(segment, "", "cmk")
	out, err := dir.CreateOutput(name, store.IOContextDefault)
	if err != nil {
		return err
	}

	werr := func() error {
		if err := out.WriteUint32(markMagic); err != nil {
			return err
		}
		if err := out.WriteUint32(markVersion); err != nil {
			return err
		}
		if err := out.WriteUvarint(uint64(len(cols))); err != nil {
			return err
		}
		for _, c := range cols {
			if err := out.WriteUvarint(uint64(len(c.Name))); err != nil {
				return err
			}
			if err := out.WriteBytes([]byte(c.Name)); err != nil {
				return err
			}
			if err := out.WriteByte(byte(c.Type)); err != nil {
				return err
			}
			if err := out.WriteUvarint(uint64(len(c.Marks))); err != nil {
				return err
			}
			for _, m := range c.Marks {
				if err := out.WriteUvarint(uint64(m.NumRows)); err != nil {
					return err
				}
				if err := out.WriteUvarint(m.DataOffset); err != nil {
					return err
				}
				if err := out.WriteUvarint(uint64(m.FirstDocID)); err != nil {
					return err
				}
			}
		}
		return nil
	}()
	if werr != nil {
		_ = out.Close()
		return werr
	}
	if err := out.Close(); err != nil {
		return err
	}
	return dir.Sync([]string{name})
}

// ReadMarkFile loads the segment mark file.
func ReadMarkFile(dir store.Directory, segment string) ([]ColumnMarks, error) {
	name := store.SegmentFileName(segment, "", "cmk")
	in, err := dir.OpenInput(name, store.IOContextDefault)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	magic, err := in.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("columnar: %s: %v: %w", name, err, diagon.ErrCorrupt)
	}
	if magic != markMagic {
		return nil, fmt.Errorf("columnar: %s bad magic 0x%08x: %w", name, magic, diagon.ErrCorrupt)
	}
	version, err := in.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("columnar: %s: %v: %w", name, err, diagon.ErrCorrupt)
	}
	if version != markVersion {
		return nil, fmt.Errorf("columnar: %s unsupported version %d: %w", name, version, diagon.ErrCorrupt)
	}

	count, err := in.ReadUvarint()
	if err != nil {
		return nil, fmt.Errorf("columnar: %s: %v: %w", name, err, diagon.ErrCorrupt)
	}
	cols := make([]ColumnMarks, 0, count)
	for i := uint64(0); i < count; i++ {
		nameLen, err := in.ReadUvarint()
		if err != nil {
			return nil, fmt.Errorf("columnar: %s: %v: %w", name, err, diagon.ErrCorrupt)
		}
		nameBytes := make([]byte, nameLen)
		if err := in.ReadBytes(nameBytes); err != nil {
			return nil, fmt.Errorf("columnar: %s: %v: %w", name, err, diagon.ErrCorrupt)
		}
		typeByte, err := in.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("columnar: %s: %v: %w", name, err, diagon.ErrCorrupt)
		}
		markCount, err := in.ReadUvarint()
		if err != nil {
			return nil, fmt.Errorf("columnar: %s: %v: %w", name, err, diagon.ErrCorrupt)
		}
		marks := make([]Mark, markCount)
		for j := range marks {
			rows, err := in.ReadUvarint()
			if err != nil {
				return nil, fmt.Errorf("columnar: %s: %v: %w", name, err, diagon.ErrCorrupt)
			}
			offset, err := in.ReadUvarint()
			if err != nil {
				return nil, fmt.Errorf("columnar: %s: %v: %w", name, err, diagon.ErrCorrupt)
			}
			firstDoc, err := in.ReadUvarint()
			if err != nil {
				return nil, fmt.Errorf("columnar: %s: %v: %w", name, err, diagon.ErrCorrupt)
			}
			marks[j] = Mark{NumRows: uint32(rows), DataOffset: offset, FirstDocID: uint32(firstDoc)}
		}
		cols = append(cols, ColumnMarks{Name: string(nameBytes), Type: column.TypeIndex(typeByte), Marks: marks})
	}
	return cols, nil
}
