package index

import (
	"fmt"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/column"
	"github.com/diagon-project/diagon/store"
)

// SegmentInfo identifies a segment and its document count.
type SegmentInfo struct {
	Name   string
	MaxDoc int
}

// SegmentWriteState is the shared state handed to format writers during a
// segment flush.
type SegmentWriteState struct {
	Directory     store.Directory
	SegmentName   string
	SegmentSuffix string
	Context       store.IOContext
	SegmentInfo   *SegmentInfo
	FieldInfos    *FieldInfos
}

// SegmentReadState is the shared state handed to format readers when a
// segment opens.
type SegmentReadState struct {
	Directory     store.Directory
	SegmentName   string
	SegmentSuffix string
	Context       store.IOContext
	SegmentInfo   *SegmentInfo
	FieldInfos    *FieldInfos
}

// Segment info file ("<segment>.si"): the published root of a segment.
// A segment is visible iff its .si exists; the writer stages it under a
// temp name and renames on commit.
const (
	siMagic   uint32 = 0x44534749 // "DSGI"
	siVersion uint32 = 1
)

func writeSegmentInfo(dir store.Directory, info SegmentInfo, fields *FieldInfos) error {
	out, err := dir.CreateTempOutput(info.Name, "_si")
	if err != nil {
		return err
	}
	tmpName := out.Name()

	werr := func() error {
		if err := out.WriteUint32(siMagic); err != nil {
			return err
		}
		if err := out.WriteUint32(siVersion); err != nil {
			return err
		}
		if err := out.WriteUint32(uint32(info.MaxDoc)); err != nil {
			return err
		}
		if err := out.WriteUvarint(uint64(fields.Len())); err != nil {
			return err
		}
		for _, f := range fields.All() {
			if err := out.WriteUvarint(uint64(len(f.Name))); err != nil {
				return err
			}
			if err := out.WriteBytes([]byte(f.Name)); err != nil {
				return err
			}
			if err := out.WriteByte(byte(f.Type)); err != nil {
				return err
			}
			var flags byte
			if f.Indexed {
				flags |= 1
			}
			if f.Stored {
				flags |= 2
			}
			if f.Sparse {
				flags |= 4
			}
			if err := out.WriteByte(flags); err != nil {
				return err
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

	if err := dir.Sync([]string{tmpName}); err != nil {
		return err
	}
	if err := dir.Rename(tmpName, store.SegmentFileName(info.Name, "", "si")); err != nil {
		return err
	}
	return dir.SyncMetaData()
}

func readSegmentInfo(dir store.Directory, segment string) (SegmentInfo, *FieldInfos, error) {
	name := store.SegmentFileName(segment, "", "si")
	in, err := dir.OpenInput(name, store.IOContextDefault)
	if err != nil {
		return SegmentInfo{}, nil, err
	}
	defer in.Close()

	magic, err := in.ReadUint32()
	if err != nil {
		return SegmentInfo{}, nil, fmt.Errorf("index: %s: %v: %w", name, err, diagon.ErrCorrupt)
	}
	if magic != siMagic {
		return SegmentInfo{}, nil, fmt.Errorf("index: %s bad magic 0x%08x: %w", name, magic, diagon.ErrCorrupt)
	}
	version, err := in.ReadUint32()
	if err != nil || version != siVersion {
		return SegmentInfo{}, nil, fmt.Errorf("index: %s version: %w", name, diagon.ErrCorrupt)
	}

	maxDoc, err := in.ReadUint32()
	if err != nil {
		return SegmentInfo{}, nil, fmt.Errorf("index: %s: %v: %w", name, err, diagon.ErrCorrupt)
	}
	fieldCount, err := in.ReadUvarint()
	if err != nil {
		return SegmentInfo{}, nil, fmt.Errorf("index: %s: %v: %w", name, err, diagon.ErrCorrupt)
	}

	fields := make([]FieldInfo, 0, fieldCount)
	for i := uint64(0); i < fieldCount; i++ {
		nameLen, err := in.ReadUvarint()
		if err != nil {
			return SegmentInfo{}, nil, fmt.Errorf("index: %s: %v: %w", name, err, diagon.ErrCorrupt)
		}
		fieldName := make([]byte, nameLen)
		if err := in.ReadBytes(fieldName); err != nil {
			return SegmentInfo{}, nil, fmt.Errorf("index: %s: %v: %w", name, err, diagon.ErrCorrupt)
		}
		typeByte, err := in.ReadByte()
		if err != nil {
			return SegmentInfo{}, nil, fmt.Errorf("index: %s: %v: %w", name, err, diagon.ErrCorrupt)
		}
		flags, err := in.ReadByte()
		if err != nil {
			return SegmentInfo{}, nil, fmt.Errorf("index: %s: %v: %w", name, err, diagon.ErrCorrupt)
		}
		fields = append(fields, FieldInfo{
			Name:    string(fieldName),
			Type:    column.TypeIndex(typeByte),
			Indexed: flags&1 != 0,
			Stored:  flags&2 != 0,
			Sparse:  flags&4 != 0,
		})
	}

	infos, err := NewFieldInfos(fields...)
	if err != nil {
		return SegmentInfo{}, nil, fmt.Errorf("index: %s fields: %w", name, diagon.ErrCorrupt)
	}
	return SegmentInfo{Name: segment, MaxDoc: int(maxDoc)}, infos, nil
}
