package fst

import (
	"encoding/binary"
	"fmt"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/bytesref"
)

// Serialized layout:
//
//	u32 magic "DFST" | u32 version
//	uvarint root offset
//	uvarint entry count | entries: (uvarint len, bytes, uvarint output)*
//	uvarint packed length | packed node bytes
const (
	fstMagic   uint32 = 0x44465354 // "DFST"
	fstVersion uint32 = 1
)

// Serialize encodes the FST as a single byte stream. The stored entries are
// carried alongside the packed nodes so iteration survives a round trip.
func (f *FST) Serialize() ([]byte, error) {
	entries, err := f.Entries()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 16+len(f.data))
	out = binary.LittleEndian.AppendUint32(out, fstMagic)
	out = binary.LittleEndian.AppendUint32(out, fstVersion)
	out = binary.AppendUvarint(out, uint64(f.root))

	out = binary.AppendUvarint(out, uint64(len(entries)))
	for _, e := range entries {
		out = binary.AppendUvarint(out, uint64(len(e.Input)))
		out = append(out, e.Input...)
		out = binary.AppendUvarint(out, uint64(e.Output))
	}

	out = binary.AppendUvarint(out, uint64(len(f.data)))
	out = append(out, f.data...)
	return out, nil
}

// Deserialize reconstructs an FST from Serialize's output. The entry list is
// not decoded until Entries is first called.
func Deserialize(data []byte) (*FST, error) {
	r := &byteReader{data: data}

	magic, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if magic != fstMagic {
		return nil, fmt.Errorf("fst: bad magic 0x%08x: %w", magic, diagon.ErrCorrupt)
	}
	version, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if version != fstVersion {
		return nil, fmt.Errorf("fst: unsupported version %d: %w", version, diagon.ErrCorrupt)
	}

	root, err := r.readUvarint()
	if err != nil {
		return nil, err
	}

	entryCount, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	entriesStart := r.pos
	// Skip the entry region without materializing it.
	for i := uint64(0); i < entryCount; i++ {
		n, err := r.readUvarint()
		if err != nil {
			return nil, err
		}
		if r.pos+int(n) > len(data) {
			return nil, fmt.Errorf("fst: truncated entry %d: %w", i, diagon.ErrCorrupt)
		}
		r.pos += int(n)
		if _, err := r.readUvarint(); err != nil {
			return nil, err
		}
	}
	rawEntries := data[entriesStart:r.pos]

	packedLen, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	if r.pos+int(packedLen) > len(data) {
		return nil, fmt.Errorf("fst: truncated packed data: %w", diagon.ErrCorrupt)
	}
	packed := data[r.pos : r.pos+int(packedLen)]

	if root >= uint64(max(len(packed), 1)) {
		return nil, fmt.Errorf("fst: root offset %d out of range: %w", root, diagon.ErrCorrupt)
	}

	return &FST{
		data:       packed,
		root:       uint32(root),
		rawEntries: rawEntries,
		entryCount: entryCount,
	}, nil
}

func decodeEntries(raw []byte, count uint64) ([]Entry, error) {
	r := &byteReader{data: raw}
	entries := make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		n, err := r.readUvarint()
		if err != nil {
			return nil, err
		}
		if r.pos+int(n) > len(raw) {
			return nil, fmt.Errorf("fst: truncated entry %d: %w", i, diagon.ErrCorrupt)
		}
		input := bytesref.Bytes(raw[r.pos : r.pos+int(n)]).Clone()
		r.pos += int(n)
		output, err := r.readUvarint()
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Input: input, Output: int64(output)})
	}
	return entries, nil
}
