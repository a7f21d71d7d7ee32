package fst

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/bytesref"
)

// FST is an immutable map from byte sequences to non-negative integers,
// packed into a single contiguous byte buffer. Lookups walk packed nodes
// starting at the root offset; concurrent readers need no synchronization.
type FST struct {
	data []byte
	root uint32

	// Entries are decoded lazily after deserialization.
	entriesOnce  sync.Once
	entriesReady bool
	entries      []Entry
	rawEntries   []byte
	entryCount   uint64
	entriesErr   error
}

// byteReader walks the packed node buffer with bounds checking; running off
// the end is corruption, never a panic.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("fst: read past end at %d: %w", r.pos, diagon.ErrCorrupt)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("fst: bad varint at %d: %w", r.pos, diagon.ErrCorrupt)
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) readUint16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("fst: read past end at %d: %w", r.pos, diagon.ErrCorrupt)
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *byteReader) readUint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("fst: read past end at %d: %w", r.pos, diagon.ErrCorrupt)
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) readUint64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("fst: read past end at %d: %w", r.pos, diagon.ErrCorrupt)
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// nodeHeader is the decoded fixed part of a packed node, positioned at the
// start of its arc section.
type nodeHeader struct {
	encoding    byte
	isFinal     bool
	finalOutput int64
	arcsPos     int
}

func (f *FST) readHeader(offset uint32) (nodeHeader, error) {
	if offset == 0 || int(offset) >= len(f.data) {
		return nodeHeader{}, fmt.Errorf("fst: node offset %d out of range: %w", offset, diagon.ErrCorrupt)
	}
	r := &byteReader{data: f.data, pos: int(offset)}

	enc, err := r.readByte()
	if err != nil {
		return nodeHeader{}, err
	}
	if enc > encLinearScan {
		return nodeHeader{}, fmt.Errorf("fst: unknown arc encoding %d: %w", enc, diagon.ErrCorrupt)
	}
	flags, err := r.readByte()
	if err != nil {
		return nodeHeader{}, err
	}

	h := nodeHeader{encoding: enc, isFinal: flags&nodeFlagFinal != 0}
	if h.isFinal {
		v, err := r.readUvarint()
		if err != nil {
			return nodeHeader{}, err
		}
		h.finalOutput = int64(v)
	}
	h.arcsPos = r.pos
	return h, nil
}

// findArc locates the arc for label out of the node at offset. found is
// false when the label has no transition.
func (f *FST) findArc(h nodeHeader, label byte) (output int64, target uint32, found bool, err error) {
	r := &byteReader{data: f.data, pos: h.arcsPos}

	switch h.encoding {
	case encLinearScan:
		count, err := r.readUvarint()
		if err != nil {
			return 0, 0, false, err
		}
		for i := uint64(0); i < count; i++ {
			l, err := r.readByte()
			if err != nil {
				return 0, 0, false, err
			}
			out, err := r.readUvarint()
			if err != nil {
				return 0, 0, false, err
			}
			tgt, err := r.readUvarint()
			if err != nil {
				return 0, 0, false, err
			}
			if l == label {
				return int64(out), uint32(tgt), true, nil
			}
			if l > label {
				return 0, 0, false, nil
			}
		}
		return 0, 0, false, nil

	case encBinarySearch:
		count, err := r.readUint16()
		if err != nil {
			return 0, 0, false, err
		}
		base := r.pos
		if base+int(count)*fixedArcBytesLabeled > len(f.data) {
			return 0, 0, false, fmt.Errorf("fst: truncated arc array: %w", diagon.ErrCorrupt)
		}
		lo, hi := 0, int(count)-1
		for lo <= hi {
			mid := (lo + hi) / 2
			p := base + mid*fixedArcBytesLabeled
			l := f.data[p]
			switch {
			case l == label:
				out := binary.LittleEndian.Uint64(f.data[p+1:])
				tgt := binary.LittleEndian.Uint32(f.data[p+9:])
				return int64(out), tgt, true, nil
			case l < label:
				lo = mid + 1
			default:
				hi = mid - 1
			}
		}
		return 0, 0, false, nil

	case encContinuous:
		first, err := r.readByte()
		if err != nil {
			return 0, 0, false, err
		}
		count, err := r.readUint16()
		if err != nil {
			return 0, 0, false, err
		}
		if label < first || int(label) >= int(first)+int(count) {
			return 0, 0, false, nil
		}
		idx := int(label) - int(first)
		p := r.pos + idx*fixedArcBytes
		if p+fixedArcBytes > len(f.data) {
			return 0, 0, false, fmt.Errorf("fst: truncated arc array: %w", diagon.ErrCorrupt)
		}
		out := binary.LittleEndian.Uint64(f.data[p:])
		tgt := binary.LittleEndian.Uint32(f.data[p+8:])
		return int64(out), tgt, true, nil

	case encDirectAddressing:
		first, err := r.readByte()
		if err != nil {
			return 0, 0, false, err
		}
		table, err := r.readUint64()
		if err != nil {
			return 0, 0, false, err
		}
		if label < first || int(label)-int(first) >= 64 {
			return 0, 0, false, nil
		}
		bit := uint(label - first)
		if table&(1<<bit) == 0 {
			return 0, 0, false, nil
		}
		// Arcs are stored densely in label order; rank = presence bits
		// below this label.
		idx := bits.OnesCount64(table & ((1 << bit) - 1))
		p := r.pos + idx*fixedArcBytes
		if p+fixedArcBytes > len(f.data) {
			return 0, 0, false, fmt.Errorf("fst: truncated arc array: %w", diagon.ErrCorrupt)
		}
		out := binary.LittleEndian.Uint64(f.data[p:])
		tgt := binary.LittleEndian.Uint32(f.data[p+8:])
		return int64(out), tgt, true, nil
	}

	return 0, 0, false, fmt.Errorf("fst: unknown arc encoding %d: %w", h.encoding, diagon.ErrCorrupt)
}

// Get returns the output stored for input, or NoOutput if input was not
// added. An empty FST answers NoOutput for everything.
func (f *FST) Get(input bytesref.Bytes) (int64, error) {
	if f == nil || f.root == 0 {
		return NoOutput, nil
	}

	var accum int64
	offset := f.root
	for _, label := range input {
		h, err := f.readHeader(offset)
		if err != nil {
			return NoOutput, err
		}
		out, target, found, err := f.findArc(h, label)
		if err != nil {
			return NoOutput, err
		}
		if !found {
			return NoOutput, nil
		}
		accum += out
		offset = target
	}

	h, err := f.readHeader(offset)
	if err != nil {
		return NoOutput, err
	}
	if !h.isFinal {
		return NoOutput, nil
	}
	return accum + h.finalOutput, nil
}

// LongestPrefixMatch returns the longest stored input that is a prefix of
// the query, as (prefix length, output). With no stored prefix it returns
// (0, NoOutput).
func (f *FST) LongestPrefixMatch(input bytesref.Bytes) (int, int64, error) {
	if f == nil || f.root == 0 {
		return 0, NoOutput, nil
	}

	bestLen, bestOutput := 0, NoOutput
	var accum int64
	offset := f.root

	for depth := 0; ; depth++ {
		h, err := f.readHeader(offset)
		if err != nil {
			return 0, NoOutput, err
		}
		if h.isFinal {
			bestLen, bestOutput = depth, accum+h.finalOutput
		}
		if depth == len(input) {
			break
		}
		out, target, found, err := f.findArc(h, input[depth])
		if err != nil {
			return 0, NoOutput, err
		}
		if !found {
			break
		}
		accum += out
		offset = target
	}
	return bestLen, bestOutput, nil
}

// Entries returns all stored (input, output) pairs in ascending input
// order. After deserialization the list is decoded once, on first use.
func (f *FST) Entries() ([]Entry, error) {
	f.entriesOnce.Do(func() {
		if f.entriesReady {
			return
		}
		f.entries, f.entriesErr = decodeEntries(f.rawEntries, f.entryCount)
		if f.entriesErr == nil {
			f.entriesReady = true
		}
	})
	return f.entries, f.entriesErr
}

// Len returns the number of stored inputs.
func (f *FST) Len() (int, error) {
	if f.entriesReady {
		return len(f.entries), nil
	}
	return int(f.entryCount), nil
}
