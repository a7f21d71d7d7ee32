// Package fst implements the packed finite-state transducer that maps byte
// sequences to non-negative integer outputs. The term dictionary uses it to
// map block prefixes to file pointers.
//
// Construction requires strictly ascending inputs. Suffixes are frozen into
// a contiguous byte buffer as soon as they can no longer change, and frozen
// nodes are deduplicated by content, so the result is a minimal DAG rather
// than a trie. Outputs are factored forward onto shared prefix arcs so that
// the accumulated output along each accepting path equals the value the
// input was added with.
package fst

import (
	"encoding/binary"
	"fmt"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/bytesref"
)

// NoOutput is the distinguished absent value. All real outputs are
// non-negative.
const NoOutput int64 = -1

// Arc encoding tags. Each packed node chooses one.
const (
	encDirectAddressing byte = 0 // dense label set, bit table + popcount
	encBinarySearch     byte = 1 // fixed-width arcs sorted by label
	encContinuous       byte = 2 // gap-free label range, index arithmetic
	encLinearScan       byte = 3 // few arcs, variable-width
)

const nodeFlagFinal byte = 0x01

// Fixed arc widths: output as uint64 plus target offset as uint32, with one
// leading label byte only in the binary-search layout.
const (
	fixedArcBytes        = 12
	fixedArcBytesLabeled = 13
)

// Entry is one stored (input, output) pair.
type Entry struct {
	Input  bytesref.Bytes
	Output int64
}

type buildArc struct {
	label  byte
	output int64
	target uint32     // packed offset, set when the child freezes
	node   *buildNode // unfrozen child, nil once frozen
}

type buildNode struct {
	arcs        []buildArc
	isFinal     bool
	finalOutput int64
}

// Builder constructs an FST from sorted (input, output) additions.
type Builder struct {
	buf       []byte
	dedup     map[string]uint32
	frontier  []*buildNode
	lastInput bytesref.Bytes
	entries   []Entry
	count     int
	finished  bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		// Offset 0 is reserved so it can mean "no node".
		buf:      []byte{0},
		dedup:    make(map[string]uint32),
		frontier: []*buildNode{{}},
	}
}

// Add inserts input with the given output. Inputs must arrive in strictly
// ascending byte order; output must be non-negative.
func (b *Builder) Add(input bytesref.Bytes, output int64) error {
	if b.finished {
		return fmt.Errorf("fst: add after finish: %w", diagon.ErrInvalidInput)
	}
	if output < 0 {
		return fmt.Errorf("fst: negative output %d: %w", output, diagon.ErrInvalidInput)
	}
	if b.count > 0 {
		if cmp := input.Compare(b.lastInput); cmp == 0 {
			return fmt.Errorf("fst: duplicate input %q: %w", input, diagon.ErrInvalidInput)
		} else if cmp < 0 {
			return fmt.Errorf("fst: out-of-order input %q after %q: %w", input, b.lastInput, diagon.ErrInvalidInput)
		}
	}

	prefixLen := bytesref.CommonPrefixLen(input, b.lastInput)
	b.freezeTail(prefixLen)

	// Extend the frontier with the new suffix.
	for d := prefixLen; d < len(input); d++ {
		child := &buildNode{}
		parent := b.frontier[d]
		parent.arcs = append(parent.arcs, buildArc{label: input[d], node: child})
		b.frontier = append(b.frontier, child)
	}

	// Factor the output forward along the shared prefix: each shared arc
	// keeps the common part, the difference is pushed down onto the
	// child's outgoing arcs and final output.
	remaining := output
	for d := 0; d < prefixLen; d++ {
		arc := &b.frontier[d].arcs[len(b.frontier[d].arcs)-1]
		common := min(arc.output, remaining)
		if delta := arc.output - common; delta > 0 {
			child := b.frontier[d+1]
			for i := range child.arcs {
				child.arcs[i].output += delta
			}
			if child.isFinal {
				child.finalOutput += delta
			}
		}
		arc.output = common
		remaining -= common
	}

	last := b.frontier[len(input)]
	if len(input) > prefixLen {
		// The first fresh arc carries what is left of the output.
		arc := &b.frontier[prefixLen].arcs[len(b.frontier[prefixLen].arcs)-1]
		arc.output = remaining
		last.isFinal = true
		last.finalOutput = 0
	} else {
		// Only the empty input lands here (it must be the first add).
		last.isFinal = true
		last.finalOutput = remaining
	}

	b.lastInput = input.Clone()
	b.entries = append(b.entries, Entry{Input: b.lastInput, Output: output})
	b.count++
	return nil
}

// Finish freezes the remaining frontier and returns the packed FST. The
// builder is invalidated.
func (b *Builder) Finish() (*FST, error) {
	if b.finished {
		return nil, fmt.Errorf("fst: finish called twice: %w", diagon.ErrInvalidInput)
	}
	b.finished = true

	var root uint32
	if b.count > 0 {
		b.freezeTail(0)
		root = b.compileNode(b.frontier[0])
	}

	return &FST{data: b.buf, root: root, entries: b.entries, entriesReady: true}, nil
}

// Entries returns the pairs added so far, in order.
func (b *Builder) Entries() []Entry { return b.entries }

// freezeTail compiles frontier nodes deeper than depth, deepest first, and
// patches the parent arcs with the packed offsets.
func (b *Builder) freezeTail(depth int) {
	for d := len(b.frontier) - 1; d > depth; d-- {
		offset := b.compileNode(b.frontier[d])
		parent := b.frontier[d-1]
		arc := &parent.arcs[len(parent.arcs)-1]
		arc.target = offset
		arc.node = nil
	}
	b.frontier = b.frontier[:depth+1]
}

// compileNode serializes a node, deduplicating identical frozen nodes so
// shared suffixes share states.
func (b *Builder) compileNode(n *buildNode) uint32 {
	encoded := encodeNode(n)
	key := string(encoded)
	if offset, ok := b.dedup[key]; ok {
		return offset
	}
	offset := uint32(len(b.buf))
	b.buf = append(b.buf, encoded...)
	b.dedup[key] = offset
	return offset
}

func chooseEncoding(n *buildNode) byte {
	count := len(n.arcs)
	if count == 0 {
		return encLinearScan
	}
	labelRange := int(n.arcs[count-1].label) - int(n.arcs[0].label) + 1
	switch {
	case count >= 4 && labelRange == count:
		return encContinuous
	case count >= 6 && labelRange <= 64 && count*4 >= labelRange:
		return encDirectAddressing
	case count >= 6:
		return encBinarySearch
	}
	return encLinearScan
}

func encodeNode(n *buildNode) []byte {
	enc := chooseEncoding(n)

	out := make([]byte, 0, 8+len(n.arcs)*fixedArcBytesLabeled)
	out = append(out, enc)
	var flags byte
	if n.isFinal {
		flags |= nodeFlagFinal
	}
	out = append(out, flags)
	if n.isFinal {
		out = binary.AppendUvarint(out, uint64(n.finalOutput))
	}

	switch enc {
	case encLinearScan:
		out = binary.AppendUvarint(out, uint64(len(n.arcs)))
		for _, a := range n.arcs {
			out = append(out, a.label)
			out = binary.AppendUvarint(out, uint64(a.output))
			out = binary.AppendUvarint(out, uint64(a.target))
		}

	case encBinarySearch:
		out = binary.LittleEndian.AppendUint16(out, uint16(len(n.arcs)))
		for _, a := range n.arcs {
			out = append(out, a.label)
			out = binary.LittleEndian.AppendUint64(out, uint64(a.output))
			out = binary.LittleEndian.AppendUint32(out, a.target)
		}

	case encContinuous:
		out = append(out, n.arcs[0].label)
		out = binary.LittleEndian.AppendUint16(out, uint16(len(n.arcs)))
		for _, a := range n.arcs {
			out = binary.LittleEndian.AppendUint64(out, uint64(a.output))
			out = binary.LittleEndian.AppendUint32(out, a.target)
		}

	case encDirectAddressing:
		first := n.arcs[0].label
		var table uint64
		for _, a := range n.arcs {
			table |= 1 << (a.label - first)
		}
		out = append(out, first)
		out = binary.LittleEndian.AppendUint64(out, table)
		for _, a := range n.arcs {
			out = binary.LittleEndian.AppendUint64(out, uint64(a.output))
			out = binary.LittleEndian.AppendUint32(out, a.target)
		}
	}
	return out
}
