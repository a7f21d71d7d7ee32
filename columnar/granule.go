// Package columnar stores rows as per-column compressed granules with
// MinMax skip metadata. A granule is a fixed run of consecutive rows (8192
// by default) that compresses and decompresses as a unit; range scans
// evaluate each granule as skip, bulk-count or decompress-and-scan.
package columnar

import (
	"fmt"
	"sort"

	"github.com/diagon-project/diagon"
)

const (
	// Magic spells "DCOL" and heads every column file.
	Magic uint32 = 0x44434F4C

	// Version is rejected on mismatch; no cross-version reads.
	Version uint32 = 1

	// DefaultGranuleSize matches ClickHouse granules.
	DefaultGranuleSize = 8192
)

// GranuleInfo describes one compressed granule of one column.
type GranuleInfo struct {
	NumRows          uint32
	FileOffset       uint64
	CompressedSize   uint32
	UncompressedSize uint32
	Min              int64
	Max              int64
	StartDocID       uint32
}

// Mark is the random-access entry written to the segment mark file.
type Mark struct {
	NumRows    uint32
	DataOffset uint64
	FirstDocID uint32
}

// GranuleIndex is an ordered sequence of granule marks. The prefix sum of
// row counts forms the row address space; doc ids translate to granule ids
// by binary search.
type GranuleIndex struct {
	marks     []Mark
	rowStarts []uint32 // rowStarts[i] = first doc id of granule i
	totalRows uint32
}

// NewGranuleIndex builds an index over marks, which must be ordered by
// first doc id with contiguous row ranges.
func NewGranuleIndex(marks []Mark) (*GranuleIndex, error) {
	idx := &GranuleIndex{marks: marks, rowStarts: make([]uint32, len(marks))}
	var next uint32
	for i, m := range marks {
		if m.FirstDocID != next {
			return nil, fmt.Errorf("columnar: granule %d starts at doc %d, expected %d: %w",
				i, m.FirstDocID, next, diagon.ErrCorrupt)
		}
		idx.rowStarts[i] = next
		next += m.NumRows
	}
	idx.totalRows = next
	return idx, nil
}

// Marks returns the ordered granule marks.
func (g *GranuleIndex) Marks() []Mark { return g.marks }

// NumGranules returns the granule count.
func (g *GranuleIndex) NumGranules() int { return len(g.marks) }

// TotalRows returns the total row count across all granules.
func (g *GranuleIndex) TotalRows() uint32 { return g.totalRows }

// GranuleForDoc translates a doc id to the granule holding it.
func (g *GranuleIndex) GranuleForDoc(doc uint32) (int, bool) {
	if doc >= g.totalRows {
		return 0, false
	}
	i := sort.Search(len(g.rowStarts), func(i int) bool {
		return g.rowStarts[i] > doc
	})
	return i - 1, true
}
