package sparse

import (
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/diagon-project/diagon"
)

// SelectionMode chooses how QBlock picks candidate blocks.
type SelectionMode uint8

const (
	// AlphaMass selects blocks by descending gain until the cumulative
	// weight reaches alpha of the total mass.
	AlphaMass SelectionMode = iota
	// TopK selects a fixed number of highest-gain blocks.
	TopK
	// MaxRatio selects every block with gain >= alpha * max gain.
	MaxRatio
)

// QBlockConfig configures a QBlock index.
type QBlockConfig struct {
	// NumBins is the quantization bin count; range [1, 256].
	NumBins uint32

	// WindowSize is the doc-id partition width (default 8192).
	WindowSize uint32

	// Alpha steers AlphaMass and MaxRatio selection; range [0, 1].
	Alpha float32

	// Mode is the block selection mode.
	Mode SelectionMode

	// FixedTopK is the budget for TopK mode.
	FixedTopK int

	// UseMMap is saved with the index; loading does not consult it.
	UseMMap bool

	// UsePrefetch emits read-ahead hints during scatter-add.
	UsePrefetch bool

	// ChunkPower must lie in [20, 40]; it is saved with the index and
	// nothing else reads it.
	ChunkPower int

	// NumDimensions is the vocabulary size; set by Build.
	NumDimensions uint32
}

// DefaultQBlockConfig returns the recommended configuration.
func DefaultQBlockConfig() QBlockConfig {
	return QBlockConfig{
		NumBins:     16,
		WindowSize:  8192,
		Alpha:       0.75,
		Mode:        AlphaMass,
		FixedTopK:   100,
		UseMMap:     true,
		UsePrefetch: true,
		ChunkPower:  30,
	}
}

func (c QBlockConfig) validate() error {
	if c.NumBins < 1 || c.NumBins > 256 {
		return fmt.Errorf("sparse: num bins %d outside [1,256]: %w", c.NumBins, diagon.ErrInvalidConfig)
	}
	if c.WindowSize == 0 {
		return fmt.Errorf("sparse: window size 0: %w", diagon.ErrInvalidConfig)
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("sparse: alpha %f outside [0,1]: %w", c.Alpha, diagon.ErrInvalidConfig)
	}
	if c.ChunkPower < 20 || c.ChunkPower > 40 {
		return fmt.Errorf("sparse: chunk power %d outside [20,40]: %w", c.ChunkPower, diagon.ErrInvalidConfig)
	}
	return nil
}

// scatterPrefetchDistance is how many postings ahead the scatter-add loop
// touches (the original tuned this to roughly 48).
const scatterPrefetchDistance = 48

// QBlockIndex approximates SINDI's scoring with quantized weights organized
// as [term][bin][window] cells of window-local doc ids.
type QBlockIndex struct {
	cfg QBlockConfig

	numDocs     uint32
	numWindows  uint32
	numPostings uint64

	// quantMap maps a uint8-scaled weight to its bin; quantVal carries
	// each bin's representative weight. maxWeight anchors the scaling.
	quantMap  [256]uint8
	quantVal  []float32
	maxWeight float32

	// blocks[term][bin][window] holds sorted window-local doc ids.
	blocks     [][][][]uint32
	blockSizes [][]uint32 // [term][bin] total docs across windows

	forward *ForwardIndex
}

// NewQBlockIndex creates an empty index with the given configuration.
func NewQBlockIndex(cfg QBlockConfig) (*QBlockIndex, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &QBlockIndex{cfg: cfg}, nil
}

// Config returns the index configuration.
func (q *QBlockIndex) Config() QBlockConfig { return q.cfg }

// NumTerms returns the vocabulary size.
func (q *QBlockIndex) NumTerms() uint32 { return q.cfg.NumDimensions }

// NumDocuments returns the indexed document count.
func (q *QBlockIndex) NumDocuments() uint32 { return q.numDocs }

// NumWindows returns ceil(docs / window size).
func (q *QBlockIndex) NumWindows() uint32 { return q.numWindows }

// NumPostings returns the total posting count.
func (q *QBlockIndex) NumPostings() uint64 { return q.numPostings }

// HasForwardIndex reports whether Document lookups are available.
func (q *QBlockIndex) HasForwardIndex() bool { return q.forward != nil }

// Document returns the sparse vector stored at position d.
func (q *QBlockIndex) Document(d uint32) (Vector, error) {
	if q.forward == nil {
		return Vector{}, fmt.Errorf("sparse: forward index absent: %w", diagon.ErrInvalidInput)
	}
	return q.forward.Document(d)
}

// Build quantizes all weights and distributes postings into
// [term][bin][window] cells.
func (q *QBlockIndex) Build(docs []Vector) error {
	var vocab uint32
	for _, d := range docs {
		if dim := d.MaxDimension(); dim > vocab {
			vocab = dim
		}
	}
	q.cfg.NumDimensions = vocab
	q.numDocs = uint32(len(docs))
	q.numWindows = (q.numDocs + q.cfg.WindowSize - 1) / q.cfg.WindowSize
	q.numPostings = 0

	q.buildQuantization(docs)

	q.blocks = make([][][][]uint32, vocab)
	q.blockSizes = make([][]uint32, vocab)
	for t := range q.blocks {
		q.blocks[t] = make([][][]uint32, q.cfg.NumBins)
		for b := range q.blocks[t] {
			q.blocks[t][b] = make([][]uint32, q.numWindows)
		}
		q.blockSizes[t] = make([]uint32, q.cfg.NumBins)
	}

	for docID, doc := range docs {
		window := uint32(docID) / q.cfg.WindowSize
		local := uint32(docID) % q.cfg.WindowSize
		for _, e := range doc.Elements() {
			if e.Value <= 0 {
				continue
			}
			bin := q.quantizeWeight(e.Value)
			q.blocks[e.Index][bin][window] = append(q.blocks[e.Index][bin][window], local)
			q.blockSizes[e.Index][bin]++
			q.numPostings++
		}
	}

	// Insertion follows ascending doc id, but the invariant is sorted
	// cells, so enforce it.
	for t := range q.blocks {
		for b := range q.blocks[t] {
			for w := range q.blocks[t][b] {
				cell := q.blocks[t][b][w]
				sort.Slice(cell, func(i, j int) bool { return cell[i] < cell[j] })
			}
		}
	}

	q.forward = buildForward(docs, vocab)
	return nil
}

// buildQuantization derives equal-frequency bins from the global weight
// distribution: per bin a boundary (max weight) and a representative
// (mean weight), then a 256-entry map from scaled uint8 weights to bins.
func (q *QBlockIndex) buildQuantization(docs []Vector) {
	var weights []float32
	for _, d := range docs {
		for _, e := range d.Elements() {
			if e.Value > 0 {
				weights = append(weights, e.Value)
			}
		}
	}
	q.quantVal = make([]float32, q.cfg.NumBins)
	if len(weights) == 0 {
		q.maxWeight = 0
		return
	}
	sort.Slice(weights, func(i, j int) bool { return weights[i] < weights[j] })
	q.maxWeight = weights[len(weights)-1]

	numBins := int(q.cfg.NumBins)
	boundaries := make([]float32, numBins)
	for b := 0; b < numBins; b++ {
		lo := b * len(weights) / numBins
		hi := (b + 1) * len(weights) / numBins
		if hi <= lo {
			// Fewer distinct samples than bins; reuse the previous
			// boundary and representative.
			if b > 0 {
				boundaries[b] = boundaries[b-1]
				q.quantVal[b] = q.quantVal[b-1]
			}
			continue
		}
		var sum float64
		for _, w := range weights[lo:hi] {
			sum += float64(w)
		}
		boundaries[b] = weights[hi-1]
		q.quantVal[b] = float32(sum / float64(hi-lo))
	}

	for u := 0; u < 256; u++ {
		w := float32(u) / 255 * q.maxWeight
		bin := numBins - 1
		for b := 0; b < numBins; b++ {
			if w <= boundaries[b] {
				bin = b
				break
			}
		}
		q.quantMap[u] = uint8(bin)
	}
}

// quantizeWeight scales a weight to uint8 and maps it to its bin.
func (q *QBlockIndex) quantizeWeight(w float32) uint8 {
	if q.maxWeight <= 0 {
		return 0
	}
	scaled := w / q.maxWeight * 255
	if scaled < 0 {
		scaled = 0
	}
	if scaled > 255 {
		scaled = 255
	}
	return q.quantMap[uint8(scaled)]
}

// candidate is one selectable (term, bin) block with its gain.
type candidate struct {
	term uint32
	bin  uint32
	gain float32
}

// Search scores documents by scatter-adding each selected block's gain and
// returns the top-k. The accuracy/speed trade-off is steered by the
// selection mode.
func (q *QBlockIndex) Search(query Vector, k int) []SearchResult {
	if q.numDocs == 0 || query.Empty() || k <= 0 {
		return nil
	}

	candidates := q.collectCandidates(query)
	selected := q.selectBlocks(candidates)
	if len(selected) == 0 {
		return nil
	}

	scores := make([]float32, q.numDocs)
	touched := bitset.New(uint(q.numWindows))

	for w := uint32(0); w < q.numWindows; w++ {
		windowOffset := w * q.cfg.WindowSize
		for _, c := range selected {
			cell := q.blocks[c.term][c.bin][w]
			if len(cell) == 0 {
				continue
			}
			touched.Set(uint(w))
			for i, local := range cell {
				if q.cfg.UsePrefetch && i+scatterPrefetchDistance < len(cell) {
					_ = cell[i+scatterPrefetchDistance]
				}
				doc := windowOffset + local
				if int(doc) < len(scores) {
					scores[doc] += c.gain
				}
			}
		}
	}

	// Only touched windows can hold non-zero scores; confine extraction
	// to them.
	results := make([]SearchResult, 0, k)
	for w, ok := touched.NextSet(0); ok; w, ok = touched.NextSet(w + 1) {
		start := uint32(w) * q.cfg.WindowSize
		end := min(start+q.cfg.WindowSize, q.numDocs)
		for doc := start; doc < end; doc++ {
			if scores[doc] > 0 {
				results = append(results, SearchResult{DocID: doc, Score: scores[doc]})
			}
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (q *QBlockIndex) collectCandidates(query Vector) []candidate {
	var out []candidate
	for _, e := range query.Elements() {
		if e.Index >= q.cfg.NumDimensions || e.Value <= 0 {
			continue
		}
		for b := uint32(0); b < q.cfg.NumBins; b++ {
			if q.blockSizes[e.Index][b] == 0 {
				continue
			}
			out = append(out, candidate{
				term: e.Index,
				bin:  b,
				gain: q.quantVal[b] * e.Value,
			})
		}
	}
	return out
}

func (q *QBlockIndex) selectBlocks(candidates []candidate) []candidate {
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].gain > candidates[j].gain })

	switch q.cfg.Mode {
	case TopK:
		n := min(q.cfg.FixedTopK, len(candidates))
		return candidates[:n]

	case MaxRatio:
		threshold := q.cfg.Alpha * candidates[0].gain
		n := 0
		for n < len(candidates) && candidates[n].gain >= threshold {
			n++
		}
		return candidates[:n]

	default: // AlphaMass
		var total float32
		for _, c := range candidates {
			total += c.gain
		}
		target := q.cfg.Alpha * total
		var cum float32
		n := 0
		for n < len(candidates) && cum < target {
			cum += candidates[n].gain
			n++
		}
		return candidates[:n]
	}
}
