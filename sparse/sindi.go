package sparse

import (
	"fmt"
	"sort"

	"github.com/diagon-project/diagon"
)

// SindiConfig configures a SINDI index.
type SindiConfig struct {
	// BlockSize is the number of postings per block (default 128).
	BlockSize int

	// UseBlockMax enables block-max WAND pruning.
	UseBlockMax bool

	// UseSIMD enables the wide accumulation kernel where available.
	UseSIMD bool

	// UseMMap is saved with the index; loading does not consult it.
	UseMMap bool

	// UsePrefetch emits read-ahead hints in the kernel.
	UsePrefetch bool

	// ChunkPower must lie in [20, 40]; it is saved with the index and
	// nothing else reads it.
	ChunkPower int

	// NumDimensions is the vocabulary size; set by Build.
	NumDimensions uint32
}

// DefaultSindiConfig returns the recommended configuration.
func DefaultSindiConfig() SindiConfig {
	return SindiConfig{
		BlockSize:   128,
		UseBlockMax: true,
		UseSIMD:     true,
		UseMMap:     true,
		UsePrefetch: true,
		ChunkPower:  30,
	}
}

func (c SindiConfig) validate() error {
	if c.BlockSize <= 0 {
		return fmt.Errorf("sparse: block size %d: %w", c.BlockSize, diagon.ErrInvalidConfig)
	}
	if c.ChunkPower < 20 || c.ChunkPower > 40 {
		return fmt.Errorf("sparse: chunk power %d outside [20,40]: %w", c.ChunkPower, diagon.ErrInvalidConfig)
	}
	return nil
}

// BlockMeta describes one posting-list block for WAND pruning.
type BlockMeta struct {
	Offset    uint32
	Count     uint32
	MaxWeight float32
}

// SindiIndex is the exact sparse index: per-term posting lists in fixed-size
// blocks with block-max metadata, plus a CSR forward index.
type SindiIndex struct {
	cfg SindiConfig

	numDocs     uint32
	numPostings uint64

	termDocIDs     [][]uint32
	termWeights    [][]float32
	termBlocks     [][]BlockMeta
	maxTermWeights []float32

	forward *ForwardIndex
}

// NewSindiIndex creates an empty index with the given configuration.
func NewSindiIndex(cfg SindiConfig) (*SindiIndex, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &SindiIndex{cfg: cfg}, nil
}

// Config returns the index configuration.
func (s *SindiIndex) Config() SindiConfig { return s.cfg }

// NumTerms returns the vocabulary size.
func (s *SindiIndex) NumTerms() uint32 { return s.cfg.NumDimensions }

// NumDocuments returns the indexed document count.
func (s *SindiIndex) NumDocuments() uint32 { return s.numDocs }

// NumPostings returns the total posting count.
func (s *SindiIndex) NumPostings() uint64 { return s.numPostings }

// Forward returns the CSR forward index.
func (s *SindiIndex) Forward() *ForwardIndex { return s.forward }

// Document returns the sparse vector stored at position d.
func (s *SindiIndex) Document(d uint32) (Vector, error) {
	if s.forward == nil {
		return Vector{}, fmt.Errorf("sparse: forward index absent: %w", diagon.ErrInvalidInput)
	}
	return s.forward.Document(d)
}

// Build constructs the inverted index from document vectors.
func (s *SindiIndex) Build(docs []Vector) error {
	var vocab uint32
	for _, d := range docs {
		if dim := d.MaxDimension(); dim > vocab {
			vocab = dim
		}
	}
	s.cfg.NumDimensions = vocab
	s.numDocs = uint32(len(docs))

	s.termDocIDs = make([][]uint32, vocab)
	s.termWeights = make([][]float32, vocab)
	s.numPostings = 0
	for docID, doc := range docs {
		for _, e := range doc.Elements() {
			if e.Value <= 0 {
				continue
			}
			s.termDocIDs[e.Index] = append(s.termDocIDs[e.Index], uint32(docID))
			s.termWeights[e.Index] = append(s.termWeights[e.Index], e.Value)
			s.numPostings++
		}
	}
	// Postings arrive in doc order because docs are scanned in order, but
	// re-sorting keeps the invariant independent of caller behavior.
	for t := range s.termDocIDs {
		ids, ws := s.termDocIDs[t], s.termWeights[t]
		sort.Sort(&postingSorter{ids: ids, ws: ws})
	}

	s.buildBlocks()
	s.forward = buildForward(docs, vocab)
	return nil
}

func (s *SindiIndex) buildBlocks() {
	vocab := len(s.termDocIDs)
	s.termBlocks = make([][]BlockMeta, vocab)
	s.maxTermWeights = make([]float32, vocab)

	for t := 0; t < vocab; t++ {
		ws := s.termWeights[t]
		var blocks []BlockMeta
		var termMax float32
		for off := 0; off < len(ws); off += s.cfg.BlockSize {
			end := min(off+s.cfg.BlockSize, len(ws))
			var blockMax float32
			for _, w := range ws[off:end] {
				if w > blockMax {
					blockMax = w
				}
			}
			blocks = append(blocks, BlockMeta{
				Offset:    uint32(off),
				Count:     uint32(end - off),
				MaxWeight: blockMax,
			})
			if blockMax > termMax {
				termMax = blockMax
			}
		}
		s.termBlocks[t] = blocks
		s.maxTermWeights[t] = termMax
	}
}

type postingSorter struct {
	ids []uint32
	ws  []float32
}

func (p *postingSorter) Len() int           { return len(p.ids) }
func (p *postingSorter) Less(i, j int) bool { return p.ids[i] < p.ids[j] }
func (p *postingSorter) Swap(i, j int) {
	p.ids[i], p.ids[j] = p.ids[j], p.ids[i]
	p.ws[i], p.ws[j] = p.ws[j], p.ws[i]
}

// Search returns the top-k documents by dot-product score. Query terms
// outside the vocabulary contribute zero.
func (s *SindiIndex) Search(query Vector, k int) []SearchResult {
	if s.numDocs == 0 || query.Empty() || k <= 0 {
		return nil
	}

	scores := make([]float32, s.numDocs)
	if s.cfg.UseBlockMax {
		s.searchWithWand(query, k, scores)
	} else {
		for _, e := range query.Elements() {
			if e.Index >= s.cfg.NumDimensions || e.Value <= 0 {
				continue
			}
			accumulateScores(s.termDocIDs[e.Index], s.termWeights[e.Index],
				e.Value, scores, s.cfg.UseSIMD, s.cfg.UsePrefetch)
		}
	}
	return topKFromScores(scores, k)
}

// searchWithWand accumulates term by term and block by block, skipping a
// block once the heap is full and its minimum exceeds the query weight times
// the block's max weight. That bound ignores what a document already holds
// from earlier terms, so single-term results match full accumulation while
// multi-term results can miss documents.
func (s *SindiIndex) searchWithWand(query Vector, k int, scores []float32) {
	type queryTerm struct {
		term   uint32
		weight float32
		bound  float32
	}
	terms := make([]queryTerm, 0, query.Len())
	for _, e := range query.Elements() {
		if e.Index >= s.cfg.NumDimensions || e.Value <= 0 {
			continue
		}
		terms = append(terms, queryTerm{
			term:   e.Index,
			weight: e.Value,
			bound:  e.Value * s.maxTermWeights[e.Index],
		})
	}
	// Highest-impact terms first so the threshold rises early.
	sort.Slice(terms, func(i, j int) bool { return terms[i].bound > terms[j].bound })

	heap := newScoreHeap(k)
	for _, qt := range terms {
		ids, ws := s.termDocIDs[qt.term], s.termWeights[qt.term]
		for _, blk := range s.termBlocks[qt.term] {
			upperBound := qt.weight * blk.MaxWeight
			if heap.full() && heap.min() > upperBound {
				continue
			}
			lo, hi := blk.Offset, blk.Offset+blk.Count
			accumulateScores(ids[lo:hi], ws[lo:hi], qt.weight, scores,
				s.cfg.UseSIMD, s.cfg.UsePrefetch)
			for _, doc := range ids[lo:hi] {
				if int(doc) < len(scores) {
					heap.offer(scores[doc])
				}
			}
		}
	}
}

// scoreHeap is a fixed-capacity min-heap of the best scores seen; its
// minimum is the WAND threshold.
type scoreHeap struct {
	vals []float32
	cap  int
}

func newScoreHeap(k int) *scoreHeap { return &scoreHeap{cap: k} }

func (h *scoreHeap) full() bool { return len(h.vals) >= h.cap }

func (h *scoreHeap) min() float32 {
	if len(h.vals) == 0 {
		return 0
	}
	return h.vals[0]
}

func (h *scoreHeap) offer(v float32) {
	if len(h.vals) < h.cap {
		h.vals = append(h.vals, v)
		h.up(len(h.vals) - 1)
		return
	}
	if v <= h.vals[0] {
		return
	}
	h.vals[0] = v
	h.down(0)
}

func (h *scoreHeap) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.vals[parent] <= h.vals[i] {
			return
		}
		h.vals[parent], h.vals[i] = h.vals[i], h.vals[parent]
		i = parent
	}
}

func (h *scoreHeap) down(i int) {
	for {
		l, r := 2*i+1, 2*i+2
		smallest := i
		if l < len(h.vals) && h.vals[l] < h.vals[smallest] {
			smallest = l
		}
		if r < len(h.vals) && h.vals[r] < h.vals[smallest] {
			smallest = r
		}
		if smallest == i {
			return
		}
		h.vals[i], h.vals[smallest] = h.vals[smallest], h.vals[i]
		i = smallest
	}
}

// AccumulateReference exposes the scalar kernel for equivalence tests.
func AccumulateReference(docIDs []uint32, weights []float32, queryWeight float32, scores []float32) {
	accumulateScalar(docIDs, weights, queryWeight, scores)
}

// AccumulateWide exposes the unrolled kernel for equivalence tests.
func AccumulateWide(docIDs []uint32, weights []float32, queryWeight float32, scores []float32, usePrefetch bool) {
	accumulateWide(docIDs, weights, queryWeight, scores, usePrefetch)
}
