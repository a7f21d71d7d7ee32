package termdict

import (
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/bytesref"
	"github.com/diagon-project/diagon/fst"
	"github.com/diagon-project/diagon/store"
)

// .tim layout: u32 magic | u32 version | term blocks. Each block:
// uvarint prefix_len | prefix bytes | uvarint suffix_count | per term:
// uvarint suffix_len | suffix | uvarint doc_freq | uvarint total_term_freq |
// uvarint postings_fp.
//
// .tip layout: u32 magic | u32 version | uvarint num_terms |
// uvarint sum_doc_freq | uvarint sum_total_term_freq |
// uvarint fst_len | serialized FST (first term of block -> block fp).
const (
	timMagic   uint32 = 0x4454494D // "DTIM"
	tipMagic   uint32 = 0x44544950 // "DTIP"
	dictVersion uint32 = 1
)

// Config bounds block sizes. A block is written as soon as it holds
// MaxItemsInBlock terms; MinItemsInBlock is only checked against the
// maximum, so the last block of a field can hold fewer terms than it.
type Config struct {
	MinItemsInBlock int
	MaxItemsInBlock int
}

// DefaultConfig matches Lucene's 25..48 block policy.
func DefaultConfig() Config {
	return Config{MinItemsInBlock: 25, MaxItemsInBlock: 48}
}

// bloomCapacity and bloomFPRate size the negative-seek filter; ~1% false
// positives.
const (
	bloomCapacity = 1 << 17
	bloomFPRate   = 0.01
)

// Writer emits the term dictionary for one field. AddTerm must be called in
// ascending byte order.
type Writer struct {
	dir     store.Directory
	segment string
	suffix  string
	cfg     Config

	timOut *store.IndexOutput
	tipOut *store.IndexOutput

	pending  []pendingTerm
	lastTerm bytesref.Bytes
	started  bool
	finished bool

	fstBuilder *fst.Builder
	filter     *bloom.BloomFilter

	numTerms   int64
	sumDocFreq int64
	sumTTF     int64
}

type pendingTerm struct {
	term  bytesref.Bytes
	stats TermStats
}

// NewWriter creates ".tim"/".tip" outputs for "<segment>[_<suffix>]".
func NewWriter(dir store.Directory, segment, suffix string, cfg Config) (*Writer, error) {
	if cfg.MinItemsInBlock <= 0 || cfg.MaxItemsInBlock < cfg.MinItemsInBlock {
		return nil, fmt.Errorf("termdict: block limits %d..%d: %w",
			cfg.MinItemsInBlock, cfg.MaxItemsInBlock, diagon.ErrInvalidConfig)
	}

	timOut, err := dir.CreateOutput(store.SegmentFileName(segment, suffix, "tim"), store.IOContextDefault)
	if err != nil {
		return nil, err
	}
	tipOut, err := dir.CreateOutput(store.SegmentFileName(segment, suffix, "tip"), store.IOContextDefault)
	if err != nil {
		_ = timOut.Close()
		return nil, err
	}

	w := &Writer{
		dir:        dir,
		segment:    segment,
		suffix:     suffix,
		cfg:        cfg,
		timOut:     timOut,
		tipOut:     tipOut,
		fstBuilder: fst.NewBuilder(),
		filter:     bloom.NewWithEstimates(bloomCapacity, bloomFPRate),
	}

	if err := timOut.WriteUint32(timMagic); err != nil {
		return nil, err
	}
	if err := timOut.WriteUint32(dictVersion); err != nil {
		return nil, err
	}
	return w, nil
}

// AddTerm appends a term with its statistics.
func (w *Writer) AddTerm(term bytesref.Bytes, stats TermStats) error {
	if w.finished {
		return fmt.Errorf("termdict: AddTerm after Finish: %w", diagon.ErrInvalidInput)
	}
	if term.Empty() {
		return fmt.Errorf("termdict: empty term: %w", diagon.ErrInvalidInput)
	}
	if w.started && term.Compare(w.lastTerm) <= 0 {
		return fmt.Errorf("termdict: term %q out of order after %q: %w",
			term, w.lastTerm, diagon.ErrInvalidInput)
	}

	owned := term.Clone()
	w.pending = append(w.pending, pendingTerm{term: owned, stats: stats})
	w.lastTerm = owned
	w.started = true
	w.filter.Add(owned)
	w.numTerms++
	w.sumDocFreq += int64(stats.DocFreq)
	w.sumTTF += stats.TotalTermFreq

	if len(w.pending) >= w.cfg.MaxItemsInBlock {
		return w.writeBlock()
	}
	return nil
}

func (w *Writer) writeBlock() error {
	if len(w.pending) == 0 {
		return nil
	}
	blockFP := w.timOut.FilePointer()

	// Terms are sorted, so the run's common prefix is the common prefix
	// of its first and last terms.
	first := w.pending[0].term
	last := w.pending[len(w.pending)-1].term
	prefixLen := bytesref.CommonPrefixLen(first, last)

	if err := w.timOut.WriteUvarint(uint64(prefixLen)); err != nil {
		return err
	}
	if err := w.timOut.WriteBytes(first[:prefixLen]); err != nil {
		return err
	}
	if err := w.timOut.WriteUvarint(uint64(len(w.pending))); err != nil {
		return err
	}
	for _, p := range w.pending {
		suffix := p.term[prefixLen:]
		if err := w.timOut.WriteUvarint(uint64(len(suffix))); err != nil {
			return err
		}
		if err := w.timOut.WriteBytes(suffix); err != nil {
			return err
		}
		if err := w.timOut.WriteUvarint(uint64(p.stats.DocFreq)); err != nil {
			return err
		}
		if err := w.timOut.WriteUvarint(uint64(p.stats.TotalTermFreq)); err != nil {
			return err
		}
		if err := w.timOut.WriteUvarint(uint64(p.stats.PostingsFP)); err != nil {
			return err
		}
	}

	if err := w.fstBuilder.Add(first, blockFP); err != nil {
		return err
	}
	w.pending = w.pending[:0]
	return nil
}

// Finish flushes the last (possibly undersized) block, writes the FST index
// and the bloom filter, and closes the outputs.
func (w *Writer) Finish() error {
	if w.finished {
		return fmt.Errorf("termdict: Finish called twice: %w", diagon.ErrInvalidInput)
	}
	w.finished = true

	if err := w.writeBlock(); err != nil {
		return err
	}
	if err := w.timOut.Close(); err != nil {
		return err
	}

	index, err := w.fstBuilder.Finish()
	if err != nil {
		return err
	}
	fstBytes, err := index.Serialize()
	if err != nil {
		return err
	}

	if err := w.tipOut.WriteUint32(tipMagic); err != nil {
		return err
	}
	if err := w.tipOut.WriteUint32(dictVersion); err != nil {
		return err
	}
	if err := w.tipOut.WriteUvarint(uint64(w.numTerms)); err != nil {
		return err
	}
	if err := w.tipOut.WriteUvarint(uint64(w.sumDocFreq)); err != nil {
		return err
	}
	if err := w.tipOut.WriteUvarint(uint64(w.sumTTF)); err != nil {
		return err
	}
	if err := w.tipOut.WriteUvarint(uint64(len(fstBytes))); err != nil {
		return err
	}
	if err := w.tipOut.WriteBytes(fstBytes); err != nil {
		return err
	}
	if err := w.tipOut.Close(); err != nil {
		return err
	}

	blmName := store.SegmentFileName(w.segment, w.suffix, "blm")
	blmOut, err := w.dir.CreateOutput(blmName, store.IOContextDefault)
	if err != nil {
		return err
	}
	if _, err := w.filter.WriteTo(blmOut); err != nil {
		_ = blmOut.Close()
		return fmt.Errorf("termdict: write %s: %v: %w", blmName, err, diagon.ErrIO)
	}
	if err := blmOut.Close(); err != nil {
		return err
	}

	return w.dir.Sync([]string{
		store.SegmentFileName(w.segment, w.suffix, "tim"),
		store.SegmentFileName(w.segment, w.suffix, "tip"),
		blmName,
	})
}
