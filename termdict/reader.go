package termdict

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/multierr"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/bytesref"
	"github.com/diagon-project/diagon/fst"
	"github.com/diagon-project/diagon/store"
)

// SeekStatus reports the outcome of a SeekCeil.
type SeekStatus int

const (
	// SeekFound means the exact term was found.
	SeekFound SeekStatus = iota
	// SeekNotFound means the cursor is positioned at the smallest term
	// greater than the target.
	SeekNotFound
	// SeekEnd means no term is >= the target.
	SeekEnd
)

// Reader opens a field's term dictionary. A single Reader serves many
// concurrent cursors; every cursor clones the .tim input.
type Reader struct {
	timIn store.IndexInput
	docIn store.IndexInput // nil when the postings stream is absent

	index      *fst.FST
	blockFPs   []int64
	firstTerms []bytesref.Bytes
	filter     *bloom.BloomFilter

	numTerms   int64
	sumDocFreq int64
	sumTTF     int64
}

// OpenReader opens "<segment>[_<suffix>]" .tim/.tip/.blm and, when present,
// the .doc postings stream.
func OpenReader(dir store.Directory, segment, suffix string) (*Reader, error) {
	r := &Reader{}

	var err error
	r.timIn, err = dir.OpenInput(store.SegmentFileName(segment, suffix, "tim"), store.IOContextReadMostly)
	if err != nil {
		return nil, err
	}

	if err := r.checkTimHeader(); err != nil {
		_ = r.timIn.Close()
		return nil, err
	}

	if err := r.readTip(dir, segment, suffix); err != nil {
		_ = r.timIn.Close()
		return nil, err
	}

	if err := r.readBloom(dir, segment, suffix); err != nil {
		_ = r.timIn.Close()
		return nil, err
	}

	r.docIn, err = dir.OpenInput(store.SegmentFileName(segment, suffix, "doc"), store.IOContextReadMostly)
	if err != nil {
		if !errors.Is(err, diagon.ErrNotFound) {
			_ = r.timIn.Close()
			return nil, err
		}
		r.docIn = nil
	}
	return r, nil
}

func (r *Reader) checkTimHeader() error {
	in := r.timIn.Clone()
	defer in.Close()
	magic, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("termdict: tim header: %v: %w", err, diagon.ErrCorrupt)
	}
	if magic != timMagic {
		return fmt.Errorf("termdict: tim bad magic 0x%08x: %w", magic, diagon.ErrCorrupt)
	}
	version, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("termdict: tim header: %v: %w", err, diagon.ErrCorrupt)
	}
	if version != dictVersion {
		return fmt.Errorf("termdict: tim unsupported version %d: %w", version, diagon.ErrCorrupt)
	}
	return nil
}

func (r *Reader) readTip(dir store.Directory, segment, suffix string) error {
	in, err := dir.OpenInput(store.SegmentFileName(segment, suffix, "tip"), store.IOContextDefault)
	if err != nil {
		return err
	}
	defer in.Close()

	magic, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("termdict: tip header: %v: %w", err, diagon.ErrCorrupt)
	}
	if magic != tipMagic {
		return fmt.Errorf("termdict: tip bad magic 0x%08x: %w", magic, diagon.ErrCorrupt)
	}
	version, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("termdict: tip header: %v: %w", err, diagon.ErrCorrupt)
	}
	if version != dictVersion {
		return fmt.Errorf("termdict: tip unsupported version %d: %w", version, diagon.ErrCorrupt)
	}

	if r.numTerms, err = readUvarintInt64(in); err != nil {
		return err
	}
	if r.sumDocFreq, err = readUvarintInt64(in); err != nil {
		return err
	}
	if r.sumTTF, err = readUvarintInt64(in); err != nil {
		return err
	}

	fstLen, err := in.ReadUvarint()
	if err != nil {
		return fmt.Errorf("termdict: tip fst length: %v: %w", err, diagon.ErrCorrupt)
	}
	fstBytes := make([]byte, fstLen)
	if err := in.ReadBytes(fstBytes); err != nil {
		return fmt.Errorf("termdict: tip fst: %v: %w", err, diagon.ErrCorrupt)
	}
	if r.index, err = fst.Deserialize(fstBytes); err != nil {
		return err
	}

	entries, err := r.index.Entries()
	if err != nil {
		return err
	}
	r.blockFPs = make([]int64, len(entries))
	r.firstTerms = make([]bytesref.Bytes, len(entries))
	for i, e := range entries {
		r.firstTerms[i] = e.Input
		r.blockFPs[i] = e.Output
	}
	return nil
}

func (r *Reader) readBloom(dir store.Directory, segment, suffix string) error {
	name := store.SegmentFileName(segment, suffix, "blm")
	in, err := dir.OpenInput(name, store.IOContextDefault)
	if err != nil {
		if errors.Is(err, diagon.ErrNotFound) {
			return nil // filter is an accelerator, not a requirement
		}
		return err
	}
	defer in.Close()

	raw := make([]byte, in.Length())
	if err := in.ReadBytes(raw); err != nil {
		return fmt.Errorf("termdict: %s: %v: %w", name, err, diagon.ErrCorrupt)
	}
	r.filter = &bloom.BloomFilter{}
	if _, err := r.filter.ReadFrom(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("termdict: %s: %v: %w", name, err, diagon.ErrCorrupt)
	}
	return nil
}

// NumTerms returns the total term count.
func (r *Reader) NumTerms() int64 { return r.numTerms }

// SumDocFreq returns the sum of document frequencies.
func (r *Reader) SumDocFreq() int64 { return r.sumDocFreq }

// SumTotalTermFreq returns the sum of total term frequencies.
func (r *Reader) SumTotalTermFreq() int64 { return r.sumTTF }

// FST exposes the block index (prefix -> block file pointer).
func (r *Reader) FST() *fst.FST { return r.index }

// Iterator returns a fresh cursor over the field's terms.
func (r *Reader) Iterator() *TermsCursor {
	return &TermsCursor{r: r, in: r.timIn.Clone(), blockIdx: -1}
}

// Close releases the reader's inputs.
func (r *Reader) Close() error {
	errs := r.timIn.Close()
	if r.docIn != nil {
		errs = multierr.Append(errs, r.docIn.Close())
	}
	return errs
}

// floorBlock returns the index of the block whose first term is the largest
// one <= term, or -1 when term sorts before every block.
func (r *Reader) floorBlock(term bytesref.Bytes) int {
	i := sort.Search(len(r.firstTerms), func(i int) bool {
		return r.firstTerms[i].Compare(term) > 0
	})
	return i - 1
}

func readUvarintInt64(in store.IndexInput) (int64, error) {
	v, err := in.ReadUvarint()
	if err != nil {
		return 0, fmt.Errorf("termdict: tip stats: %v: %w", err, diagon.ErrCorrupt)
	}
	return int64(v), nil
}

// blockEntry is one decoded term of a loaded block.
type blockEntry struct {
	term  bytesref.Bytes
	stats TermStats
}

// TermsCursor iterates a field's terms. Cursors hold an independent input
// clone, so concurrent cursors never race on a file pointer.
type TermsCursor struct {
	r  *Reader
	in store.IndexInput

	blockIdx   int // index into r.blockFPs; -1 before first positioning
	block      []blockEntry
	idx        int
	positioned bool
	exhausted  bool
}

// loadBlock decodes the block at blockFPs[i].
func (c *TermsCursor) loadBlock(i int) error {
	if err := c.in.Seek(c.r.blockFPs[i]); err != nil {
		return err
	}

	prefixLen, err := c.in.ReadUvarint()
	if err != nil {
		return fmt.Errorf("termdict: block header: %v: %w", err, diagon.ErrCorrupt)
	}
	prefix := make([]byte, prefixLen)
	if err := c.in.ReadBytes(prefix); err != nil {
		return fmt.Errorf("termdict: block prefix: %v: %w", err, diagon.ErrCorrupt)
	}
	count, err := c.in.ReadUvarint()
	if err != nil {
		return fmt.Errorf("termdict: block count: %v: %w", err, diagon.ErrCorrupt)
	}
	if count == 0 {
		return fmt.Errorf("termdict: empty block: %w", diagon.ErrCorrupt)
	}

	c.block = c.block[:0]
	for j := uint64(0); j < count; j++ {
		suffixLen, err := c.in.ReadUvarint()
		if err != nil {
			return fmt.Errorf("termdict: suffix length: %v: %w", err, diagon.ErrCorrupt)
		}
		term := make([]byte, int(prefixLen)+int(suffixLen))
		copy(term, prefix)
		if err := c.in.ReadBytes(term[prefixLen:]); err != nil {
			return fmt.Errorf("termdict: suffix bytes: %v: %w", err, diagon.ErrCorrupt)
		}
		docFreq, err := c.in.ReadUvarint()
		if err != nil {
			return fmt.Errorf("termdict: doc freq: %v: %w", err, diagon.ErrCorrupt)
		}
		ttf, err := c.in.ReadUvarint()
		if err != nil {
			return fmt.Errorf("termdict: total term freq: %v: %w", err, diagon.ErrCorrupt)
		}
		fp, err := c.in.ReadUvarint()
		if err != nil {
			return fmt.Errorf("termdict: postings fp: %v: %w", err, diagon.ErrCorrupt)
		}
		c.block = append(c.block, blockEntry{
			term: term,
			stats: TermStats{
				DocFreq:       int(docFreq),
				TotalTermFreq: int64(ttf),
				PostingsFP:    int64(fp),
			},
		})
	}
	c.blockIdx = i
	return nil
}

// Next advances to the next term in order, loading the next block when the
// current one is exhausted.
func (c *TermsCursor) Next() (bool, error) {
	if c.exhausted {
		return false, nil
	}
	if !c.positioned {
		if len(c.r.blockFPs) == 0 {
			c.exhausted = true
			return false, nil
		}
		if err := c.loadBlock(0); err != nil {
			return false, err
		}
		c.idx = 0
		c.positioned = true
		return true, nil
	}

	c.idx++
	if c.idx < len(c.block) {
		return true, nil
	}
	if c.blockIdx+1 >= len(c.r.blockFPs) {
		c.exhausted = true
		return false, nil
	}
	if err := c.loadBlock(c.blockIdx + 1); err != nil {
		return false, err
	}
	c.idx = 0
	return true, nil
}

// SeekExact positions the cursor on term, reporting whether it exists. The
// bloom filter answers most negative seeks without touching the .tim file.
func (c *TermsCursor) SeekExact(term bytesref.Bytes) (bool, error) {
	if c.r.filter != nil && !c.r.filter.Test(term) {
		return false, nil
	}

	blockIdx := c.r.floorBlock(term)
	if blockIdx < 0 {
		return false, nil
	}
	if err := c.loadBlock(blockIdx); err != nil {
		return false, err
	}
	for i, e := range c.block {
		if e.term.Equal(term) {
			c.idx = i
			c.positioned = true
			c.exhausted = false
			return true, nil
		}
	}
	return false, nil
}

// SeekCeil positions the cursor at the smallest term >= target.
func (c *TermsCursor) SeekCeil(term bytesref.Bytes) (SeekStatus, error) {
	if len(c.r.blockFPs) == 0 {
		c.exhausted = true
		return SeekEnd, nil
	}

	blockIdx := c.r.floorBlock(term)
	if blockIdx < 0 {
		blockIdx = 0
	}
	if err := c.loadBlock(blockIdx); err != nil {
		return SeekEnd, err
	}

	for i, e := range c.block {
		cmp := e.term.Compare(term)
		if cmp >= 0 {
			c.idx = i
			c.positioned = true
			c.exhausted = false
			if cmp == 0 {
				return SeekFound, nil
			}
			return SeekNotFound, nil
		}
	}

	// Every term in the floor block sorts below the target; the next
	// block's first term (if any) is the ceiling.
	if blockIdx+1 >= len(c.r.blockFPs) {
		c.exhausted = true
		c.positioned = false
		return SeekEnd, nil
	}
	if err := c.loadBlock(blockIdx + 1); err != nil {
		return SeekEnd, err
	}
	c.idx = 0
	c.positioned = true
	c.exhausted = false
	return SeekNotFound, nil
}

// Term returns the current term bytes.
func (c *TermsCursor) Term() bytesref.Bytes {
	if !c.positioned {
		return nil
	}
	return c.block[c.idx].term
}

// DocFreq returns the current term's document frequency.
func (c *TermsCursor) DocFreq() int {
	if !c.positioned {
		return 0
	}
	return c.block[c.idx].stats.DocFreq
}

// TotalTermFreq returns the current term's total frequency.
func (c *TermsCursor) TotalTermFreq() int64 {
	if !c.positioned {
		return 0
	}
	return c.block[c.idx].stats.TotalTermFreq
}

// Stats returns the current term's statistics.
func (c *TermsCursor) Stats() TermStats {
	if !c.positioned {
		return TermStats{}
	}
	return c.block[c.idx].stats
}

// Postings returns a lazy iterator over the current term's posting list.
func (c *TermsCursor) Postings() (*PostingsIterator, error) {
	if !c.positioned {
		return nil, fmt.Errorf("termdict: Postings on unpositioned cursor: %w", diagon.ErrInvalidInput)
	}
	if c.r.docIn == nil {
		return nil, fmt.Errorf("termdict: postings stream absent: %w", diagon.ErrNotFound)
	}
	return NewPostingsIterator(c.r.docIn, c.block[c.idx].stats)
}

// Close releases the cursor's input clone.
func (c *TermsCursor) Close() error { return c.in.Close() }
