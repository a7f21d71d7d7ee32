// Package termdict writes and reads the block-tree term dictionary: sorted
// terms grouped into prefix-compressed blocks (.tim), an FST index mapping
// block first-terms to file pointers (.tip), a bloom filter for fast
// negative exact seeks (.blm), and the postings stream (.doc).
package termdict

import (
	"fmt"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/store"
)

// NoMoreDocs is returned by PostingsIterator.NextDoc at the end of a
// posting list.
const NoMoreDocs uint32 = 0xFFFFFFFF

// TermStats carries a term's postings statistics.
type TermStats struct {
	DocFreq       int
	TotalTermFreq int64
	PostingsFP    int64
}

// PostingsWriter appends per-term posting lists to the .doc stream as
// (doc-id delta, freq) varint pairs.
type PostingsWriter struct {
	out      *store.IndexOutput
	fileName string

	inTerm  bool
	startFP int64
	lastDoc uint32
	docFreq int
	sumFreq int64
}

// NewPostingsWriter creates "<segment>[_<suffix>].doc".
func NewPostingsWriter(dir store.Directory, segment, suffix string) (*PostingsWriter, error) {
	name := store.SegmentFileName(segment, suffix, "doc")
	out, err := dir.CreateOutput(name, store.IOContextDefault)
	if err != nil {
		return nil, err
	}
	return &PostingsWriter{out: out, fileName: name}, nil
}

// FileName returns the .doc file name.
func (w *PostingsWriter) FileName() string { return w.fileName }

// StartTerm begins a new term's posting list.
func (w *PostingsWriter) StartTerm() error {
	if w.inTerm {
		return fmt.Errorf("termdict: StartTerm inside open term: %w", diagon.ErrInvalidInput)
	}
	w.inTerm = true
	w.startFP = w.out.FilePointer()
	w.lastDoc = 0
	w.docFreq = 0
	w.sumFreq = 0
	return nil
}

// AddDoc appends one document to the open term. Doc ids must ascend.
func (w *PostingsWriter) AddDoc(docID uint32, freq uint32) error {
	if !w.inTerm {
		return fmt.Errorf("termdict: AddDoc outside term: %w", diagon.ErrInvalidInput)
	}
	if w.docFreq > 0 && docID <= w.lastDoc {
		return fmt.Errorf("termdict: doc %d after %d: %w", docID, w.lastDoc, diagon.ErrInvalidInput)
	}
	delta := docID
	if w.docFreq > 0 {
		delta = docID - w.lastDoc
	}
	if err := w.out.WriteUvarint(uint64(delta)); err != nil {
		return err
	}
	if err := w.out.WriteUvarint(uint64(freq)); err != nil {
		return err
	}
	w.lastDoc = docID
	w.docFreq++
	w.sumFreq += int64(freq)
	return nil
}

// FinishTerm closes the open term and returns its statistics.
func (w *PostingsWriter) FinishTerm() (TermStats, error) {
	if !w.inTerm {
		return TermStats{}, fmt.Errorf("termdict: FinishTerm outside term: %w", diagon.ErrInvalidInput)
	}
	w.inTerm = false
	return TermStats{DocFreq: w.docFreq, TotalTermFreq: w.sumFreq, PostingsFP: w.startFP}, nil
}

// Close flushes and closes the .doc stream.
func (w *PostingsWriter) Close() error { return w.out.Close() }

// PostingsIterator walks one term's posting list.
type PostingsIterator struct {
	in      store.IndexInput
	remaining int
	doc     uint32
	freq    uint32
	first   bool
}

// NewPostingsIterator positions a cloned input at a term's postings.
func NewPostingsIterator(in store.IndexInput, stats TermStats) (*PostingsIterator, error) {
	clone := in.Clone()
	if err := clone.Seek(stats.PostingsFP); err != nil {
		return nil, err
	}
	return &PostingsIterator{in: clone, remaining: stats.DocFreq, first: true}, nil
}

// NextDoc advances and returns the next doc id, or NoMoreDocs at the end.
func (it *PostingsIterator) NextDoc() (uint32, error) {
	if it.remaining == 0 {
		return NoMoreDocs, nil
	}
	delta, err := it.in.ReadUvarint()
	if err != nil {
		return NoMoreDocs, fmt.Errorf("termdict: postings doc delta: %v: %w", err, diagon.ErrCorrupt)
	}
	freq, err := it.in.ReadUvarint()
	if err != nil {
		return NoMoreDocs, fmt.Errorf("termdict: postings freq: %v: %w", err, diagon.ErrCorrupt)
	}
	if it.first {
		it.doc = uint32(delta)
		it.first = false
	} else {
		it.doc += uint32(delta)
	}
	it.freq = uint32(freq)
	it.remaining--
	return it.doc, nil
}

// DocID returns the current document.
func (it *PostingsIterator) DocID() uint32 { return it.doc }

// Freq returns the current in-document frequency.
func (it *PostingsIterator) Freq() uint32 { return it.freq }

// Close releases the iterator's input clone.
func (it *PostingsIterator) Close() error { return it.in.Close() }
