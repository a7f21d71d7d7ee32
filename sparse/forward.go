package sparse

import (
	"fmt"

	"github.com/diagon-project/diagon"
)

// ForwardIndex is a CSR-form document-major view of the indexed vectors:
// document d's terms live at indices[indptr[d]:indptr[d+1]] with parallel
// values. Both sparse indexes build one so Document is O(1).
type ForwardIndex struct {
	indptr  []uint32
	indices []uint32
	values  []float32
}

// buildForward packs the documents into CSR form, dropping elements whose
// term index is outside the vocabulary.
func buildForward(docs []Vector, numTerms uint32) *ForwardIndex {
	f := &ForwardIndex{indptr: make([]uint32, len(docs)+1)}
	for d, doc := range docs {
		for _, e := range doc.Elements() {
			if e.Index >= numTerms || e.Value <= 0 {
				continue
			}
			f.indices = append(f.indices, e.Index)
			f.values = append(f.values, e.Value)
		}
		f.indptr[d+1] = uint32(len(f.indices))
	}
	return f
}

// NumDocuments returns the document count.
func (f *ForwardIndex) NumDocuments() uint32 {
	return uint32(len(f.indptr) - 1)
}

// NumPostings returns the stored posting count.
func (f *ForwardIndex) NumPostings() uint64 {
	return uint64(len(f.indices))
}

// Document reconstructs the sparse vector stored at position d.
func (f *ForwardIndex) Document(d uint32) (Vector, error) {
	if int(d) >= len(f.indptr)-1 {
		return Vector{}, fmt.Errorf("sparse: document %d out of range [0,%d): %w",
			d, len(f.indptr)-1, diagon.ErrInvalidInput)
	}
	start, end := f.indptr[d], f.indptr[d+1]
	elems := make([]Element, 0, end-start)
	for i := start; i < end; i++ {
		elems = append(elems, Element{Index: f.indices[i], Value: f.values[i]})
	}
	return FromElements(elems), nil
}

// Dot computes the dot product of document d with a query vector; used by
// the brute-force reference scorer.
func (f *ForwardIndex) Dot(d uint32, query Vector) (float32, error) {
	doc, err := f.Document(d)
	if err != nil {
		return 0, err
	}
	return doc.Dot(query), nil
}
