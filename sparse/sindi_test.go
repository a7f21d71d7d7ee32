package sparse

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/store"
)

func randomCorpus(rng *rand.Rand, numDocs, vocab, termsPerDoc int) []Vector {
	docs := make([]Vector, numDocs)
	for d := range docs {
		var v Vector
		for t := 0; t < termsPerDoc; t++ {
			v.Set(uint32(rng.Intn(vocab)), rng.Float32()+0.01)
		}
		docs[d] = v
	}
	return docs
}

func bruteForceTopK(docs []Vector, query Vector, k int) []SearchResult {
	scores := make([]float32, len(docs))
	for d, doc := range docs {
		scores[d] = doc.Dot(query)
	}
	return topKFromScores(scores, k)
}

func TestSindiConfigValidation(t *testing.T) {
	bad := DefaultSindiConfig()
	bad.BlockSize = 0
	if _, err := NewSindiIndex(bad); !errors.Is(err, diagon.ErrInvalidConfig) {
		t.Fatalf("block size 0: expected ErrInvalidConfig, got %v", err)
	}

	bad = DefaultSindiConfig()
	bad.ChunkPower = 19
	if _, err := NewSindiIndex(bad); !errors.Is(err, diagon.ErrInvalidConfig) {
		t.Fatalf("chunk power 19: expected ErrInvalidConfig, got %v", err)
	}
	bad.ChunkPower = 41
	if _, err := NewSindiIndex(bad); !errors.Is(err, diagon.ErrInvalidConfig) {
		t.Fatalf("chunk power 41: expected ErrInvalidConfig, got %v", err)
	}
}

func TestSindiRankingScenario(t *testing.T) {
	// Five docs over three terms; query {t0: 1.0} ranks docs exactly by
	// their t0 weight descending.
	docs := []Vector{
		NewVector([]uint32{0, 1}, []float32{0.3, 1.0}),
		NewVector([]uint32{0}, []float32{0.9}),
		NewVector([]uint32{1, 2}, []float32{0.5, 0.5}),
		NewVector([]uint32{0, 2}, []float32{0.6, 0.1}),
		NewVector([]uint32{0}, []float32{0.1}),
	}

	idx, err := NewSindiIndex(DefaultSindiConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Build(docs); err != nil {
		t.Fatal(err)
	}

	results := idx.Search(NewVector([]uint32{0}, []float32{1.0}), 10)
	wantOrder := []uint32{1, 3, 0, 4}
	if len(results) != len(wantOrder) {
		t.Fatalf("results = %d, want %d", len(results), len(wantOrder))
	}
	for i, want := range wantOrder {
		if results[i].DocID != want {
			t.Fatalf("rank %d = doc %d, want %d", i, results[i].DocID, want)
		}
	}
}

func TestSindiMatchesBruteForceWithoutWand(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	docs := randomCorpus(rng, 400, 50, 8)

	cfg := DefaultSindiConfig()
	cfg.UseBlockMax = false
	cfg.BlockSize = 16
	idx, err := NewSindiIndex(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Build(docs); err != nil {
		t.Fatal(err)
	}

	for trial := 0; trial < 20; trial++ {
		var query Vector
		for i := 0; i < 5; i++ {
			query.Set(uint32(rng.Intn(50)), rng.Float32())
		}
		got := idx.Search(query, 10)
		want := bruteForceTopK(docs, query, 10)
		if len(got) != len(want) {
			t.Fatalf("trial %d: %d results, want %d", trial, len(got), len(want))
		}
		for i := range want {
			if got[i].DocID != want[i].DocID || !almostEqual(got[i].Score, want[i].Score) {
				t.Fatalf("trial %d rank %d: (%d,%f), want (%d,%f)",
					trial, i, got[i].DocID, got[i].Score, want[i].DocID, want[i].Score)
			}
		}
	}
}

func TestSindiWandAgreesOnTopK(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	docs := randomCorpus(rng, 600, 40, 6)

	exact := DefaultSindiConfig()
	exact.UseBlockMax = false
	exactIdx, err := NewSindiIndex(exact)
	if err != nil {
		t.Fatal(err)
	}
	if err := exactIdx.Build(docs); err != nil {
		t.Fatal(err)
	}

	wand := DefaultSindiConfig()
	wand.BlockSize = 32
	wandIdx, err := NewSindiIndex(wand)
	if err != nil {
		t.Fatal(err)
	}
	if err := wandIdx.Build(docs); err != nil {
		t.Fatal(err)
	}

	// Single-term queries: block-max pruning is exact, because a skipped
	// block's documents can only score below the current threshold.
	for trial := 0; trial < 10; trial++ {
		query := NewVector([]uint32{uint32(rng.Intn(40))}, []float32{rng.Float32() + 0.1})
		got := wandIdx.Search(query, 5)
		want := exactIdx.Search(query, 5)
		if len(got) != len(want) {
			t.Fatalf("trial %d: %d vs %d results", trial, len(got), len(want))
		}
		for i := range want {
			if got[i].DocID != want[i].DocID {
				t.Fatalf("trial %d rank %d: doc %d vs %d", trial, i, got[i].DocID, want[i].DocID)
			}
		}
	}

	// Multi-term queries: pruning is approximate; guard recall at k=10.
	var overlap, total int
	for trial := 0; trial < 20; trial++ {
		var query Vector
		for i := 0; i < 4; i++ {
			query.Set(uint32(rng.Intn(40)), rng.Float32()+0.1)
		}
		got := wandIdx.Search(query, 10)
		want := exactIdx.Search(query, 10)
		wantSet := map[uint32]bool{}
		for _, r := range want {
			wantSet[r.DocID] = true
		}
		for _, r := range got {
			if wantSet[r.DocID] {
				overlap++
			}
		}
		total += len(want)
	}
	if total == 0 || float64(overlap)/float64(total) < 0.9 {
		t.Fatalf("WAND recall %d/%d below 0.9", overlap, total)
	}
}

func TestKernelsBitIdentical(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const numDocs = 2048

	for _, count := range []int{0, 1, 7, 8, 9, 63, 64, 1000} {
		docIDs := make([]uint32, count)
		weights := make([]float32, count)
		for i := range docIDs {
			docIDs[i] = uint32(rng.Intn(numDocs))
			weights[i] = rng.Float32()
		}

		ref := make([]float32, numDocs)
		wide := make([]float32, numDocs)
		widePf := make([]float32, numDocs)
		AccumulateReference(docIDs, weights, 0.73, ref)
		AccumulateWide(docIDs, weights, 0.73, wide, false)
		AccumulateWide(docIDs, weights, 0.73, widePf, true)

		for d := 0; d < numDocs; d++ {
			if ref[d] != wide[d] || ref[d] != widePf[d] {
				t.Fatalf("count %d doc %d: scalar %x wide %x prefetch %x",
					count, d, ref[d], wide[d], widePf[d])
			}
		}
	}
}

func TestKernelSkipsOutOfRangeDocs(t *testing.T) {
	scores := make([]float32, 4)
	docIDs := []uint32{0, 99, 2} // 99 is corrupt
	weights := []float32{1, 1, 1}
	AccumulateReference(docIDs, weights, 1.0, scores)
	if scores[0] != 1 || scores[2] != 1 {
		t.Fatalf("valid docs not scored: %v", scores)
	}

	wide := make([]float32, 4)
	AccumulateWide(docIDs, weights, 1.0, wide, true)
	for i := range scores {
		if scores[i] != wide[i] {
			t.Fatal("kernels disagree on corrupt input")
		}
	}
}

func TestSindiQueryTermOutsideVocabulary(t *testing.T) {
	docs := []Vector{NewVector([]uint32{0}, []float32{1.0})}
	idx, err := NewSindiIndex(DefaultSindiConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Build(docs); err != nil {
		t.Fatal(err)
	}

	// Term 500 is outside V=1; it contributes zero, silently.
	results := idx.Search(NewVector([]uint32{0, 500}, []float32{1.0, 9.9}), 5)
	if len(results) != 1 || results[0].DocID != 0 {
		t.Fatalf("results = %+v", results)
	}
	if !almostEqual(results[0].Score, 1.0) {
		t.Fatalf("score = %f, want 1.0", results[0].Score)
	}
}

func TestSindiForwardIndex(t *testing.T) {
	docs := []Vector{
		NewVector([]uint32{1, 5}, []float32{0.5, 0.7}),
		{},
		NewVector([]uint32{0}, []float32{0.2}),
	}
	idx, err := NewSindiIndex(DefaultSindiConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Build(docs); err != nil {
		t.Fatal(err)
	}

	for d, want := range docs {
		got, err := idx.Document(uint32(d))
		if err != nil {
			t.Fatal(err)
		}
		if got.Len() != want.Len() {
			t.Fatalf("doc %d: %d elements, want %d", d, got.Len(), want.Len())
		}
		for _, e := range want.Elements() {
			if !almostEqual(got.Get(e.Index), e.Value) {
				t.Fatalf("doc %d term %d = %f, want %f", d, e.Index, got.Get(e.Index), e.Value)
			}
		}
	}

	if _, err := idx.Document(3); !errors.Is(err, diagon.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSindiSaveLoad(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	docs := randomCorpus(rng, 300, 30, 5)

	idx, err := NewSindiIndex(DefaultSindiConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Build(docs); err != nil {
		t.Fatal(err)
	}

	dir := store.NewMemDirectory()
	defer dir.Close()
	if err := idx.Save(dir, "_0"); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadSindiIndex(dir, "_0")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NumDocuments() != idx.NumDocuments() || loaded.NumPostings() != idx.NumPostings() {
		t.Fatalf("counts diverged: %d/%d vs %d/%d",
			loaded.NumDocuments(), loaded.NumPostings(), idx.NumDocuments(), idx.NumPostings())
	}

	for trial := 0; trial < 10; trial++ {
		var query Vector
		for i := 0; i < 4; i++ {
			query.Set(uint32(rng.Intn(30)), rng.Float32())
		}
		got := loaded.Search(query, 10)
		want := idx.Search(query, 10)
		if len(got) != len(want) {
			t.Fatalf("trial %d: result counts diverged", trial)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("trial %d rank %d diverged: %+v vs %+v", trial, i, got[i], want[i])
			}
		}
	}

	doc, err := loaded.Document(5)
	if err != nil {
		t.Fatal(err)
	}
	orig, _ := idx.Document(5)
	if doc.Len() != orig.Len() {
		t.Fatal("forward index diverged after load")
	}
}
