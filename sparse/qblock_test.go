package sparse

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/store"
)

func TestQBlockConfigValidation(t *testing.T) {
	cases := []func(*QBlockConfig){
		func(c *QBlockConfig) { c.NumBins = 0 },
		func(c *QBlockConfig) { c.NumBins = 257 },
		func(c *QBlockConfig) { c.WindowSize = 0 },
		func(c *QBlockConfig) { c.Alpha = -0.1 },
		func(c *QBlockConfig) { c.Alpha = 1.1 },
		func(c *QBlockConfig) { c.ChunkPower = 19 },
		func(c *QBlockConfig) { c.ChunkPower = 41 },
	}
	for i, mutate := range cases {
		cfg := DefaultQBlockConfig()
		mutate(&cfg)
		if _, err := NewQBlockIndex(cfg); !errors.Is(err, diagon.ErrInvalidConfig) {
			t.Fatalf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}

func TestQBlockEmptyCorpus(t *testing.T) {
	idx, err := NewQBlockIndex(DefaultQBlockConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Build(nil); err != nil {
		t.Fatal(err)
	}
	if got := idx.Search(NewVector([]uint32{0}, []float32{1}), 10); len(got) != 0 {
		t.Fatalf("empty corpus returned %d results", len(got))
	}
}

func TestQBlockQuantizationTables(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	docs := randomCorpus(rng, 200, 20, 6)

	cfg := DefaultQBlockConfig()
	cfg.NumBins = 8
	idx, err := NewQBlockIndex(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Build(docs); err != nil {
		t.Fatal(err)
	}

	if len(idx.quantVal) != 8 {
		t.Fatalf("quantVal length = %d", len(idx.quantVal))
	}
	// Representatives are non-decreasing across bins (equal-frequency on
	// sorted weights) and bins cover all 256 scaled values.
	for b := 1; b < len(idx.quantVal); b++ {
		if idx.quantVal[b] < idx.quantVal[b-1] {
			t.Fatalf("bin representative decreased at %d", b)
		}
	}
	for u := 0; u < 256; u++ {
		if int(idx.quantMap[u]) >= 8 {
			t.Fatalf("quantMap[%d] = %d out of range", u, idx.quantMap[u])
		}
	}
	// Scaled-up weights map to higher or equal bins.
	for u := 1; u < 256; u++ {
		if idx.quantMap[u] < idx.quantMap[u-1] {
			t.Fatalf("quantMap not monotone at %d", u)
		}
	}
}

func TestQBlockSingleTermRanking(t *testing.T) {
	docs := []Vector{
		NewVector([]uint32{0}, []float32{0.9}),
		NewVector([]uint32{0}, []float32{0.1}),
		NewVector([]uint32{0}, []float32{0.5}),
	}
	cfg := DefaultQBlockConfig()
	cfg.Alpha = 1.0 // select everything: ranking must follow bins exactly
	idx, err := NewQBlockIndex(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Build(docs); err != nil {
		t.Fatal(err)
	}

	results := idx.Search(NewVector([]uint32{0}, []float32{1}), 3)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].DocID != 0 || results[2].DocID != 1 {
		t.Fatalf("ranking = %+v", results)
	}
}

func TestQBlockRecallAgainstSindi(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	docs := randomCorpus(rng, 1000, 60, 10)

	exactCfg := DefaultSindiConfig()
	exactCfg.UseBlockMax = false
	sindi, err := NewSindiIndex(exactCfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := sindi.Build(docs); err != nil {
		t.Fatal(err)
	}

	qcfg := DefaultQBlockConfig()
	qcfg.NumBins = 16
	qcfg.Alpha = 0.75
	qcfg.WindowSize = 256
	qblock, err := NewQBlockIndex(qcfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := qblock.Build(docs); err != nil {
		t.Fatal(err)
	}

	// Regression guard: overlap(QBlock@k, SINDI@k)/k >= 0.9 for k <= 100.
	for _, k := range []int{10, 50, 100} {
		var overlap, total int
		for trial := 0; trial < 10; trial++ {
			var query Vector
			for i := 0; i < 6; i++ {
				query.Set(uint32(rng.Intn(60)), rng.Float32()+0.05)
			}
			exact := sindi.Search(query, k)
			approx := qblock.Search(query, k)

			inExact := map[uint32]bool{}
			for _, r := range exact {
				inExact[r.DocID] = true
			}
			for _, r := range approx {
				if inExact[r.DocID] {
					overlap++
				}
			}
			total += len(exact)
		}
		if total == 0 {
			t.Fatalf("k=%d: no results", k)
		}
		if recall := float64(overlap) / float64(total); recall < 0.9 {
			t.Fatalf("k=%d: recall %.3f below 0.9", k, recall)
		}
	}
}

func TestQBlockSelectionModes(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	docs := randomCorpus(rng, 300, 20, 5)
	query := NewVector([]uint32{0, 3, 7}, []float32{1, 0.5, 0.25})

	build := func(mutate func(*QBlockConfig)) *QBlockIndex {
		cfg := DefaultQBlockConfig()
		cfg.WindowSize = 128
		mutate(&cfg)
		idx, err := NewQBlockIndex(cfg)
		if err != nil {
			t.Fatal(err)
		}
		if err := idx.Build(docs); err != nil {
			t.Fatal(err)
		}
		return idx
	}

	alpha := build(func(c *QBlockConfig) { c.Mode = AlphaMass })
	topk := build(func(c *QBlockConfig) { c.Mode = TopK; c.FixedTopK = 4 })
	ratio := build(func(c *QBlockConfig) { c.Mode = MaxRatio; c.Alpha = 0.5 })

	for _, idx := range []*QBlockIndex{alpha, topk, ratio} {
		if got := idx.Search(query, 10); len(got) == 0 {
			t.Fatalf("mode %d returned no results", idx.cfg.Mode)
		}
	}

	// TopK with budget 4 selects at most 4 blocks.
	cands := topk.collectCandidates(query)
	if sel := topk.selectBlocks(cands); len(sel) > 4 {
		t.Fatalf("TopK selected %d blocks", len(sel))
	}

	// MaxRatio keeps only blocks above alpha * max gain.
	cands = ratio.collectCandidates(query)
	sel := ratio.selectBlocks(cands)
	maxGain := sel[0].gain
	for _, c := range sel {
		if c.gain < 0.5*maxGain {
			t.Fatalf("MaxRatio kept gain %f below threshold", c.gain)
		}
	}
}

func TestQBlockQueryTermOutsideVocabulary(t *testing.T) {
	docs := []Vector{NewVector([]uint32{0}, []float32{1})}
	idx, err := NewQBlockIndex(DefaultQBlockConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Build(docs); err != nil {
		t.Fatal(err)
	}
	results := idx.Search(NewVector([]uint32{0, 999}, []float32{1, 5}), 5)
	if len(results) != 1 || results[0].DocID != 0 {
		t.Fatalf("results = %+v", results)
	}
}

func TestQBlockForwardIndexReturnsDocument(t *testing.T) {
	docs := []Vector{NewVector([]uint32{0, 2}, []float32{0.5, 0.25})}
	idx, err := NewQBlockIndex(DefaultQBlockConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Build(docs); err != nil {
		t.Fatal(err)
	}
	if !idx.HasForwardIndex() {
		t.Fatal("forward index missing")
	}
	doc, err := idx.Document(0)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Len() != 2 || !almostEqual(doc.Get(2), 0.25) {
		t.Fatalf("document = %+v", doc.Elements())
	}
}

func TestQBlockSaveLoad(t *testing.T) {
	rng := rand.New(rand.NewSource(29))
	docs := randomCorpus(rng, 500, 25, 6)

	cfg := DefaultQBlockConfig()
	cfg.WindowSize = 200
	idx, err := NewQBlockIndex(cfg)
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

	loaded, err := LoadQBlockIndex(dir, "_0")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NumDocuments() != idx.NumDocuments() ||
		loaded.NumWindows() != idx.NumWindows() ||
		loaded.NumPostings() != idx.NumPostings() {
		t.Fatal("counts diverged after load")
	}

	for trial := 0; trial < 10; trial++ {
		var query Vector
		for i := 0; i < 5; i++ {
			query.Set(uint32(rng.Intn(25)), rng.Float32())
		}
		got := loaded.Search(query, 10)
		want := idx.Search(query, 10)
		if len(got) != len(want) {
			t.Fatalf("trial %d: result counts diverged", trial)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("trial %d rank %d: %+v vs %+v", trial, i, got[i], want[i])
			}
		}
	}
}

func TestQBlockLoadWithoutMetadataFails(t *testing.T) {
	dir := store.NewMemDirectory()
	defer dir.Close()

	// A truncated .idx (missing num_documents onward) must fail corrupt,
	// not default to an unsized scores buffer.
	out, err := dir.CreateOutput("_0_qblock.idx", store.IOContextDefault)
	if err != nil {
		t.Fatal(err)
	}
	if err := out.WriteUint32(0x44514958); err != nil {
		t.Fatal(err)
	}
	if err := out.WriteUint32(1); err != nil {
		t.Fatal(err)
	}
	if err := out.WriteUint32(16); err != nil { // bins
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadQBlockIndex(dir, "_0"); !errors.Is(err, diagon.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}
