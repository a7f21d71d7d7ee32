package sparse

import (
	"math"
	"testing"
)

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestVectorAddKeepsSortedOrder(t *testing.T) {
	var v Vector
	v.Add(100, 0.5)
	v.Add(10, 0.8)
	v.Add(25, 1.2)
	v.Add(10, 0.2) // accumulates

	if v.Len() != 3 {
		t.Fatalf("len = %d, want 3", v.Len())
	}
	prev := int64(-1)
	for i := 0; i < v.Len(); i++ {
		if int64(v.At(i).Index) <= prev {
			t.Fatal("elements not sorted by index")
		}
		prev = int64(v.At(i).Index)
	}
	if !almostEqual(v.Get(10), 1.0) {
		t.Fatalf("Get(10) = %f, want 1.0", v.Get(10))
	}
	if v.Get(11) != 0 {
		t.Fatalf("Get(11) = %f, want 0", v.Get(11))
	}
	if v.MaxDimension() != 101 {
		t.Fatalf("MaxDimension = %d, want 101", v.MaxDimension())
	}
}

func TestDotTwoPointer(t *testing.T) {
	a := NewVector([]uint32{0, 2, 5}, []float32{1, 2, 3})
	b := NewVector([]uint32{1, 2, 5, 9}, []float32{10, 4, 5, 6})

	// Overlap at 2 and 5: 2*4 + 3*5 = 23.
	if got := a.Dot(b); !almostEqual(got, 23) {
		t.Fatalf("Dot = %f, want 23", got)
	}
	if got := b.Dot(a); !almostEqual(got, 23) {
		t.Fatal("Dot not symmetric")
	}
	if got := a.Dot(Vector{}); got != 0 {
		t.Fatalf("Dot with empty = %f", got)
	}
}

func TestNorms(t *testing.T) {
	v := NewVector([]uint32{0, 1}, []float32{3, 4})
	if !almostEqual(v.Norm(), 5) {
		t.Fatalf("Norm = %f, want 5", v.Norm())
	}
	if !almostEqual(v.Norm1(), 7) {
		t.Fatalf("Norm1 = %f, want 7", v.Norm1())
	}
	if !almostEqual(v.Sum(), 7) {
		t.Fatalf("Sum = %f, want 7", v.Sum())
	}

	v.Normalize()
	if !almostEqual(v.Norm(), 1) {
		t.Fatalf("normalized Norm = %f", v.Norm())
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := NewVector([]uint32{0}, []float32{2})
	b := NewVector([]uint32{0}, []float32{7})
	if got := a.CosineSimilarity(b); !almostEqual(got, 1) {
		t.Fatalf("parallel cosine = %f, want 1", got)
	}
	c := NewVector([]uint32{1}, []float32{3})
	if got := a.CosineSimilarity(c); got != 0 {
		t.Fatalf("orthogonal cosine = %f, want 0", got)
	}
	if got := a.CosineSimilarity(Vector{}); got != 0 {
		t.Fatalf("zero-vector cosine = %f", got)
	}
}

func TestPruneTopK(t *testing.T) {
	v := NewVector([]uint32{0, 1, 2, 3}, []float32{0.1, 0.9, 0.5, 0.7})
	v.PruneTopK(2)
	if v.Len() != 2 {
		t.Fatalf("len = %d", v.Len())
	}
	if !v.Contains(1) || !v.Contains(3) {
		t.Fatalf("kept wrong elements: %+v", v.Elements())
	}
	// Still sorted by index after pruning.
	if v.At(0).Index != 1 || v.At(1).Index != 3 {
		t.Fatal("not re-sorted by index")
	}
}

func TestPruneByMass(t *testing.T) {
	v := NewVector([]uint32{0, 1, 2, 3}, []float32{4, 3, 2, 1})
	v.PruneByMass(0.7) // total 10, target 7: keep 4+3
	if v.Len() != 2 {
		t.Fatalf("len = %d, want 2", v.Len())
	}
	if !v.Contains(0) || !v.Contains(1) {
		t.Fatalf("kept wrong elements: %+v", v.Elements())
	}
}

func TestPruneByThreshold(t *testing.T) {
	v := NewVector([]uint32{0, 1, 2}, []float32{0.1, 0.5, 0.9})
	v.PruneByThreshold(0.5)
	if v.Len() != 2 || v.Contains(0) {
		t.Fatalf("threshold prune wrong: %+v", v.Elements())
	}
}

func TestDenseRoundTrip(t *testing.T) {
	dense := []float32{0, 1.5, 0, 0.25, 0}
	v := FromDense(dense, 0)
	if v.Len() != 2 {
		t.Fatalf("len = %d", v.Len())
	}
	back := v.ToDense(5)
	for i := range dense {
		if !almostEqual(back[i], dense[i]) {
			t.Fatalf("dense[%d] = %f, want %f", i, back[i], dense[i])
		}
	}
}
