package sparse

import "github.com/klauspost/cpuid/v2"

// The accumulation kernel is the hot loop of both indexes:
//
//	scores[doc_id] += query_weight * doc_weight
//
// The wide path processes postings eight at a time with software read-ahead
// standing in for prefetch hints; it is gated on AVX2-class hardware where
// the unrolled form actually wins. The scalar loop is the reference: both
// paths apply exactly one fused update per posting in list order, so their
// results are bit-identical.
const (
	kernelWidth      = 8
	prefetchDistance = 8
)

var wideKernelAvailable = cpuid.CPU.Supports(cpuid.AVX2)

// HasWideKernel reports whether the unrolled kernel is enabled on this CPU.
func HasWideKernel() bool { return wideKernelAvailable }

// accumulateScores dispatches to the widest enabled kernel.
func accumulateScores(docIDs []uint32, weights []float32, queryWeight float32, scores []float32, useSIMD, usePrefetch bool) {
	if useSIMD && wideKernelAvailable {
		accumulateWide(docIDs, weights, queryWeight, scores, usePrefetch)
		return
	}
	accumulateScalar(docIDs, weights, queryWeight, scores)
}

// accumulateScalar is the reference implementation. Out-of-range doc ids
// (corrupt postings) are skipped, never a crash.
func accumulateScalar(docIDs []uint32, weights []float32, queryWeight float32, scores []float32) {
	n := min(len(docIDs), len(weights))
	for i := 0; i < n; i++ {
		doc := docIDs[i]
		if int(doc) >= len(scores) {
			continue
		}
		scores[doc] += queryWeight * weights[i]
	}
}

func accumulateWide(docIDs []uint32, weights []float32, queryWeight float32, scores []float32, usePrefetch bool) {
	n := min(len(docIDs), len(weights))
	i := 0
	for ; i+kernelWidth <= n; i += kernelWidth {
		if usePrefetch && i+kernelWidth+prefetchDistance < n {
			// Touch one cache line ahead so the next iteration's
			// postings are resident.
			_ = docIDs[i+kernelWidth+prefetchDistance]
			_ = weights[i+kernelWidth+prefetchDistance]
		}

		d := docIDs[i : i+kernelWidth : i+kernelWidth]
		w := weights[i : i+kernelWidth : i+kernelWidth]
		for j := 0; j < kernelWidth; j++ {
			doc := d[j]
			if int(doc) >= len(scores) {
				continue
			}
			scores[doc] += queryWeight * w[j]
		}
	}
	for ; i < n; i++ {
		doc := docIDs[i]
		if int(doc) >= len(scores) {
			continue
		}
		scores[doc] += queryWeight * weights[i]
	}
}
