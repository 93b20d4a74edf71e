package match

import (
	"container/heap"
	"sort"
)

// scored pairs a result with its scan position for stable tie-breaking.
type scored struct {
	result Result
	seq    int
}

// topKHeap is a bounded min-heap of the k best candidates seen so far.
// Keeping the minimum at the root makes a single scan O(N log k) instead of
// collecting everything and sorting.
type topKHeap struct {
	items []scored
	k     int
}

func newTopKHeap(k int) *topKHeap {
	return &topKHeap{items: make([]scored, 0, k), k: k}
}

func (h *topKHeap) Len() int { return len(h.items) }

func (h *topKHeap) Less(i, j int) bool {
	if h.items[i].result.Confidence != h.items[j].result.Confidence {
		return h.items[i].result.Confidence < h.items[j].result.Confidence
	}
	// On equal confidence the later arrival sits closer to the root,
	// so earlier entries survive eviction: first encountered wins.
	return h.items[i].seq > h.items[j].seq
}

func (h *topKHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *topKHeap) Push(x any) { h.items = append(h.items, x.(scored)) }

func (h *topKHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}

// offer considers a candidate. While the heap has room everything is kept;
// once full, a candidate replaces the current minimum only if it scores
// strictly higher, so ties keep the first-encountered entry.
func (h *topKHeap) offer(r Result, seq int) {
	if h.k <= 0 {
		return
	}
	if len(h.items) < h.k {
		heap.Push(h, scored{result: r, seq: seq})
		return
	}
	if r.Confidence > h.items[0].result.Confidence {
		h.items[0] = scored{result: r, seq: seq}
		heap.Fix(h, 0)
	}
}

// drain returns the collected results in descending confidence order,
// scan order for ties.
func (h *topKHeap) drain() []Result {
	out := make([]scored, len(h.items))
	copy(out, h.items)
	sort.Slice(out, func(i, j int) bool {
		if out[i].result.Confidence != out[j].result.Confidence {
			return out[i].result.Confidence > out[j].result.Confidence
		}
		return out[i].seq < out[j].seq
	})

	results := make([]Result, len(out))
	for i := range out {
		results[i] = out[i].result
	}
	return results
}
