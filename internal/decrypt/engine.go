// Package decrypt implements the top-K selection step of the decryption
// engine (C5): it turns decrypted per-shard scores into a ranked, global
// top-K list of (shard_idx, row_idx, score) entries. Decoding and decrypting
// the ciphertext-score blob happen in internal/vaultservice via the crypto
// provider.
package decrypt

import (
	"container/heap"
)

// Entry is one ranked score result.
type Entry struct {
	ShardIdx int64   `json:"shard_idx"`
	RowIdx   int     `json:"row_idx"`
	Score    float64 `json:"score"`
}

// less reports whether a ranks strictly before b in the final output:
// higher score first, then lower shard_idx, then lower row_idx.
func less(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.ShardIdx != b.ShardIdx {
		return a.ShardIdx < b.ShardIdx
	}
	return a.RowIdx < b.RowIdx
}

// topKHeap is a bounded min-heap (by output rank) used to select the global
// top-K without materializing a fully sorted list. The "minimum" in heap
// terms is the worst-ranked entry currently retained, so a new entry that
// outranks heap[0] evicts it.
type topKHeap []Entry

func (h topKHeap) Len() int { return len(h) }
func (h topKHeap) Less(i, j int) bool {
	// Inverted: heap.Pop removes the *worst*-ranked entry, i.e. the one for
	// which less(other, h[i]) holds — so Less here is "worse than".
	return less(h[j], h[i])
}
func (h topKHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *topKHeap) Push(x any)        { *h = append(*h, x.(Entry)) }
func (h *topKHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TopK flattens the ragged (shards, rows) score matrix into (shardIdx,
// rowIdx, score) triples and returns the k highest, sorted descending with
// the tie-break policy in `less`.
func TopK(scores [][]float64, shardIdx []int64, k int) []Entry {
	h := &topKHeap{}
	heap.Init(h)

	for i, row := range scores {
		sIdx := int64(i)
		if i < len(shardIdx) {
			sIdx = shardIdx[i]
		}
		for j, score := range row {
			entry := Entry{ShardIdx: sIdx, RowIdx: j, Score: score}
			if h.Len() < k {
				heap.Push(h, entry)
				continue
			}
			if less(entry, (*h)[0]) {
				heap.Pop(h)
				heap.Push(h, entry)
			}
		}
	}

	out := make([]Entry, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Entry)
	}
	return out
}
