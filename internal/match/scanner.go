package match

import (
	"context"
	"fmt"

	"github.com/kozaktomas/trueface/internal/store"
	"github.com/kozaktomas/trueface/internal/vector"
)

// Result is a ranked identity match. Confidence is a cosine-similarity
// derived score clamped to [0, 1].
type Result struct {
	IdentityID string  `json:"identity_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// DimensionError reports a query vector whose length differs from the
// stored or indexed embeddings. Mismatches fail fast; the query is never
// padded or truncated to fit.
type DimensionError struct {
	Query, Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("query dimension %d does not match embedding dimension %d", e.Query, e.Want)
}

// ExactScanner is the brute-force search path: a linear pass over every
// stored embedding computing precise cosine similarity. It is the ranking
// ground truth the approximate index merely approximates, and the fallback
// when no index is available.
type ExactScanner struct {
	store store.Reader
}

// NewExactScanner creates a scanner over the given store.
func NewExactScanner(s store.Reader) *ExactScanner {
	return &ExactScanner{store: s}
}

// BestMatch scans all embeddings and returns the single highest-scoring
// identity, or nil when nothing is enrolled. Ties keep the first entry in
// the store's iteration order.
func (s *ExactScanner) BestMatch(ctx context.Context, query []float32) (*Result, error) {
	entries, err := s.store.ListAllEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}

	var best *Result
	bestScore := -1.0
	for i := range entries {
		e := &entries[i]
		if len(e.Embedding) != len(query) {
			return nil, &DimensionError{Query: len(query), Want: len(e.Embedding)}
		}
		score := vector.Similarity(query, e.Embedding)
		if score > bestScore {
			bestScore = score
			best = &Result{IdentityID: e.IdentityID, Name: e.Name, Confidence: vector.Clamp01(score)}
		}
	}
	return best, nil
}

// TopK scans once and returns up to k identities in descending confidence
// order. Every (identity, face) pair is scored, an identity's confidence is
// its best face, and a bounded min-heap keeps the scan O(N log k). With k at
// least the number of distinct identities, all of them are returned.
func (s *ExactScanner) TopK(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	entries, err := s.store.ListAllEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}

	// Reduce faces to one candidate per identity, keeping scan order for
	// stable tie-breaking.
	type candidate struct {
		result Result
		seq    int
	}
	byIdentity := make(map[string]int, len(entries))
	var candidates []candidate
	for i := range entries {
		e := &entries[i]
		if len(e.Embedding) != len(query) {
			return nil, &DimensionError{Query: len(query), Want: len(e.Embedding)}
		}
		score := vector.Clamp01(vector.Similarity(query, e.Embedding))
		if pos, ok := byIdentity[e.IdentityID]; ok {
			if score > candidates[pos].result.Confidence {
				candidates[pos].result.Confidence = score
			}
			continue
		}
		byIdentity[e.IdentityID] = len(candidates)
		candidates = append(candidates, candidate{
			result: Result{IdentityID: e.IdentityID, Name: e.Name, Confidence: score},
			seq:    i,
		})
	}

	h := newTopKHeap(k)
	for i := range candidates {
		h.offer(candidates[i].result, candidates[i].seq)
	}
	return h.drain(), nil
}

// Verify returns the maximum similarity between the query and any of one
// identity's own embeddings. Absent identities and identities without faces
// report 0.0, never an error: a zero floor distinguishes "no match" from
// "store failure".
func (s *ExactScanner) Verify(ctx context.Context, identityID string, query []float32) (float64, error) {
	ident, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		return 0, fmt.Errorf("fetching identity %s: %w", identityID, err)
	}
	if ident == nil {
		return 0, nil
	}

	best := 0.0
	for i := range ident.Faces {
		emb := ident.Faces[i].Embedding
		if len(emb) != len(query) {
			return 0, &DimensionError{Query: len(query), Want: len(emb)}
		}
		if score := vector.Similarity(query, emb); score > best {
			best = score
		}
	}
	return best, nil
}
