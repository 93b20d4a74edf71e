// Package match implements the identity matching engine: approximate
// candidate retrieval over an in-memory HNSW snapshot, precise cosine
// re-scoring against the identity store, and transparent fallback to an
// exhaustive exact scan whenever the approximate path is absent or fails.
package match

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/kozaktomas/trueface/internal/store"
	"github.com/kozaktomas/trueface/internal/vector"
)

// Options configures an Engine.
type Options struct {
	// Params tunes ANN index construction for RebuildIndex.
	Params IndexParams

	// RescoreTopK makes SearchCandidates re-score approximate hits
	// precisely against each identity's full embedding set, the way
	// FindBestMatch always does. Off by default: for a ranked list the
	// approximate relative ordering is acceptable and re-scoring K
	// identities is the expensive part.
	RescoreTopK bool

	// Logger receives fallback and degradation events.
	// Defaults to slog.Default().
	Logger *slog.Logger
}

// Engine orchestrates identity matching. It holds at most one index
// snapshot, injected or built via RebuildIndex, and is otherwise stateless
// across requests: safe for concurrent use once constructed.
type Engine struct {
	store       store.Reader
	scanner     *ExactScanner
	params      IndexParams
	rescoreTopK bool
	logger      *slog.Logger

	mu    sync.Mutex // serializes index construction and swap
	index *Index
}

// NewEngine creates an engine over the given store. The engine starts
// without an index and serves everything through the exact scanner until
// RebuildIndex or SetIndex installs a snapshot.
func NewEngine(s store.Reader, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:       s,
		scanner:     NewExactScanner(s),
		params:      opts.Params.withDefaults(),
		rescoreTopK: opts.RescoreTopK,
		logger:      logger,
	}
}

// Scanner exposes the exact search path directly.
func (e *Engine) Scanner() *ExactScanner {
	return e.scanner
}

// Index returns the current snapshot, or nil when the engine is degraded
// to exact scanning.
func (e *Engine) Index() *Index {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// SetIndex installs a pre-built snapshot, e.g. one restored from disk.
func (e *Engine) SetIndex(idx *Index) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.index = idx
}

// RebuildIndex builds a fresh snapshot from a full store scan and swaps it
// in. Builds are serialized; queries keep using the previous snapshot until
// the swap. A store failure or build failure leaves the previous state
// untouched and is returned to the caller, who may treat it as a warning
// and continue degraded. "No data" is not an error: it installs an unbuilt
// index and the engine falls back to exact scans, logged here once rather
// than on every request.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.store.ListAllEmbeddings(ctx)
	if err != nil {
		return err
	}

	idx, err := BuildIndex(entries, e.params)
	if err != nil {
		return err
	}

	if !idx.Ready() {
		e.logger.Info("no embeddings to index, matching will use exact scan")
	} else {
		e.logger.Info("approximate index built",
			"points", idx.Len(), "dim", idx.Dim())
	}
	e.index = idx
	return nil
}

// checkDim rejects queries whose length differs from the index dimension.
// Without an index the scan paths validate against stored embeddings.
func (e *Engine) checkDim(query []float32, idx *Index) error {
	if idx != nil && idx.Ready() && len(query) != idx.Dim() {
		return &DimensionError{Query: len(query), Want: idx.Dim()}
	}
	return nil
}

// FindBestMatch returns the best-matching enrolled identity for the query,
// or nil when nothing is enrolled. The approximate index supplies the
// candidate, but the reported confidence is always recomputed precisely
// against the candidate identity's full embedding set; raw approximate
// scores are never trusted for a result that drives an accept decision.
// Any approximate-path failure falls back to the exact scan. Only a store
// failure on the exact path surfaces, as there is no further fallback.
func (e *Engine) FindBestMatch(ctx context.Context, query []float32) (*Result, error) {
	idx := e.Index()
	if err := e.checkDim(query, idx); err != nil {
		return nil, err
	}

	if idx.Ready() {
		if res, ok := e.tryApproxBest(ctx, query, idx); ok {
			return res, nil
		}
	}
	return e.scanner.BestMatch(ctx, query)
}

// tryApproxBest runs the approximate best-match path. ok is false when the
// caller should fall back to the exact scan.
func (e *Engine) tryApproxBest(ctx context.Context, query []float32, idx *Index) (*Result, bool) {
	hits, err := idx.KNN(query, 1)
	if err != nil {
		e.logger.Warn("approximate search failed, falling back to exact scan", "error", err)
		return nil, false
	}
	if len(hits) == 0 {
		return nil, false
	}

	ident, err := e.store.GetIdentity(ctx, hits[0].IdentityID)
	if err != nil {
		// The exact scan retries the store; if it is truly down the
		// fallback surfaces that with no result lost.
		e.logger.Warn("candidate re-score failed, falling back to exact scan",
			"identity", hits[0].IdentityID, "error", err)
		return nil, false
	}
	if ident == nil || len(ident.Faces) == 0 {
		// Index is stale: the candidate vanished from the store.
		return nil, false
	}

	best := 0.0
	for i := range ident.Faces {
		if len(ident.Faces[i].Embedding) != len(query) {
			return nil, false
		}
		if s := vector.Similarity(query, ident.Faces[i].Embedding); s > best {
			best = s
		}
	}
	return &Result{IdentityID: ident.ID, Name: ident.Name, Confidence: vector.Clamp01(best)}, true
}

// SearchCandidates returns up to k ranked identities. If the approximate
// index yields results they are returned with their index-side similarities
// unless RescoreTopK is set; zero approximate results (including an
// unavailable index) fall back entirely to the exact scan.
func (e *Engine) SearchCandidates(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	idx := e.Index()
	if err := e.checkDim(query, idx); err != nil {
		return nil, err
	}

	if idx.Ready() {
		hits, err := idx.KNN(query, k)
		if err != nil {
			e.logger.Warn("approximate search failed, falling back to exact scan", "error", err)
		} else if len(hits) > 0 {
			if e.rescoreTopK {
				if results, ok := e.rescoreHits(ctx, query, hits); ok {
					return results, nil
				}
			} else {
				results := make([]Result, len(hits))
				for i, h := range hits {
					results[i] = Result{IdentityID: h.IdentityID, Name: h.Name, Confidence: vector.Clamp01(h.Similarity)}
				}
				return results, nil
			}
		}
	}
	return e.scanner.TopK(ctx, query, k)
}

// rescoreHits replaces approximate similarities with each identity's precise
// best-face score and re-sorts. ok is false when any lookup fails and the
// caller should fall back to the exact scan.
func (e *Engine) rescoreHits(ctx context.Context, query []float32, hits []Hit) ([]Result, bool) {
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		ident, err := e.store.GetIdentity(ctx, h.IdentityID)
		if err != nil {
			e.logger.Warn("candidate re-score failed, falling back to exact scan",
				"identity", h.IdentityID, "error", err)
			return nil, false
		}
		if ident == nil {
			continue // stale index entry
		}
		best := 0.0
		for i := range ident.Faces {
			if len(ident.Faces[i].Embedding) != len(query) {
				return nil, false
			}
			if s := vector.Similarity(query, ident.Faces[i].Embedding); s > best {
				best = s
			}
		}
		results = append(results, Result{IdentityID: ident.ID, Name: ident.Name, Confidence: vector.Clamp01(best)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	return results, true
}

// Verify returns the precise maximum similarity between the query and one
// identity's enrolled embeddings. Verification is identity-scoped and gates
// an accept/reject decision, so it always takes the exact path; the
// approximate index is never consulted.
func (e *Engine) Verify(ctx context.Context, identityID string, query []float32) (float64, error) {
	return e.scanner.Verify(ctx, identityID, query)
}
