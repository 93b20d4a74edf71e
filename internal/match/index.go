package match

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/trueface/internal/store"
	"github.com/kozaktomas/trueface/internal/vector"
)

// IndexParams tunes HNSW graph construction.
type IndexParams struct {
	// MaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	MaxNeighbors int

	// EfSearch is the size of the dynamic candidate list during search.
	EfSearch int

	// SearchMultiplier is the factor to request more candidates from the
	// graph than asked for, so enough distinct identities survive
	// per-identity deduplication.
	SearchMultiplier int

	// Progress, when set, is called after each vector is inserted during a
	// build, with the number inserted so far and the total.
	Progress func(inserted, total int)
}

// DefaultIndexParams are sized for 128-512 dim face embeddings.
func DefaultIndexParams() IndexParams {
	return IndexParams{
		MaxNeighbors:     16,
		EfSearch:         64,
		SearchMultiplier: 3,
	}
}

func (p IndexParams) withDefaults() IndexParams {
	d := DefaultIndexParams()
	if p.MaxNeighbors <= 0 {
		p.MaxNeighbors = d.MaxNeighbors
	}
	if p.EfSearch <= 0 {
		p.EfSearch = d.EfSearch
	}
	if p.SearchMultiplier <= 0 {
		p.SearchMultiplier = d.SearchMultiplier
	}
	return p
}

// Hit is one approximate search result, already resolved to an identity.
type Hit struct {
	IdentityID string
	Name       string
	// Similarity is recomputed exactly against the indexed vector
	// (1 - cosine distance), so it shares semantics with vector.Similarity
	// rather than whatever scale the graph reports internally.
	Similarity float64
}

// labelRef maps an index-internal label back to its identity.
type labelRef struct {
	IdentityID string
	Name       string
}

// Index is an immutable in-memory HNSW snapshot over one vector per
// (identity, face) pair. Build once, query many: it is never updated when
// identities are enrolled later; staleness is resolved by an explicit
// rebuild through the engine.
//
// Concurrent KNN calls need no synchronization post-build; the mutex only
// serializes build against persistence operations.
type Index struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[string]
	saved   *hnsw.SavedGraph[string]
	byLabel map[string]labelRef
	dim     int
	builtAt time.Time
}

// BuildIndex constructs the snapshot from a full store scan. Zero entries
// leave the index unbuilt: Ready reports false and KNN returns empty.
// Entries whose dimension differs from the first vector seen fail the build;
// the caller degrades to exact scanning rather than indexing a padded or
// truncated vector.
func BuildIndex(entries []store.LabeledEmbedding, params IndexParams) (*Index, error) {
	idx := &Index{byLabel: make(map[string]labelRef)}
	if len(entries) == 0 {
		return idx, nil
	}

	params = params.withDefaults()

	g := hnsw.NewGraph[string]()
	g.M = params.MaxNeighbors
	g.Ml = 1.0 / float64(params.MaxNeighbors) // standard HNSW level formula
	g.EfSearch = params.EfSearch
	g.Distance = hnsw.CosineDistance

	byLabel := make(map[string]labelRef, len(entries))
	dim := 0

	for i := range entries {
		e := &entries[i]
		if len(e.Embedding) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(e.Embedding)
		} else if len(e.Embedding) != dim {
			return nil, fmt.Errorf("building index: embedding for identity %s has dimension %d, index dimension is %d",
				e.IdentityID, len(e.Embedding), dim)
		}

		// One graph node per (identity, face) pair; the ordinal keeps
		// labels unique when an identity has several faces.
		label := fmt.Sprintf("%s/%d", e.IdentityID, i)
		g.Add(hnsw.MakeNode(label, e.Embedding))
		byLabel[label] = labelRef{IdentityID: e.IdentityID, Name: e.Name}

		if params.Progress != nil {
			params.Progress(len(byLabel), len(entries))
		}
	}

	if len(byLabel) == 0 {
		return idx, nil
	}

	idx.graph = g
	idx.byLabel = byLabel
	idx.dim = dim
	idx.builtAt = time.Now()
	return idx, nil
}

// Ready reports whether the index holds a built graph.
func (idx *Index) Ready() bool {
	if idx == nil {
		return false
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.graph != nil || idx.saved != nil
}

// Dim returns the embedding dimension fixed at build time, or 0 when unbuilt.
func (idx *Index) Dim() int {
	if idx == nil {
		return 0
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim
}

// Len returns the number of indexed (identity, face) points.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byLabel)
}

// KNN returns up to k nearest identities, deduplicated so each identity
// appears once with its best face. An unbuilt index returns an empty slice.
// Failures inside the native search (including panics) are returned as
// errors, never propagated; the index stays usable for later requests.
func (idx *Index) KNN(query []float32, k int) (hits []Hit, err error) {
	if idx == nil || k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph == nil && idx.saved == nil {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			hits, err = nil, fmt.Errorf("index query: %v", r)
		}
	}()

	// Over-fetch so deduplication by identity still yields k results.
	searchK := k * DefaultIndexParams().SearchMultiplier
	if searchK < k+8 {
		searchK = k + 8
	}

	var neighbors []hnsw.Node[string]
	if idx.saved != nil {
		neighbors = idx.saved.Search(query, searchK)
	} else {
		neighbors = idx.graph.Search(query, searchK)
	}

	seen := make(map[string]bool, k)
	for _, n := range neighbors {
		ref, ok := idx.byLabel[n.Key]
		if !ok || seen[ref.IdentityID] {
			continue
		}
		seen[ref.IdentityID] = true

		// Exact cosine against the node's own vector keeps scores on the
		// same scale as the exact scanner.
		sim := 0.0
		if len(n.Value) == len(query) {
			sim = vector.Similarity(query, n.Value)
		}
		hits = append(hits, Hit{IdentityID: ref.IdentityID, Name: ref.Name, Similarity: sim})
		if len(hits) >= k {
			break
		}
	}

	return hits, nil
}

// IndexMetadata is the sidecar written next to a persisted graph.
type IndexMetadata struct {
	PointCount int       `json:"point_count"`
	Dim        int       `json:"dim"`
	BuildTime  time.Time `json:"build_time"`
	Version    int       `json:"version"`
}

const indexMetadataVersion = 1

// labelFile is the gob sidecar mapping graph labels to identities.
type labelFile struct {
	Labels map[string]labelRef
	Dim    int
	Built  time.Time
}

// Save persists the graph to path with .meta and .labels sidecars.
// Saving an unbuilt index removes any stale files instead.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph == nil && idx.saved == nil {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".labels")
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	if idx.saved != nil {
		err = idx.saved.Export(f)
	} else {
		err = idx.graph.Export(f)
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("exporting index graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing index file: %w", err)
	}

	meta := IndexMetadata{
		PointCount: len(idx.byLabel),
		Dim:        idx.dim,
		BuildTime:  idx.builtAt,
		Version:    indexMetadataVersion,
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling index metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("writing index metadata: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(labelFile{Labels: idx.byLabel, Dim: idx.dim, Built: idx.builtAt}); err != nil {
		return fmt.Errorf("encoding index labels: %w", err)
	}
	if err := os.WriteFile(path+".labels", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing index labels: %w", err)
	}

	return nil
}

// LoadIndex restores a persisted snapshot from path and its sidecars.
func LoadIndex(path string) (*Index, error) {
	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return nil, fmt.Errorf("loading index graph: %w", err)
	}

	data, err := os.ReadFile(path + ".labels")
	if err != nil {
		return nil, fmt.Errorf("reading index labels: %w", err)
	}
	var lf labelFile
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&lf); err != nil {
		return nil, fmt.Errorf("decoding index labels: %w", err)
	}

	return &Index{
		saved:   saved,
		byLabel: lf.Labels,
		dim:     lf.Dim,
		builtAt: lf.Built,
	}, nil
}

// LoadIndexMetadata reads just the .meta sidecar, for staleness checks
// without loading the whole graph.
func LoadIndexMetadata(path string) (IndexMetadata, error) {
	var meta IndexMetadata
	data, err := os.ReadFile(path + ".meta")
	if err != nil {
		return meta, fmt.Errorf("reading index metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("unmarshaling index metadata: %w", err)
	}
	return meta, nil
}
