package match

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/kozaktomas/trueface/internal/store"
	"github.com/kozaktomas/trueface/internal/store/mock"
)

func newTestEngine(t *testing.T, m *mock.Store, opts Options) *Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return NewEngine(m, opts)
}

func TestFindBestMatchEmptyStore(t *testing.T) {
	e := newTestEngine(t, mock.New(), Options{})

	res, err := e.FindBestMatch(context.Background(), []float32{1, 0})
	if err != nil {
		t.Fatalf("FindBestMatch: %v", err)
	}
	if res != nil {
		t.Errorf("expected nil result, got %+v", res)
	}
}

func TestFindBestMatchWithIndex(t *testing.T) {
	m := mock.New()
	alice := enroll(t, m, "Alice", []float32{1, 0, 0})
	enroll(t, m, "Bob", []float32{0, 1, 0})

	e := newTestEngine(t, m, Options{})
	if err := e.RebuildIndex(context.Background()); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	if !e.Index().Ready() {
		t.Fatal("index should be ready after rebuild")
	}

	res, err := e.FindBestMatch(context.Background(), []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("FindBestMatch: %v", err)
	}
	if res == nil || res.IdentityID != alice {
		t.Fatalf("expected Alice, got %+v", res)
	}
	if math.Abs(res.Confidence-1.0) > 1e-6 {
		t.Errorf("confidence = %f, want ~1.0", res.Confidence)
	}
}

func TestFindBestMatchRescoresAgainstAllFaces(t *testing.T) {
	m := mock.New()
	alice := enroll(t, m, "Alice", []float32{0.6, 0.8, 0})

	e := newTestEngine(t, m, Options{})
	if err := e.RebuildIndex(context.Background()); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}

	// A face added after the build is invisible to the index but must
	// still count in the precise re-score.
	if err := m.AddFace(context.Background(), alice, []float32{1, 0, 0}); err != nil {
		t.Fatalf("AddFace: %v", err)
	}

	res, err := e.FindBestMatch(context.Background(), []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("FindBestMatch: %v", err)
	}
	if res == nil || res.IdentityID != alice {
		t.Fatalf("expected Alice, got %+v", res)
	}
	if math.Abs(res.Confidence-1.0) > 1e-6 {
		t.Errorf("confidence = %f, want ~1.0 from the newer face", res.Confidence)
	}
}

func TestFallbackTransparency(t *testing.T) {
	m := mock.New()
	enroll(t, m, "Alice", []float32{1, 0, 0})
	enroll(t, m, "Bob", []float32{0, 1, 0})
	enroll(t, m, "Carol", []float32{0.5, 0.5, 0.7})

	// Engine without an index must match the exact scanner exactly.
	e := newTestEngine(t, m, Options{})
	scanner := NewExactScanner(m)
	query := []float32{0.8, 0.2, 0.1}

	engineBest, err := e.FindBestMatch(context.Background(), query)
	if err != nil {
		t.Fatalf("FindBestMatch: %v", err)
	}
	scanBest, err := scanner.BestMatch(context.Background(), query)
	if err != nil {
		t.Fatalf("BestMatch: %v", err)
	}
	if engineBest.IdentityID != scanBest.IdentityID {
		t.Errorf("degraded engine best %s differs from scanner %s", engineBest.IdentityID, scanBest.IdentityID)
	}
	if math.Abs(engineBest.Confidence-scanBest.Confidence) > 1e-9 {
		t.Errorf("confidence differs: %f vs %f", engineBest.Confidence, scanBest.Confidence)
	}

	engineTop, err := e.SearchCandidates(context.Background(), query, 2)
	if err != nil {
		t.Fatalf("SearchCandidates: %v", err)
	}
	scanTop, err := scanner.TopK(context.Background(), query, 2)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(engineTop) != len(scanTop) {
		t.Fatalf("candidate counts differ: %d vs %d", len(engineTop), len(scanTop))
	}
	for i := range engineTop {
		if engineTop[i].IdentityID != scanTop[i].IdentityID {
			t.Errorf("candidate %d differs: %s vs %s", i, engineTop[i].IdentityID, scanTop[i].IdentityID)
		}
		if math.Abs(engineTop[i].Confidence-scanTop[i].Confidence) > 1e-9 {
			t.Errorf("candidate %d confidence differs: %f vs %f", i, engineTop[i].Confidence, scanTop[i].Confidence)
		}
	}
}

func TestOrthogonalEnrollmentScenario(t *testing.T) {
	m := mock.New()
	e1 := []float32{1, 0, 0}
	e2 := []float32{0, 1, 0}
	alice := enroll(t, m, "Alice", e1)
	bob := enroll(t, m, "Bob", e2)

	e := newTestEngine(t, m, Options{})
	if err := e.RebuildIndex(context.Background()); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}

	res, err := e.FindBestMatch(context.Background(), e1)
	if err != nil {
		t.Fatalf("FindBestMatch(E1): %v", err)
	}
	if res.IdentityID != alice || math.Abs(res.Confidence-1.0) > 1e-6 {
		t.Errorf("FindBestMatch(E1) = %+v, want Alice at ~1.0", res)
	}

	res, err = e.FindBestMatch(context.Background(), e2)
	if err != nil {
		t.Fatalf("FindBestMatch(E2): %v", err)
	}
	if res.IdentityID != bob {
		t.Errorf("FindBestMatch(E2) = %+v, want Bob", res)
	}
}

func TestSearchCandidatesFallsBackOnEmptyIndex(t *testing.T) {
	m := mock.New()
	enroll(t, m, "Alice", []float32{1, 0})

	e := newTestEngine(t, m, Options{})
	// Rebuild against an empty store first: index stays unbuilt.
	empty := mock.New()
	e2 := newTestEngine(t, empty, Options{})
	if err := e2.RebuildIndex(context.Background()); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	if e2.Index().Ready() {
		t.Error("index over empty store should be unbuilt")
	}

	results, err := e.SearchCandidates(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("SearchCandidates: %v", err)
	}
	if len(results) != 1 || results[0].Name != "Alice" {
		t.Errorf("expected exact-scan fallback to find Alice, got %+v", results)
	}
}

func TestSearchCandidatesTopTwoOfThree(t *testing.T) {
	m := mock.New()
	enroll(t, m, "Alice", []float32{1, 0, 0})
	enroll(t, m, "Bob", []float32{0, 1, 0})
	enroll(t, m, "Carol", []float32{0.9, 0.1, 0})

	e := newTestEngine(t, m, Options{})
	if err := e.RebuildIndex(context.Background()); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}

	query := []float32{1, 0, 0}
	results, err := e.SearchCandidates(context.Background(), query, 2)
	if err != nil {
		t.Fatalf("SearchCandidates: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected exactly 2 results, got %d", len(results))
	}
	if results[0].Confidence < results[1].Confidence {
		t.Error("results not in descending confidence order")
	}

	best, err := e.FindBestMatch(context.Background(), query)
	if err != nil {
		t.Fatalf("FindBestMatch: %v", err)
	}
	if results[0].IdentityID != best.IdentityID {
		t.Errorf("top candidate %s disagrees with best match %s", results[0].IdentityID, best.IdentityID)
	}
}

func TestSearchCandidatesRescorePolicy(t *testing.T) {
	m := mock.New()
	alice := enroll(t, m, "Alice", []float32{0.6, 0.8, 0})

	e := newTestEngine(t, m, Options{RescoreTopK: true})
	if err := e.RebuildIndex(context.Background()); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	if err := m.AddFace(context.Background(), alice, []float32{1, 0, 0}); err != nil {
		t.Fatalf("AddFace: %v", err)
	}

	results, err := e.SearchCandidates(context.Background(), []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("SearchCandidates: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	// With rescoring on, the post-build face must lift the confidence.
	if math.Abs(results[0].Confidence-1.0) > 1e-6 {
		t.Errorf("rescored confidence = %f, want ~1.0", results[0].Confidence)
	}
}

func TestStoreUnavailableSurfaces(t *testing.T) {
	m := mock.New()
	enroll(t, m, "Alice", []float32{1, 0})

	e := newTestEngine(t, m, Options{})
	m.ListError = store.ErrUnavailable

	if _, err := e.FindBestMatch(context.Background(), []float32{1, 0}); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("FindBestMatch error = %v, want ErrUnavailable", err)
	}
	if _, err := e.SearchCandidates(context.Background(), []float32{1, 0}, 3); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("SearchCandidates error = %v, want ErrUnavailable", err)
	}
}

func TestApproxRescoreFailureFallsBack(t *testing.T) {
	m := mock.New()
	alice := enroll(t, m, "Alice", []float32{1, 0})

	e := newTestEngine(t, m, Options{})
	if err := e.RebuildIndex(context.Background()); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}

	// GetIdentity fails but ListAllEmbeddings still works: the engine must
	// recover the request through the exact scan.
	m.GetError = errors.New("transient lookup failure")

	res, err := e.FindBestMatch(context.Background(), []float32{1, 0})
	if err != nil {
		t.Fatalf("FindBestMatch should have fallen back, got error: %v", err)
	}
	if res == nil || res.IdentityID != alice {
		t.Errorf("fallback result = %+v, want Alice", res)
	}
}

func TestRebuildIndexStoreFailure(t *testing.T) {
	m := mock.New()
	enroll(t, m, "Alice", []float32{1, 0})

	e := newTestEngine(t, m, Options{})
	m.ListError = store.ErrUnavailable

	if err := e.RebuildIndex(context.Background()); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("RebuildIndex error = %v, want ErrUnavailable", err)
	}
	if e.Index() != nil {
		t.Error("failed rebuild must not install an index")
	}

	// The engine keeps serving through the exact path once the store is back.
	m.ListError = nil
	res, err := e.FindBestMatch(context.Background(), []float32{1, 0})
	if err != nil || res == nil {
		t.Errorf("degraded engine should still match: res=%+v err=%v", res, err)
	}
}

func TestEngineDimensionMismatch(t *testing.T) {
	m := mock.New()
	enroll(t, m, "Alice", []float32{1, 0, 0})

	e := newTestEngine(t, m, Options{})
	if err := e.RebuildIndex(context.Background()); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}

	var dimErr *DimensionError
	if _, err := e.FindBestMatch(context.Background(), []float32{1, 0}); !errors.As(err, &dimErr) {
		t.Errorf("FindBestMatch error = %v, want DimensionError", err)
	}
	if _, err := e.SearchCandidates(context.Background(), []float32{1, 0}, 2); !errors.As(err, &dimErr) {
		t.Errorf("SearchCandidates error = %v, want DimensionError", err)
	}
}

func TestVerifyIgnoresIndex(t *testing.T) {
	m := mock.New()
	alice := enroll(t, m, "Alice", []float32{1, 0, 0})

	e := newTestEngine(t, m, Options{})
	if err := e.RebuildIndex(context.Background()); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}

	// A face enrolled after the build is invisible to the index; Verify
	// must still see it because it always reads the store.
	if err := m.AddFace(context.Background(), alice, []float32{0, 0, 1}); err != nil {
		t.Fatalf("AddFace: %v", err)
	}

	score, err := e.Verify(context.Background(), alice, []float32{0, 0, 1})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if math.Abs(score-1.0) > 1e-6 {
		t.Errorf("Verify = %f, want ~1.0 from the post-build face", score)
	}
}
