package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/kozaktomas/trueface/internal/config"
	"github.com/kozaktomas/trueface/internal/match"
	"github.com/kozaktomas/trueface/internal/store"
	"github.com/kozaktomas/trueface/internal/store/badgerstore"
	"github.com/kozaktomas/trueface/internal/store/postgres"
)

// backend is the full store surface the CLI needs.
type backend interface {
	store.Writer
	store.ActionLog
}

// openStore constructs the configured storage backend. The returned cleanup
// must be called before exit.
func openStore(cfg *config.Config) (backend, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := postgres.NewPool(postgres.PoolConfig{
			URL:          cfg.Database.URL,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := pool.Bootstrap(context.Background(), cfg.Profile().Dim); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("preparing postgres schema: %w", err)
		}
		return postgres.NewStore(pool), func() { _ = pool.Close() }, nil

	case "badger":
		s, err := badgerstore.Open(badgerstore.Options{Dir: cfg.Badger.Dir})
		if err != nil {
			return nil, nil, fmt.Errorf("opening badger store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q (want postgres or badger)", cfg.Storage.Backend)
	}
}

// newEngine builds a matching engine over the store, restoring a persisted
// index snapshot when one is configured and present. A missing or corrupt
// snapshot is not fatal: the engine starts degraded and `index rebuild`
// recreates it.
func newEngine(cfg *config.Config, s store.Reader) *match.Engine {
	profile := cfg.Profile()
	engine := match.NewEngine(s, match.Options{
		Params: match.IndexParams{
			MaxNeighbors: profile.MaxNeighbors,
			EfSearch:     profile.EfSearch,
		},
		RescoreTopK: cfg.Match.RescoreTopK,
		Logger:      slog.Default(),
	})

	if path := cfg.Match.IndexPath; path != "" {
		if _, err := os.Stat(path); err == nil {
			idx, err := match.LoadIndex(path)
			if err != nil {
				slog.Warn("could not restore index snapshot, run 'index rebuild'", "path", path, "error", err)
			} else {
				engine.SetIndex(idx)
			}
		}
	}
	return engine
}

// readEmbedding loads a face embedding from a JSON file containing a flat
// array of numbers.
func readEmbedding(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading embedding file: %w", err)
	}
	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, fmt.Errorf("parsing embedding file %s: %w", path, err)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding file %s is empty", path)
	}
	return embedding, nil
}

// logAction records an audit entry, logging instead of failing the command
// when the write does not succeed.
func logAction(ctx context.Context, b backend, rec store.ActionRecord) {
	if err := b.LogAction(ctx, rec); err != nil {
		slog.Warn("could not record action", "action", rec.Action, "error", err)
	}
}
