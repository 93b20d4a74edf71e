//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/trueface/internal/store"
)

const testDim = 4

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := NewPool(PoolConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.Bootstrap(ctx, testDim); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to bootstrap schema: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func TestIdentityStore(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	s := NewStore(pool)

	var aliceID string

	t.Run("CreateAndGet", func(t *testing.T) {
		id, err := s.CreateIdentity(ctx, "Alice", "alice@example.com", []float32{1, 0, 0, 0})
		if err != nil {
			t.Fatalf("Failed to create identity: %v", err)
		}
		aliceID = id

		ident, err := s.GetIdentity(ctx, id)
		if err != nil {
			t.Fatalf("Failed to get identity: %v", err)
		}
		if ident == nil {
			t.Fatal("Expected identity, got nil")
		}
		if ident.Name != "Alice" {
			t.Errorf("Expected name 'Alice', got '%s'", ident.Name)
		}
		if len(ident.Faces) != 1 {
			t.Fatalf("Expected 1 face, got %d", len(ident.Faces))
		}
		if len(ident.Faces[0].Embedding) != testDim {
			t.Errorf("Expected embedding of dim %d, got %d", testDim, len(ident.Faces[0].Embedding))
		}
	})

	t.Run("GetAbsent", func(t *testing.T) {
		ident, err := s.GetIdentity(ctx, "00000000-0000-0000-0000-000000000000")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if ident != nil {
			t.Errorf("Expected nil for absent identity, got %+v", ident)
		}
	})

	t.Run("AddFace", func(t *testing.T) {
		if err := s.AddFace(ctx, aliceID, []float32{0.9, 0.1, 0, 0}); err != nil {
			t.Fatalf("Failed to add face: %v", err)
		}

		ident, err := s.GetIdentity(ctx, aliceID)
		if err != nil {
			t.Fatalf("Failed to get identity: %v", err)
		}
		if len(ident.Faces) != 2 {
			t.Errorf("Expected 2 faces, got %d", len(ident.Faces))
		}
	})

	t.Run("AddFaceUnknown", func(t *testing.T) {
		err := s.AddFace(ctx, "00000000-0000-0000-0000-000000000000", []float32{1, 0, 0, 0})
		if err != store.ErrNotFound {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListAllEmbeddings", func(t *testing.T) {
		if _, err := s.CreateIdentity(ctx, "Bob", "", []float32{0, 1, 0, 0}); err != nil {
			t.Fatalf("Failed to create identity: %v", err)
		}

		entries, err := s.ListAllEmbeddings(ctx)
		if err != nil {
			t.Fatalf("Failed to list embeddings: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("Expected 3 embeddings, got %d", len(entries))
		}

		perIdentity := map[string]int{}
		for _, e := range entries {
			perIdentity[e.IdentityID]++
		}
		if perIdentity[aliceID] != 2 {
			t.Errorf("Expected 2 embeddings for Alice, got %d", perIdentity[aliceID])
		}
	})
}

func TestActionLog(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	s := NewStore(pool)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	conf := 0.91
	records := []store.ActionRecord{
		{Action: "enrolled", IdentityID: "id-1", Timestamp: base},
		{Action: "matched", IdentityID: "id-1", Confidence: &conf,
			Metadata: map[string]string{"source": "gate-3"}, Timestamp: base.Add(time.Minute)},
		{Action: "verified", IdentityID: "id-1", Timestamp: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		if err := s.LogAction(ctx, rec); err != nil {
			t.Fatalf("Failed to log action: %v", err)
		}
	}

	recs, err := s.RecentActions(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to list actions: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Expected 2 actions, got %d", len(recs))
	}
	if recs[0].Action != "verified" || recs[1].Action != "matched" {
		t.Errorf("Expected newest-first order, got %q then %q", recs[0].Action, recs[1].Action)
	}
	if recs[1].Confidence == nil || *recs[1].Confidence != 0.91 {
		t.Errorf("Expected confidence 0.91, got %v", recs[1].Confidence)
	}
	if recs[1].Metadata["source"] != "gate-3" {
		t.Errorf("Expected metadata to round-trip, got %v", recs[1].Metadata)
	}

	recs, err = s.RecentActions(ctx, 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Expected no actions for limit 0, got %d", len(recs))
	}
}
