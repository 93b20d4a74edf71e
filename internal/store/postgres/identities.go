package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/trueface/internal/store"
)

// Store provides PostgreSQL-backed identity and action storage.
type Store struct {
	pool *Pool
}

// NewStore creates a store on top of an existing pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// ListAllEmbeddings retrieves every face embedding with its identity label.
// Rows are ordered by identity creation then face insertion, so repeated
// scans see the same order.
func (s *Store) ListAllEmbeddings(ctx context.Context) ([]store.LabeledEmbedding, error) {
	query := `
		SELECT f.identity_id, i.name, f.embedding
		FROM faces f
		JOIN identities i ON i.id = f.identity_id
		ORDER BY i.created_at, i.id, f.added_at, f.id
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var entries []store.LabeledEmbedding
	for rows.Next() {
		var (
			entry store.LabeledEmbedding
			vec   pgvector.Vector
		)
		if err := rows.Scan(&entry.IdentityID, &entry.Name, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		entry.Embedding = vec.Slice()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate embeddings: %v", store.ErrUnavailable, err)
	}
	return entries, nil
}

// GetIdentity retrieves one identity with all its faces, or (nil, nil)
// when no identity has the given id.
func (s *Store) GetIdentity(ctx context.Context, id string) (*store.Identity, error) {
	ident := &store.Identity{ID: id}
	err := s.pool.QueryRow(
		ctx, "SELECT name, email, created_at FROM identities WHERE id = $1", id,
	).Scan(&ident.Name, &ident.Email, &ident.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query identity: %v", store.ErrUnavailable, err)
	}

	rows, err := s.pool.Query(
		ctx, "SELECT embedding, added_at FROM faces WHERE identity_id = $1 ORDER BY added_at, id", id,
	)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			vec  pgvector.Vector
			face store.Face
		)
		if err := rows.Scan(&vec, &face.AddedAt); err != nil {
			return nil, fmt.Errorf("scan face row: %w", err)
		}
		face.Embedding = vec.Slice()
		ident.Faces = append(ident.Faces, face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate faces: %v", store.ErrUnavailable, err)
	}
	return ident, nil
}

// CreateIdentity enrolls a new identity with its first face embedding.
func (s *Store) CreateIdentity(ctx context.Context, name, email string, embedding []float32) (string, error) {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin transaction: %v", store.ErrUnavailable, err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	now := time.Now().UTC()

	_, err = tx.ExecContext(
		ctx, "INSERT INTO identities (id, name, email, created_at) VALUES ($1, $2, $3, $4)",
		id, name, email, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert identity: %w", err)
	}

	_, err = tx.ExecContext(
		ctx, "INSERT INTO faces (id, identity_id, embedding, added_at) VALUES ($1, $2, $3, $4)",
		uuid.NewString(), id, pgvector.NewVector(embedding), now,
	)
	if err != nil {
		return "", fmt.Errorf("insert face: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit enrollment: %v", store.ErrUnavailable, err)
	}
	return id, nil
}

// AddFace appends an embedding to an existing identity.
func (s *Store) AddFace(ctx context.Context, id string, embedding []float32) error {
	var exists bool
	err := s.pool.QueryRow(
		ctx, "SELECT EXISTS(SELECT 1 FROM identities WHERE id = $1)", id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: check identity exists: %v", store.ErrUnavailable, err)
	}
	if !exists {
		return store.ErrNotFound
	}

	_, err = s.pool.Exec(
		ctx, "INSERT INTO faces (id, identity_id, embedding, added_at) VALUES ($1, $2, $3, $4)",
		uuid.NewString(), id, pgvector.NewVector(embedding), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert face: %w", err)
	}
	return nil
}

// LogAction appends a recognition audit record.
func (s *Store) LogAction(ctx context.Context, rec store.ActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	var metadata any
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encoding action metadata: %w", err)
		}
		metadata = data
	}

	_, err := s.pool.Exec(
		ctx, `INSERT INTO actions (id, identity_id, action, confidence, metadata, created_at)
		      VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.IdentityID, rec.Action, rec.Confidence, metadata, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// RecentActions returns up to limit audit records, newest first.
func (s *Store) RecentActions(ctx context.Context, limit int) ([]store.ActionRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(
		ctx, `SELECT id, identity_id, action, confidence, metadata, created_at
		      FROM actions ORDER BY created_at DESC, id LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []store.ActionRecord
	for rows.Next() {
		var (
			rec      store.ActionRecord
			metadata []byte
		)
		if err := rows.Scan(&rec.ID, &rec.IdentityID, &rec.Action, &rec.Confidence, &metadata, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan action row: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decoding action metadata: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate actions: %v", store.ErrUnavailable, err)
	}
	return out, nil
}
