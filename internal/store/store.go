// Package store defines the identity store contract consumed by the matching
// engine, plus the shared record types. Concrete backends live in the
// postgres and badgerstore subpackages; mock provides an in-memory
// implementation for tests.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable marks a backend that could not be reached. Backends wrap
	// connection and query transport failures with it so callers can
	// distinguish "service degraded" from "no match found".
	ErrUnavailable = errors.New("identity store unavailable")

	// ErrNotFound is returned by write operations targeting an identity that
	// does not exist. Read paths report absence as a nil identity instead.
	ErrNotFound = errors.New("identity not found")
)

// Face is a single enrolled embedding for an identity.
type Face struct {
	Embedding []float32
	AddedAt   time.Time
}

// Identity is an enrolled subject with one or more face embeddings.
// Faces accumulate over time through progressive enrollment; they are
// never removed.
type Identity struct {
	ID        string
	Name      string
	Email     string
	Faces     []Face
	CreatedAt time.Time
}

// LabeledEmbedding is one (identity, face) pair from a full store scan.
// An identity with three faces yields three entries.
type LabeledEmbedding struct {
	IdentityID string
	Name       string
	Embedding  []float32
}

// ActionRecord is one entry in the recognition audit trail.
type ActionRecord struct {
	ID         string            `json:"id"`
	IdentityID string            `json:"identity_id,omitempty"`
	Action     string            `json:"action"`
	Confidence *float64          `json:"confidence,omitempty"` // nil for actions without a score (e.g. enroll)
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Reader provides the read operations the matching engine requires.
type Reader interface {
	// ListAllEmbeddings enumerates every face of every identity in a stable
	// backend-defined order. Used to build the ANN snapshot and to drive
	// the exact scanner.
	ListAllEmbeddings(ctx context.Context) ([]LabeledEmbedding, error)

	// GetIdentity returns the identity with all of its faces, or (nil, nil)
	// when no such identity exists.
	GetIdentity(ctx context.Context, id string) (*Identity, error)
}

// Writer extends Reader with enrollment operations.
type Writer interface {
	Reader

	// CreateIdentity enrolls a new identity with its first face embedding
	// and returns the generated identity ID.
	CreateIdentity(ctx context.Context, name, email string, embedding []float32) (string, error)

	// AddFace appends an embedding to an existing identity.
	// Returns ErrNotFound if the identity does not exist.
	AddFace(ctx context.Context, id string, embedding []float32) error
}

// ActionLog records and reads the recognition audit trail.
type ActionLog interface {
	// LogAction appends a record. ID and Timestamp are filled in by the
	// backend when zero.
	LogAction(ctx context.Context, rec ActionRecord) error

	// RecentActions returns up to limit records, newest first.
	RecentActions(ctx context.Context, limit int) ([]ActionRecord, error)
}
