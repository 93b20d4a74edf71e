// Package mock provides an in-memory store implementation with error
// injection for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/trueface/internal/store"
)

// Store is an in-memory implementation of store.Writer and store.ActionLog.
// Enumeration order is enrollment order, which keeps tie-breaking in the
// exact scanner deterministic.
type Store struct {
	mu         sync.RWMutex
	order      []string
	identities map[string]*store.Identity
	actions    []store.ActionRecord
	nextID     int

	// Error injection: when set, the corresponding method returns the error.
	ListError      error
	GetError       error
	CreateError    error
	AddFaceError   error
	LogActionError error
}

// New creates an empty mock store.
func New() *Store {
	return &Store{identities: make(map[string]*store.Identity)}
}

// ListAllEmbeddings enumerates every face of every identity in enrollment order.
func (m *Store) ListAllEmbeddings(ctx context.Context) ([]store.LabeledEmbedding, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []store.LabeledEmbedding
	for _, id := range m.order {
		ident := m.identities[id]
		for i := range ident.Faces {
			entries = append(entries, store.LabeledEmbedding{
				IdentityID: ident.ID,
				Name:       ident.Name,
				Embedding:  ident.Faces[i].Embedding,
			})
		}
	}
	return entries, nil
}

// GetIdentity returns a copy of the identity, or (nil, nil) when absent.
func (m *Store) GetIdentity(ctx context.Context, id string) (*store.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ident, ok := m.identities[id]
	if !ok {
		return nil, nil
	}
	cp := *ident
	cp.Faces = append([]store.Face(nil), ident.Faces...)
	return &cp, nil
}

// CreateIdentity enrolls a new identity with its first face.
func (m *Store) CreateIdentity(ctx context.Context, name, email string, embedding []float32) (string, error) {
	if m.CreateError != nil {
		return "", m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := fmt.Sprintf("id-%d", m.nextID)
	m.identities[id] = &store.Identity{
		ID:        id,
		Name:      name,
		Email:     email,
		Faces:     []store.Face{{Embedding: embedding, AddedAt: time.Now()}},
		CreatedAt: time.Now(),
	}
	m.order = append(m.order, id)
	return id, nil
}

// AddFace appends an embedding to an existing identity.
func (m *Store) AddFace(ctx context.Context, id string, embedding []float32) error {
	if m.AddFaceError != nil {
		return m.AddFaceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	ident.Faces = append(ident.Faces, store.Face{Embedding: embedding, AddedAt: time.Now()})
	return nil
}

// LogAction appends an audit record.
func (m *Store) LogAction(ctx context.Context, rec store.ActionRecord) error {
	if m.LogActionError != nil {
		return m.LogActionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("action-%d", len(m.actions)+1)
	}
	m.actions = append(m.actions, rec)
	return nil
}

// RecentActions returns up to limit records, newest first.
func (m *Store) RecentActions(ctx context.Context, limit int) ([]store.ActionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []store.ActionRecord
	for i := len(m.actions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.actions[i])
	}
	return out, nil
}
