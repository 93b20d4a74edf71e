// Package badgerstore implements the identity store on embedded BadgerDB.
// Identities are stored as msgpack documents, one per key, which keeps the
// document model of the original deployment without a database server.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kozaktomas/trueface/internal/store"
)

// Key layout:
//
//	identity:<uuid>              -> identityDoc (msgpack)
//	action:<reverse-ts>:<uuid>   -> actionDoc   (msgpack)
//
// The reverse timestamp makes a forward prefix scan over "action:" yield
// newest-first order without a sort.
const (
	identityPrefix = "identity:"
	actionPrefix   = "action:"
)

// Store is a BadgerDB-backed store.Writer and store.ActionLog.
type Store struct {
	db *badger.DB
}

// Options configures Open.
type Options struct {
	// Dir is the directory for Badger data files. Required unless InMemory.
	Dir string

	// InMemory runs Badger without disk persistence, for tests.
	InMemory bool
}

// Open opens or creates the store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badgerstore: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(nil)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening badger at %s: %v", store.ErrUnavailable, opts.Dir, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type faceDoc struct {
	Embedding []float32 `msgpack:"embedding"`
	AddedAt   time.Time `msgpack:"added_at"`
}

type identityDoc struct {
	ID        string    `msgpack:"id"`
	Name      string    `msgpack:"name"`
	Email     string    `msgpack:"email"`
	Faces     []faceDoc `msgpack:"faces"`
	CreatedAt time.Time `msgpack:"created_at"`
}

type actionDoc struct {
	ID         string            `msgpack:"id"`
	IdentityID string            `msgpack:"identity_id"`
	Action     string            `msgpack:"action"`
	Confidence *float64          `msgpack:"confidence"`
	Metadata   map[string]string `msgpack:"metadata"`
	Timestamp  time.Time         `msgpack:"timestamp"`
}

func identityKey(id string) []byte {
	return []byte(identityPrefix + id)
}

// actionKey embeds a reverse timestamp so lexicographic key order is
// newest-first.
func actionKey(ts time.Time, id string) []byte {
	rev := uint64(math.MaxInt64 - ts.UnixNano())
	return fmt.Appendf(nil, "%s%020d:%s", actionPrefix, rev, id)
}

func toIdentity(doc *identityDoc) *store.Identity {
	ident := &store.Identity{
		ID:        doc.ID,
		Name:      doc.Name,
		Email:     doc.Email,
		CreatedAt: doc.CreatedAt,
		Faces:     make([]store.Face, len(doc.Faces)),
	}
	for i, f := range doc.Faces {
		ident.Faces[i] = store.Face{Embedding: f.Embedding, AddedAt: f.AddedAt}
	}
	return ident
}

// ListAllEmbeddings enumerates every face of every identity, ordered by
// identity key. The order is stable across calls, which the exact scanner
// relies on for tie-breaking.
func (s *Store) ListAllEmbeddings(ctx context.Context) ([]store.LabeledEmbedding, error) {
	var entries []store.LabeledEmbedding
	prefix := []byte(identityPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var doc identityDoc
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &doc)
			})
			if err != nil {
				return fmt.Errorf("decoding identity at %s: %w", it.Item().Key(), err)
			}
			for i := range doc.Faces {
				if len(doc.Faces[i].Embedding) == 0 {
					continue
				}
				entries = append(entries, store.LabeledEmbedding{
					IdentityID: doc.ID,
					Name:       doc.Name,
					Embedding:  doc.Faces[i].Embedding,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetIdentity returns the identity document, or (nil, nil) when absent.
func (s *Store) GetIdentity(ctx context.Context, id string) (*store.Identity, error) {
	var doc identityDoc
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(identityKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &doc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading identity %s: %w", id, err)
	}
	return toIdentity(&doc), nil
}

// CreateIdentity enrolls a new identity with its first face embedding.
func (s *Store) CreateIdentity(ctx context.Context, name, email string, embedding []float32) (string, error) {
	now := time.Now().UTC()
	doc := identityDoc{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Faces:     []faceDoc{{Embedding: embedding, AddedAt: now}},
		CreatedAt: now,
	}

	data, err := msgpack.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("encoding identity: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(identityKey(doc.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("writing identity: %w", err)
	}
	return doc.ID, nil
}

// AddFace appends an embedding to an existing identity document.
func (s *Store) AddFace(ctx context.Context, id string, embedding []float32) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(identityKey(id))
		if err != nil {
			return err
		}
		var doc identityDoc
		if err := item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &doc)
		}); err != nil {
			return fmt.Errorf("decoding identity %s: %w", id, err)
		}

		doc.Faces = append(doc.Faces, faceDoc{Embedding: embedding, AddedAt: time.Now().UTC()})
		data, err := msgpack.Marshal(&doc)
		if err != nil {
			return fmt.Errorf("encoding identity %s: %w", id, err)
		}
		return txn.Set(identityKey(id), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	return err
}

// LogAction appends a recognition audit record.
func (s *Store) LogAction(ctx context.Context, rec store.ActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	doc := actionDoc{
		ID:         rec.ID,
		IdentityID: rec.IdentityID,
		Action:     rec.Action,
		Confidence: rec.Confidence,
		Metadata:   rec.Metadata,
		Timestamp:  rec.Timestamp,
	}
	data, err := msgpack.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encoding action: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(actionKey(rec.Timestamp, rec.ID), data)
	})
	if err != nil {
		return fmt.Errorf("writing action: %w", err)
	}
	return nil
}

// RecentActions returns up to limit audit records, newest first.
func (s *Store) RecentActions(ctx context.Context, limit int) ([]store.ActionRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	var out []store.ActionRecord
	prefix := []byte(actionPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var doc actionDoc
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &doc)
			})
			if err != nil {
				return fmt.Errorf("decoding action at %s: %w", it.Item().Key(), err)
			}
			out = append(out, store.ActionRecord{
				ID:         doc.ID,
				IdentityID: doc.IdentityID,
				Action:     doc.Action,
				Confidence: doc.Confidence,
				Metadata:   doc.Metadata,
				Timestamp:  doc.Timestamp,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
