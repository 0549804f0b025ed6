// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jmcleod/editgate/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Envelope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Envelope)}
}

func cloneEnvelope(env *storage.Envelope) *storage.Envelope {
	if env == nil {
		return nil
	}
	return &storage.Envelope{
		Ver:        env.Ver,
		Scheme:     env.Scheme,
		Nonce:      append([]byte(nil), env.Nonce...),
		Ciphertext: append([]byte(nil), env.Ciphertext...),
		Version:    env.Version,
	}
}

func (r *Repository) Put(bucket, recordID string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(bucket, recordID, envelope)
	return nil
}

func (r *Repository) putLocked(bucket, recordID string, envelope *storage.Envelope) {
	if _, ok := r.data[bucket]; !ok {
		r.data[bucket] = make(map[string]*storage.Envelope)
	}
	r.data[bucket][recordID] = cloneEnvelope(envelope)
}

func (r *Repository) Get(bucket, recordID string) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(bucket, recordID)
}

func (r *Repository) getLocked(bucket, recordID string) (*storage.Envelope, error) {
	records, ok := r.data[bucket]
	if !ok {
		return nil, fmt.Errorf("%s: %w", bucket, storage.ErrBucketNotFound)
	}
	env, ok := records[recordID]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, recordID, storage.ErrNotFound)
	}
	return cloneEnvelope(env), nil
}

func (r *Repository) List(bucket string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.data[bucket]))
	for id := range r.data[bucket] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) Delete(bucket, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, ok := r.data[bucket]
	if !ok {
		return fmt.Errorf("%s: %w", bucket, storage.ErrBucketNotFound)
	}
	if _, ok := records[recordID]; !ok {
		return fmt.Errorf("%s/%s: %w", bucket, recordID, storage.ErrNotFound)
	}
	delete(records, recordID)
	return nil
}

func (r *Repository) PutCAS(bucket, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.getLocked(bucket, recordID)
	if err != nil {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		r.putLocked(bucket, recordID, envelope)
		return nil
	}
	if expectedVersion == 0 || existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	r.putLocked(bucket, recordID, envelope)
	return nil
}
