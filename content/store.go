// Package content stores the site document edited through the admin
// surface, together with a bounded history of earlier versions.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmcleod/editgate/storage"
)

const (
	currentBucket = "content"
	historyBucket = "content_history"
	currentID     = "current"

	// DefaultMaxBackups is the number of superseded versions kept.
	DefaultMaxBackups = 10
)

var (
	// ErrNotFound is returned by Current before anything has been saved.
	ErrNotFound = errors.New("no content saved yet")
	// ErrInvalidDocument is returned by Save for anything but a JSON object.
	ErrInvalidDocument = errors.New("content must be a JSON object")
)

// Document is one saved version of the site content.
type Document struct {
	Version uint64          `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// Store keeps the current document and its backups in a repository.
type Store struct {
	repo       storage.Repository
	mu         sync.Mutex
	maxBackups int
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxBackups overrides DefaultMaxBackups. Zero disables backups.
func WithMaxBackups(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.maxBackups = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns a content store over repo.
func NewStore(repo storage.Repository, opts ...Option) *Store {
	s := &Store{
		repo:       repo,
		maxBackups: DefaultMaxBackups,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save replaces the current document with data and returns its version.
// The previous document, if any, is kept as a backup first.
func (s *Store) Save(ctx context.Context, data json.RawMessage) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	compacted, err := compactObject(data)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, prevVersion, err := s.current()
	switch {
	case err == nil:
		if s.maxBackups > 0 {
			if err := s.put(historyBucket, historyID(prev.Version), prev, prevVersion); err != nil {
				return 0, fmt.Errorf("backing up version %d: %w", prev.Version, err)
			}
		}
	case !errors.Is(err, ErrNotFound):
		return 0, err
	}

	doc := Document{
		Version: prevVersion + 1,
		SavedAt: s.now().UTC(),
		Data:    compacted,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, err
	}
	if err := s.repo.PutCAS(currentBucket, currentID, prevVersion, storage.PlainRecord(raw, doc.Version)); err != nil {
		return 0, fmt.Errorf("saving content: %w", err)
	}
	if err := s.prune(); err != nil {
		return 0, err
	}
	return doc.Version, nil
}

// Current returns the latest saved document.
func (s *Store) Current(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	doc, _, err := s.current()
	return doc, err
}

// History returns the retained backups, oldest first. The current document
// is not included.
func (s *Store) History(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := s.repo.List(historyBucket)
	if err != nil {
		return nil, fmt.Errorf("listing content history: %w", err)
	}
	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, _, err := s.get(historyBucket, id)
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) current() (Document, uint64, error) {
	doc, version, err := s.get(currentBucket, currentID)
	if storage.IsNotFound(err) {
		return Document{}, 0, ErrNotFound
	}
	return doc, version, err
}

func (s *Store) get(bucket, id string) (Document, uint64, error) {
	env, err := s.repo.Get(bucket, id)
	if err != nil {
		return Document{}, 0, err
	}
	raw, err := storage.OpenPlain(env)
	if err != nil {
		return Document{}, 0, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, 0, fmt.Errorf("decoding content %s/%s: %w", bucket, id, err)
	}
	return doc, env.Version, nil
}

func (s *Store) put(bucket, id string, doc Document, version uint64) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.repo.Put(bucket, id, storage.PlainRecord(raw, version))
}

// prune drops the oldest backups beyond maxBackups.
func (s *Store) prune() error {
	ids, err := s.repo.List(historyBucket)
	if err != nil {
		return fmt.Errorf("listing content history: %w", err)
	}
	for len(ids) > s.maxBackups {
		if err := s.repo.Delete(historyBucket, ids[0]); err != nil && !storage.IsNotFound(err) {
			return fmt.Errorf("pruning content history: %w", err)
		}
		ids = ids[1:]
	}
	return nil
}

func historyID(version uint64) string {
	return fmt.Sprintf("%020d", version)
}

// compactObject checks that data is a single JSON object and returns it
// without insignificant whitespace.
func compactObject(data []byte) (json.RawMessage, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil || probe == nil {
		return nil, ErrInvalidDocument
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, ErrInvalidDocument
	}
	return buf.Bytes(), nil
}
