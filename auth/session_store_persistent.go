package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/editgate/internal/util"
	"github.com/jmcleod/editgate/storage"
)

const (
	sessionBucket         = "sessions"
	sessionKeyBucket      = "session_keys"
	sessionKeyID          = "current"
	sessionAADPrefix      = "session:"
	sessionKeyWrappingAAD = "editgate:session_master_key:v1"
)

// PersistentSessionStore stores sessions in a storage.Repository, encrypted
// at rest using AES-256-GCM. Sessions survive server restarts as long as
// the same wrapping key is supplied.
//
// Records are keyed by the SHA-256 of the token, so reading the database
// does not yield usable session cookies. The session encryption key is
// sealed with an externally provided wrapping key before it is stored.
type PersistentSessionStore struct {
	repo   storage.Repository
	key    *memguard.Enclave
	logger *slog.Logger
	closed atomic.Bool
}

var _ SessionStore = (*PersistentSessionStore)(nil)

var errSessionStoreClosed = errors.New("session store closed")

// NewPersistentSessionStore creates a session store backed by repo. The
// 32-byte wrappingKey seals the session encryption key at rest; it must be
// provided from outside the repository (flag, environment, or file).
func NewPersistentSessionStore(repo storage.Repository, wrappingKey []byte, logger *slog.Logger) (*PersistentSessionStore, error) {
	if len(wrappingKey) != util.AESKeySize {
		return nil, fmt.Errorf("wrapping key must be exactly %d bytes, got %d", util.AESKeySize, len(wrappingKey))
	}
	if logger == nil {
		logger = slog.Default()
	}
	key, err := loadOrCreateSessionKey(repo, wrappingKey, logger)
	if err != nil {
		return nil, err
	}
	return &PersistentSessionStore{
		repo:   repo,
		key:    memguard.NewEnclave(key),
		logger: logger.With("component", "session_store"),
	}, nil
}

// Close marks the store closed; later reads miss and writes fail.
func (s *PersistentSessionStore) Close() {
	s.closed.Store(true)
}

func (s *PersistentSessionStore) openKey() (*memguard.LockedBuffer, error) {
	if s.closed.Load() {
		return nil, errSessionStoreClosed
	}
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening session key: %w", err)
	}
	return buf, nil
}

func sessionRecordID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *PersistentSessionStore) Get(token string) (Session, bool) {
	id := sessionRecordID(token)
	session, _, err := s.open(id)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Warn("unreadable session record", "error", err)
		}
		return Session{}, false
	}
	return session, true
}

// open returns the session stored under id with its record version.
func (s *PersistentSessionStore) open(id string) (Session, uint64, error) {
	env, err := s.repo.Get(sessionBucket, id)
	if err != nil {
		return Session{}, 0, err
	}
	buf, err := s.openKey()
	if err != nil {
		return Session{}, 0, err
	}
	defer buf.Destroy()

	data, err := storage.OpenRecord(buf.Bytes(), env, []byte(sessionAADPrefix+id))
	if err != nil {
		return Session{}, 0, err
	}
	defer util.WipeBytes(data)

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, 0, fmt.Errorf("decoding session: %w", err)
	}
	return session, env.Version, nil
}

func (s *PersistentSessionStore) Put(token string, session Session) error {
	id := sessionRecordID(token)
	env, err := s.seal(id, session, 1)
	if err != nil {
		return err
	}
	return s.repo.Put(sessionBucket, id, env)
}

func (s *PersistentSessionStore) seal(id string, session Session, version uint64) (*storage.Envelope, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)

	buf, err := s.openKey()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	env, err := storage.SealRecord(buf.Bytes(), data, []byte(sessionAADPrefix+id), version)
	if err != nil {
		return nil, fmt.Errorf("sealing session: %w", err)
	}
	return env, nil
}

// Renew writes the renewed record with a compare-and-swap on the version it
// read, so a Delete that lands in between wins.
func (s *PersistentSessionStore) Renew(token string, now time.Time, timeout time.Duration) (Session, bool) {
	id := sessionRecordID(token)
	session, version, err := s.open(id)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Warn("unreadable session record", "error", err)
		}
		return Session{}, false
	}
	if now.Sub(session.LastRenewed) > timeout {
		s.remove(id)
		return Session{}, false
	}

	session.LastRenewed = now
	env, err := s.seal(id, session, version+1)
	if err == nil {
		err = s.repo.PutCAS(sessionBucket, id, version, env)
	}
	switch {
	case err == nil:
		return session, true
	case errors.Is(err, storage.ErrCASFailed):
		// Deleted, or renewed by another request; only the latter is live.
		_, err := s.repo.Get(sessionBucket, id)
		return session, err == nil
	default:
		// Still valid for this request; only the renewal was lost.
		s.logger.Warn("renewing session failed", "error", err)
		return session, true
	}
}

func (s *PersistentSessionStore) Delete(token string) {
	s.remove(sessionRecordID(token))
}

func (s *PersistentSessionStore) remove(id string) {
	if err := s.repo.Delete(sessionBucket, id); err != nil && !storage.IsNotFound(err) {
		s.logger.Warn("deleting session failed", "error", err)
	}
}

func (s *PersistentSessionStore) DeleteIdle(cutoff time.Time) int {
	ids, err := s.repo.List(sessionBucket)
	if err != nil {
		s.logger.Warn("listing sessions failed", "error", err)
		return 0
	}
	removed := 0
	for _, id := range ids {
		session, _, err := s.open(id)
		if err != nil {
			// Corrupt or sealed under an old key.
			s.remove(id)
			removed++
			continue
		}
		if session.LastRenewed.Before(cutoff) {
			s.remove(id)
			removed++
		}
	}
	return removed
}

func (s *PersistentSessionStore) Len() int {
	ids, err := s.repo.List(sessionBucket)
	if err != nil {
		return 0
	}
	return len(ids)
}

// loadOrCreateSessionKey loads the session encryption key from storage,
// unsealing it with the wrapping key. If no key exists, or the stored key
// cannot be unsealed because the wrapping key changed, a new random key is
// generated, sealed and persisted. In the latter case all existing sessions
// become unreadable and are dropped on the next sweep.
func loadOrCreateSessionKey(repo storage.Repository, wrappingKey []byte, logger *slog.Logger) ([]byte, error) {
	aad := []byte(sessionKeyWrappingAAD)

	env, err := repo.Get(sessionKeyBucket, sessionKeyID)
	switch {
	case err == nil:
		key, openErr := storage.OpenRecord(wrappingKey, env, aad)
		if openErr == nil && len(key) == util.AESKeySize {
			return key, nil
		}
		logger.Warn("session key could not be unsealed; issuing a new one", "error", openErr)
	case !storage.IsNotFound(err):
		return nil, fmt.Errorf("reading session key: %w", err)
	}

	key, err := util.NewAESKey()
	if err != nil {
		return nil, err
	}
	sealed, err := storage.SealRecord(wrappingKey, key, aad)
	if err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("sealing new session key: %w", err)
	}
	if err := repo.Put(sessionKeyBucket, sessionKeyID, sealed); err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("persisting session key: %w", err)
	}
	return key, nil
}
