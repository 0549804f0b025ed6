package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/editgate/internal/util"
	"github.com/jmcleod/editgate/storage"
)

const (
	credentialsBucket = "credentials"
	credentialSaltLen = 16
)

// credentialRecord is the persisted form of the admin credential. Hash is
// a PHC-encoded argon2id string; the cleartext password is never stored.
type credentialRecord struct {
	Username  string    `json:"username"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// credentialState is an immutable snapshot swapped in whole on change.
type credentialState struct {
	username string
	params   util.Argon2idParams
	salt     []byte
	key      *memguard.Enclave
	version  uint64
}

func (st *credentialState) matches(candidate string) bool {
	buf, err := st.key.Open()
	if err != nil {
		return false
	}
	defer buf.Destroy()
	ok, err := util.CompareArgon2idKey(util.Normalize(candidate), st.salt, st.params, buf.Bytes())
	return err == nil && ok
}

// CredentialStore holds the single admin credential. Verification reads an
// atomically published snapshot, so a concurrent Change is observed either
// entirely or not at all.
type CredentialStore struct {
	repo      storage.Repository
	state     atomic.Pointer[credentialState]
	changeMu  sync.Mutex
	params    util.Argon2idParams
	minLength int
	initial   string
	now       func() time.Time
}

// CredentialOption configures a CredentialStore.
type CredentialOption func(*CredentialStore)

// WithKDFParams sets the argon2id parameters used for newly derived hashes.
// Hashes loaded from storage keep the parameters they were created with.
func WithKDFParams(params util.Argon2idParams) CredentialOption {
	return func(s *CredentialStore) {
		s.params = params
	}
}

// WithMinSecretLength overrides DefaultMinSecretLength.
func WithMinSecretLength(n int) CredentialOption {
	return func(s *CredentialStore) {
		if n > 0 {
			s.minLength = n
		}
	}
}

// WithInitialHash bootstraps a missing credential from a PHC-encoded
// argon2id hash (see HashSecret) instead of a cleartext password.
func WithInitialHash(encoded string) CredentialOption {
	return func(s *CredentialStore) {
		s.initial = encoded
	}
}

// OpenCredentialStore loads the credential for username from repo. When none
// is stored yet, one is created from the WithInitialHash option or, failing
// that, from initialSecret.
func OpenCredentialStore(repo storage.Repository, username, initialSecret string, opts ...CredentialOption) (*CredentialStore, error) {
	s := &CredentialStore{
		repo:      repo,
		params:    util.DefaultArgon2idParams(),
		minLength: DefaultMinSecretLength,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if username == "" {
		return nil, errors.New("credential username is required")
	}

	env, err := repo.Get(credentialsBucket, username)
	switch {
	case err == nil:
		st, err := stateFromEnvelope(env)
		if err != nil {
			return nil, fmt.Errorf("loading credential for %q: %w", username, err)
		}
		s.state.Store(st)
		return s, nil
	case !storage.IsNotFound(err):
		return nil, fmt.Errorf("reading credential for %q: %w", username, err)
	}

	hash := s.initial
	if hash == "" {
		if initialSecret == "" {
			return nil, errors.New("no stored credential and no initial password configured")
		}
		if hash, err = HashSecret(initialSecret, s.params); err != nil {
			return nil, err
		}
	}
	st, err := s.persist(username, hash, 0)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping credential for %q: %w", username, err)
	}
	s.state.Store(st)
	return s, nil
}

// HashSecret derives a PHC-encoded argon2id hash of secret with a fresh salt.
func HashSecret(secret string, params util.Argon2idParams) (string, error) {
	salt, err := util.RandomBytes(credentialSaltLen)
	if err != nil {
		return "", err
	}
	key, err := util.DeriveArgon2idKey(util.Normalize(secret), salt, params)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)
	return util.EncodeArgon2idHash(params, salt, key), nil
}

// setMinLength applies the gateway's password policy to later Change calls.
func (s *CredentialStore) setMinLength(n int) {
	s.changeMu.Lock()
	s.minLength = n
	s.changeMu.Unlock()
}

// Username returns the canonical admin username.
func (s *CredentialStore) Username() string {
	return s.state.Load().username
}

// Verify reports whether username and candidate match the stored credential.
// The key derivation runs even when the username is wrong so that timing
// does not reveal which half failed.
func (s *CredentialStore) Verify(username, candidate string) bool {
	st := s.state.Load()
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(st.username)) == 1
	secretOK := st.matches(candidate)
	return userOK && secretOK
}

// UsingDefaultSecret reports whether the credential still verifies against
// DefaultSecret.
func (s *CredentialStore) UsingDefaultSecret() bool {
	return s.state.Load().matches(DefaultSecret)
}

// Change replaces the stored password. It fails with ErrWrongCurrentSecret
// when current does not verify and with a ValidationError wrapping
// ErrSecretTooShort when next is shorter than the configured minimum.
// Issued sessions are not affected.
func (s *CredentialStore) Change(current, next string) error {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	st := s.state.Load()
	if !st.matches(current) {
		return ErrWrongCurrentSecret
	}
	if util.RuneLen(next) < s.minLength {
		return secretTooShort(s.minLength)
	}

	hash, err := HashSecret(next, s.params)
	if err != nil {
		return err
	}
	updated, err := s.persist(st.username, hash, st.version)
	if err != nil {
		return fmt.Errorf("persisting new credential: %w", err)
	}
	s.state.Store(updated)
	return nil
}

// persist writes the record at version prev+1 with a CAS on prev and
// returns the matching in-memory state.
func (s *CredentialStore) persist(username, hash string, prev uint64) (*credentialState, error) {
	rec := credentialRecord{
		Username:  username,
		Hash:      hash,
		UpdatedAt: s.now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	env := storage.PlainRecord(data, prev+1)
	if err := s.repo.PutCAS(credentialsBucket, username, prev, env); err != nil {
		return nil, err
	}
	return stateFromRecord(rec, env.Version)
}

func stateFromEnvelope(env *storage.Envelope) (*credentialState, error) {
	data, err := storage.OpenPlain(env)
	if err != nil {
		return nil, err
	}
	var rec credentialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding credential record: %w", err)
	}
	return stateFromRecord(rec, env.Version)
}

func stateFromRecord(rec credentialRecord, version uint64) (*credentialState, error) {
	params, salt, key, err := util.ParseArgon2idHash(rec.Hash)
	if err != nil {
		return nil, err
	}
	return &credentialState{
		username: rec.Username,
		params:   params,
		salt:     salt,
		key:      memguard.NewEnclave(key),
		version:  version,
	}, nil
}
