package auth

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/editgate/internal/util"
	"github.com/jmcleod/editgate/storage"
	"github.com/jmcleod/editgate/storage/memory"
)

// deleteAfterReadRepo removes a session record right after handing it out,
// the way a logout landing between a renewal's read and write would.
type deleteAfterReadRepo struct {
	*memory.Repository
	armed bool
}

func (r *deleteAfterReadRepo) Get(bucket, recordID string) (*storage.Envelope, error) {
	env, err := r.Repository.Get(bucket, recordID)
	if err == nil && r.armed && bucket == sessionBucket {
		r.armed = false
		_ = r.Repository.Delete(bucket, recordID)
	}
	return env, err
}

type failingDeleteRepo struct {
	*memory.Repository
}

func (failingDeleteRepo) Delete(string, string) error {
	return errors.New("disk full")
}

// sessionStoreContract runs the behaviour every SessionStore must share.
func sessionStoreContract(t *testing.T, store SessionStore) {
	t.Helper()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	_, ok := store.Get("missing")
	assert.False(t, ok)

	s := Session{Subject: "admin", IssuedAt: now, LastRenewed: now}
	require.NoError(t, store.Put("tok-1", s))
	got, ok := store.Get("tok-1")
	require.True(t, ok)
	assert.Equal(t, "admin", got.Subject)
	assert.True(t, got.LastRenewed.Equal(now))

	s.LastRenewed = now.Add(10 * time.Minute)
	require.NoError(t, store.Put("tok-1", s))
	got, ok = store.Get("tok-1")
	require.True(t, ok)
	assert.True(t, got.LastRenewed.Equal(now.Add(10*time.Minute)))

	require.NoError(t, store.Put("tok-2", Session{Subject: "admin", IssuedAt: now, LastRenewed: now}))
	assert.Equal(t, 2, store.Len())

	assert.Equal(t, 1, store.DeleteIdle(now.Add(time.Minute)))
	_, ok = store.Get("tok-2")
	assert.False(t, ok)

	store.Delete("tok-1")
	store.Delete("tok-1")
	assert.Zero(t, store.Len())

	require.NoError(t, store.Put("tok-3", Session{Subject: "admin", IssuedAt: now, LastRenewed: now}))
	got, ok = store.Renew("tok-3", now.Add(30*time.Minute), 30*time.Minute)
	require.True(t, ok, "exactly the timeout since the last renewal is still live")
	assert.True(t, got.LastRenewed.Equal(now.Add(30*time.Minute)))
	got, ok = store.Get("tok-3")
	require.True(t, ok)
	assert.True(t, got.LastRenewed.Equal(now.Add(30*time.Minute)))

	_, ok = store.Renew("tok-3", now.Add(61*time.Minute), 30*time.Minute)
	assert.False(t, ok)
	_, ok = store.Get("tok-3")
	assert.False(t, ok, "an expired session is deleted on renewal")

	_, ok = store.Renew("missing", now, time.Minute)
	assert.False(t, ok)
	assert.Zero(t, store.Len())
}

func TestMemorySessionStore(t *testing.T) {
	sessionStoreContract(t, NewMemorySessionStore())
}

func TestPersistentSessionStore(t *testing.T) {
	key, err := util.NewAESKey()
	require.NoError(t, err)
	store, err := NewPersistentSessionStore(memory.NewRepository(), key, nil)
	require.NoError(t, err)
	defer store.Close()

	sessionStoreContract(t, store)
}

func TestPersistentSessionStore_RejectsBadWrappingKey(t *testing.T) {
	_, err := NewPersistentSessionStore(memory.NewRepository(), []byte("short"), nil)
	require.Error(t, err)
}

func TestPersistentSessionStore_SurvivesRestart(t *testing.T) {
	repo := memory.NewRepository()
	key, err := util.NewAESKey()
	require.NoError(t, err)

	first, err := NewPersistentSessionStore(repo, key, nil)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, first.Put("tok", Session{Subject: "admin", IssuedAt: now, LastRenewed: now}))
	first.Close()

	second, err := NewPersistentSessionStore(repo, key, nil)
	require.NoError(t, err)
	got, ok := second.Get("tok")
	require.True(t, ok)
	assert.Equal(t, "admin", got.Subject)
}

func TestPersistentSessionStore_RecordsHideTokens(t *testing.T) {
	repo := memory.NewRepository()
	key, err := util.NewAESKey()
	require.NoError(t, err)
	store, err := NewPersistentSessionStore(repo, key, nil)
	require.NoError(t, err)

	token := "plain-session-token"
	require.NoError(t, store.Put(token, Session{Subject: "admin"}))

	ids, err := repo.List(sessionBucket)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotEqual(t, token, ids[0])
	assert.Equal(t, sessionRecordID(token), ids[0])

	env, err := repo.Get(sessionBucket, ids[0])
	require.NoError(t, err)
	assert.False(t, bytes.Contains(env.Ciphertext, []byte("admin")), "session payload is encrypted")
}

func TestPersistentSessionStore_WrappingKeyChangeDropsSessions(t *testing.T) {
	repo := memory.NewRepository()
	oldKey, err := util.NewAESKey()
	require.NoError(t, err)
	newKey, err := util.NewAESKey()
	require.NoError(t, err)

	first, err := NewPersistentSessionStore(repo, oldKey, nil)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, first.Put("tok", Session{Subject: "admin", IssuedAt: now, LastRenewed: now}))

	second, err := NewPersistentSessionStore(repo, newKey, nil)
	require.NoError(t, err)
	_, ok := second.Get("tok")
	assert.False(t, ok, "sessions sealed under the old key are unreadable")

	assert.Equal(t, 1, second.DeleteIdle(now.Add(-time.Hour)), "unreadable records are swept")
	assert.Zero(t, second.Len())
}

func TestPersistentSessionStore_ClosedStoreFailsWrites(t *testing.T) {
	key, err := util.NewAESKey()
	require.NoError(t, err)
	store, err := NewPersistentSessionStore(memory.NewRepository(), key, nil)
	require.NoError(t, err)

	store.Close()
	assert.Error(t, store.Put("tok", Session{Subject: "admin"}))
}

func TestPersistentSessionStore_RenewDoesNotResurrectDeleted(t *testing.T) {
	repo := &deleteAfterReadRepo{Repository: memory.NewRepository()}
	key, err := util.NewAESKey()
	require.NoError(t, err)
	store, err := NewPersistentSessionStore(repo, key, nil)
	require.NoError(t, err)

	clock := newFakeClock()
	m := NewSessionManager(store, DefaultSessionTimeout)
	m.now = clock.Now
	token, err := m.Issue("admin")
	require.NoError(t, err)
	require.True(t, m.Validate(token))

	repo.armed = true
	clock.Advance(time.Minute)
	assert.False(t, m.Validate(token), "the renewal lost to the delete")
	assert.False(t, m.Validate(token))
	assert.Zero(t, store.Len())
}

func TestPersistentSessionStore_RenewBumpsVersion(t *testing.T) {
	key, err := util.NewAESKey()
	require.NoError(t, err)
	repo := memory.NewRepository()
	store, err := NewPersistentSessionStore(repo, key, nil)
	require.NoError(t, err)
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put("tok", Session{Subject: "admin", IssuedAt: now, LastRenewed: now}))

	for i := 1; i <= 2; i++ {
		_, ok := store.Renew("tok", now.Add(time.Duration(i)*time.Minute), DefaultSessionTimeout)
		require.True(t, ok)
	}
	env, err := repo.Get(sessionBucket, sessionRecordID("tok"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), env.Version)

	got, ok := store.Get("tok")
	require.True(t, ok)
	assert.True(t, got.LastRenewed.Equal(now.Add(2*time.Minute)))
}

func TestPersistentSessionStore_LogsFailedDelete(t *testing.T) {
	key, err := util.NewAESKey()
	require.NoError(t, err)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	store, err := NewPersistentSessionStore(failingDeleteRepo{memory.NewRepository()}, key, logger)
	require.NoError(t, err)

	require.NoError(t, store.Put("tok", Session{Subject: "admin"}))
	store.Delete("tok")
	assert.Contains(t, logs.String(), "deleting session failed")
	assert.Contains(t, logs.String(), "disk full")
}
