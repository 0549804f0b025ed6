package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/editgate/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("EDITGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EDITGATE_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("could not connect to postgres: %v", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("could not ensure schema: %v", err)
	}

	pool.Exec(ctx, "DELETE FROM editgate_records") //nolint:errcheck
	t.Cleanup(func() {
		pool.Exec(ctx, "DELETE FROM editgate_records") //nolint:errcheck
		pool.Close()
	})
	return NewRepository(pool)
}

func TestPostgresStorage(t *testing.T) {
	s := newTestStore(t)

	bucket := "access_log"
	env := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Ciphertext: []byte(`{"ok":true}`)}

	t.Run("GetMissingBucket", func(t *testing.T) {
		_, err := s.Get("nope", "x")
		if !errors.Is(err, storage.ErrBucketNotFound) {
			t.Errorf("expected ErrBucketNotFound, got %v", err)
		}
	})

	t.Run("PutGet", func(t *testing.T) {
		if err := s.Put(bucket, "00000000000000000001", env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get(bucket, "00000000000000000001")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Scheme != env.Scheme || string(got.Ciphertext) != string(env.Ciphertext) {
			t.Errorf("Get returned wrong envelope: %+v", got)
		}
		_, err = s.Get(bucket, "missing")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListOrdered", func(t *testing.T) {
		s.Put(bucket, "00000000000000000003", env) //nolint:errcheck
		s.Put(bucket, "00000000000000000002", env) //nolint:errcheck
		ids, err := s.List(bucket)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		want := []string{"00000000000000000001", "00000000000000000002", "00000000000000000003"}
		if len(ids) != len(want) {
			t.Fatalf("expected %d IDs, got %d", len(want), len(ids))
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
			}
		}
	})

	t.Run("PutCAS", func(t *testing.T) {
		v1 := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Ciphertext: []byte(`{}`), Version: 1}
		if err := s.PutCAS("credentials", "admin", 0, v1); err != nil {
			t.Fatalf("PutCAS (new) failed: %v", err)
		}
		if err := s.PutCAS("credentials", "admin", 0, v1); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed, got %v", err)
		}
		v2 := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Ciphertext: []byte(`{}`), Version: 2}
		if err := s.PutCAS("credentials", "admin", 1, v2); err != nil {
			t.Fatalf("PutCAS (update) failed: %v", err)
		}
		if err := s.PutCAS("credentials", "admin", 1, v2); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed on stale version, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Delete(bucket, "00000000000000000001"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := s.Delete(bucket, "00000000000000000001"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
