// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Records live in a single table keyed by (bucket, record_id), the same key
// space the BBolt and in-memory backends use. Envelope fields are stored as
// individual columns with BYTEA for nonce and ciphertext.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/editgate/storage"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema applies schema.sql. Every statement is idempotent, so it runs
// on each open.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying editgate_records schema: %w", err)
	}
	return nil
}

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Put(bucket, recordID string, envelope *storage.Envelope) error {
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO editgate_records (bucket, record_id, ver, scheme, nonce, ciphertext, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (bucket, record_id)
		 DO UPDATE SET ver = $3, scheme = $4, nonce = $5, ciphertext = $6, version = $7`,
		bucket, recordID,
		envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
	return err
}

func (s *Store) Get(bucket, recordID string) (*storage.Envelope, error) {
	var env storage.Envelope
	err := s.pool.QueryRow(context.Background(),
		`SELECT ver, scheme, nonce, ciphertext, version
		 FROM editgate_records WHERE bucket = $1 AND record_id = $2`,
		bucket, recordID).Scan(
		&env.Ver, &env.Scheme, &env.Nonce, &env.Ciphertext, &env.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError(context.Background(), s.pool, bucket, recordID)
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// List returns record IDs in byte order, matching BBolt's cursor order.
func (s *Store) List(bucket string) ([]string, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT record_id FROM editgate_records WHERE bucket = $1 ORDER BY record_id COLLATE "C"`,
		bucket)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) Delete(bucket, recordID string) error {
	tag, err := s.pool.Exec(context.Background(),
		`DELETE FROM editgate_records WHERE bucket = $1 AND record_id = $2`,
		bucket, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFoundError(context.Background(), s.pool, bucket, recordID)
	}
	return nil
}

func (s *Store) PutCAS(bucket, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	ctx := context.Background()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var currentVersion uint64
	err = tx.QueryRow(ctx,
		`SELECT version FROM editgate_records
		 WHERE bucket = $1 AND record_id = $2
		 FOR UPDATE`,
		bucket, recordID).Scan(&currentVersion)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		// A concurrent creator makes the insert hit the primary key; report
		// that as a lost race rather than a driver error.
		tag, err := tx.Exec(ctx,
			`INSERT INTO editgate_records (bucket, record_id, ver, scheme, nonce, ciphertext, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (bucket, record_id) DO NOTHING`,
			bucket, recordID,
			envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrCASFailed
		}
	case err != nil:
		return err
	default:
		if expectedVersion == 0 || currentVersion != expectedVersion {
			return storage.ErrCASFailed
		}
		_, err = tx.Exec(ctx,
			`UPDATE editgate_records SET ver = $3, scheme = $4, nonce = $5, ciphertext = $6, version = $7
			 WHERE bucket = $1 AND record_id = $2`,
			bucket, recordID,
			envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// notFoundError distinguishes a bucket that was never written from a
// missing record, preserving the BBolt semantics.
func notFoundError(ctx context.Context, pool *pgxpool.Pool, bucket, recordID string) error {
	var exists bool
	_ = pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM editgate_records WHERE bucket = $1)`,
		bucket).Scan(&exists)
	if !exists {
		return fmt.Errorf("%s: %w", bucket, storage.ErrBucketNotFound)
	}
	return fmt.Errorf("%s/%s: %w", bucket, recordID, storage.ErrNotFound)
}
