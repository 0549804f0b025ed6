package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/editgate/internal/config"
	"github.com/jmcleod/editgate/storage"
	bboltstorage "github.com/jmcleod/editgate/storage/bbolt"
	"github.com/jmcleod/editgate/storage/postgres"
)

const boltFileName = "editgate.db"

// repository is a storage.Repository that owns a connection or file handle.
type repository interface {
	storage.Repository
	Close() error
}

// openRepository opens the configured record store. A BBolt file is locked
// by one process at a time, so the timeout keeps "editgate logs" from
// hanging while the server runs.
func openRepository(ctx context.Context, cfg *config.Config) (repository, error) {
	switch cfg.Server.Storage {
	case config.StoragePostgres:
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.Server.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return repo, nil
	default:
		if err := os.MkdirAll(cfg.Server.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		path := filepath.Join(cfg.Server.DataDir, boltFileName)
		repo, err := bboltstorage.NewRepositoryFromFile(path, &bbolt.Options{Timeout: 2 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to open storage %s: %w", path, err)
		}
		return repo, nil
	}
}
