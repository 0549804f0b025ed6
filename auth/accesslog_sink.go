package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jmcleod/editgate/storage"
)

const accessLogBucket = "access_log"

func accessLogRecordID(seq uint64) string {
	// Zero padded so that lexical order in the repository is sequence order.
	return fmt.Sprintf("%020d", seq)
}

// RepositorySink persists access log entries so they can be read after a
// restart or by the logs command. It retains the same number of entries as
// the in-memory log.
type RepositorySink struct {
	repo     storage.Repository
	capacity uint64
	logger   *slog.Logger
}

var _ Sink = (*RepositorySink)(nil)

// NewRepositorySink returns a sink writing to repo and keeping at most
// capacity entries.
func NewRepositorySink(repo storage.Repository, capacity int, logger *slog.Logger) *RepositorySink {
	if capacity <= 0 {
		capacity = DefaultAccessLogCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RepositorySink{
		repo:     repo,
		capacity: uint64(capacity),
		logger:   logger.With("component", "access_log_store"),
	}
}

// Write stores e and drops the entry that fell out of the window.
func (s *RepositorySink) Write(e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("encoding access log entry failed", "error", err)
		return
	}
	if err := s.repo.Put(accessLogBucket, accessLogRecordID(e.Seq), storage.PlainRecord(data, e.Seq)); err != nil {
		s.logger.Warn("persisting access log entry failed", "seq", e.Seq, "error", err)
		return
	}
	if e.Seq > s.capacity {
		evicted := e.Seq - s.capacity
		if err := s.repo.Delete(accessLogBucket, accessLogRecordID(evicted)); err != nil && !storage.IsNotFound(err) {
			s.logger.Warn("evicting access log entry failed", "seq", evicted, "error", err)
		}
	}
}

// ReadEntries returns up to limit of the newest persisted entries, oldest
// first. limit <= 0 returns all of them.
func ReadEntries(repo storage.Repository, limit int) ([]Entry, error) {
	ids, err := repo.List(accessLogBucket)
	if err != nil {
		return nil, fmt.Errorf("listing access log: %w", err)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		env, err := repo.Get(accessLogBucket, id)
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("reading access log entry %s: %w", id, err)
		}
		data, err := storage.OpenPlain(env)
		if err != nil {
			return nil, fmt.Errorf("opening access log entry %s: %w", id, err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decoding access log entry %s: %w", id, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
