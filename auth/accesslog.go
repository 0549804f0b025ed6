package auth

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmcleod/editgate/internal/uuid"
)

// Event identifies what an access log entry records.
type Event string

const (
	EventLoginSuccess         Event = "login_success"
	EventLoginFailure         Event = "login_failure"
	EventLoginRateLimited     Event = "login_rate_limited"
	EventLogout               Event = "logout"
	EventPasswordChanged      Event = "password_changed"
	EventPasswordChangeFailed Event = "password_change_failed"
	EventContentSaved         Event = "content_saved"
)

// Entry is one immutable access log record.
type Entry struct {
	ID         string    `json:"id"`
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	Event      Event     `json:"event"`
	Origin     string    `json:"ip"`
	Username   string    `json:"username"`
	Success    bool      `json:"success"`
	UserAgent  string    `json:"user_agent"`
	Annotation string    `json:"annotation,omitempty"`
}

// Sink receives every entry after it has been recorded. Write is called
// outside the log's lock and must not block for long.
type Sink interface {
	Write(Entry)
}

// AccessLog keeps the most recent entries in a fixed-size ring and counts
// every entry ever recorded.
type AccessLog struct {
	mu    sync.Mutex
	ring  []Entry
	head  int // index of the oldest entry
	size  int
	total uint64

	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewAccessLog returns a log retaining at most capacity entries.
func NewAccessLog(capacity int, sinks ...Sink) *AccessLog {
	if capacity <= 0 {
		capacity = DefaultAccessLogCapacity
	}
	return &AccessLog{
		ring:   make([]Entry, capacity),
		sinks:  sinks,
		logger: slog.Default().With("component", "access_log"),
		now:    time.Now,
	}
}

// Capacity returns the maximum number of retained entries.
func (l *AccessLog) Capacity() int {
	return len(l.ring)
}

// Record stamps e with an ID, sequence number and (if unset) timestamp,
// appends it, evicting the oldest entry when full, and forwards it to the
// sinks. The stamped entry is returned.
func (l *AccessLog) Record(ctx context.Context, e Entry) Entry {
	l.mu.Lock()
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	l.total++
	e.Seq = l.total
	e.ID = uuid.New()
	l.appendLocked(e)
	sinks := l.sinks
	l.mu.Unlock()

	l.logger.LogAttrs(ctx, slog.LevelInfo, "access",
		slog.String("event", string(e.Event)),
		slog.String("ip", e.Origin),
		slog.String("username", e.Username),
		slog.Bool("success", e.Success),
		slog.String("user_agent", e.UserAgent),
		slog.String("annotation", e.Annotation),
	)
	for _, s := range sinks {
		s.Write(e)
	}
	return e
}

func (l *AccessLog) appendLocked(e Entry) {
	capacity := len(l.ring)
	if l.size < capacity {
		l.ring[(l.head+l.size)%capacity] = e
		l.size++
		return
	}
	l.ring[l.head] = e
	l.head = (l.head + 1) % capacity
}

// Recent returns up to n of the newest entries, oldest first, together
// with the number of entries ever recorded. n <= 0 returns every retained
// entry.
func (l *AccessLog) Recent(n int) ([]Entry, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]Entry, n)
	start := l.size - n
	for i := range n {
		out[i] = l.ring[(l.head+start+i)%len(l.ring)]
	}
	return out, l.total
}

// Len returns the number of retained entries.
func (l *AccessLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Restore loads previously persisted entries, for example on startup. The
// entries are ordered by sequence number and the newest are retained; the
// total is advanced to the highest sequence seen. Sinks are not called.
func (l *AccessLog) Restore(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range sorted {
		l.appendLocked(e)
		if e.Seq > l.total {
			l.total = e.Seq
		}
	}
}
