package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/editgate/storage/memory"
)

type captureSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *captureSink) Write(e Entry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

func (s *captureSink) all() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func recordN(l *AccessLog, n int) {
	for i := 1; i <= n; i++ {
		l.Record(context.Background(), Entry{
			Event:    EventLoginFailure,
			Origin:   "10.0.0.1",
			Username: fmt.Sprintf("user-%d", i),
		})
	}
}

func TestAccessLog_RecordStampsEntries(t *testing.T) {
	clock := newFakeClock()
	l := NewAccessLog(10)
	l.now = clock.Now

	e := l.Record(context.Background(), Entry{Event: EventLoginSuccess, Origin: "10.0.0.1", Success: true})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, uint64(1), e.Seq)
	assert.True(t, e.Timestamp.Equal(clock.Now()))

	e2 := l.Record(context.Background(), Entry{Event: EventLogout})
	assert.NotEqual(t, e.ID, e2.ID)
	assert.Equal(t, uint64(2), e2.Seq)
}

func TestAccessLog_RecentOldestFirst(t *testing.T) {
	l := NewAccessLog(10)
	recordN(l, 5)

	entries, total := l.Recent(3)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(5), total)
	assert.Equal(t, "user-3", entries[0].Username)
	assert.Equal(t, "user-5", entries[2].Username)

	all, _ := l.Recent(0)
	assert.Len(t, all, 5)

	more, _ := l.Recent(50)
	assert.Len(t, more, 5)
}

func TestAccessLog_EvictsOldestBeyondCapacity(t *testing.T) {
	l := NewAccessLog(DefaultAccessLogCapacity)
	recordN(l, 1001)

	assert.Equal(t, DefaultAccessLogCapacity, l.Len())
	all, total := l.Recent(0)
	require.Len(t, all, DefaultAccessLogCapacity)
	assert.Equal(t, uint64(1001), total)
	assert.Equal(t, "user-2", all[0].Username, "the first entry was evicted")

	window, _ := l.Recent(DefaultLogWindow)
	require.Len(t, window, DefaultLogWindow)
	assert.Equal(t, "user-952", window[0].Username)
	assert.Equal(t, "user-1001", window[DefaultLogWindow-1].Username)
}

func TestAccessLog_ForwardsToSinks(t *testing.T) {
	sink := &captureSink{}
	l := NewAccessLog(2, sink)
	recordN(l, 3)

	got := sink.all()
	require.Len(t, got, 3, "sinks see every entry, evicted ones included")
	assert.Equal(t, uint64(3), got[2].Seq)
}

func TestAccessLog_ConcurrentRecord(t *testing.T) {
	l := NewAccessLog(100)
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recordN(l, 10)
		}()
	}
	wg.Wait()

	entries, total := l.Recent(0)
	assert.Equal(t, uint64(200), total)
	require.Len(t, entries, 100)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Seq+1, entries[i].Seq)
	}
}

func TestRepositorySink_PersistsBoundedWindow(t *testing.T) {
	repo := memory.NewRepository()
	sink := NewRepositorySink(repo, 5, nil)
	l := NewAccessLog(5, sink)
	recordN(l, 8)

	stored, err := ReadEntries(repo, 0)
	require.NoError(t, err)
	require.Len(t, stored, 5)
	assert.Equal(t, uint64(4), stored[0].Seq)
	assert.Equal(t, uint64(8), stored[4].Seq)

	latest, err := ReadEntries(repo, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "user-7", latest[0].Username)
}

func TestReadEntries_EmptyRepository(t *testing.T) {
	entries, err := ReadEntries(memory.NewRepository(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAccessLog_Restore(t *testing.T) {
	repo := memory.NewRepository()
	first := NewAccessLog(5, NewRepositorySink(repo, 5, nil))
	recordN(first, 12)

	persisted, err := ReadEntries(repo, 0)
	require.NoError(t, err)

	second := NewAccessLog(5)
	second.Restore(persisted)
	entries, total := second.Recent(0)
	require.Len(t, entries, 5)
	assert.Equal(t, uint64(12), total)

	e := second.Record(context.Background(), Entry{Event: EventLogout})
	assert.Equal(t, uint64(13), e.Seq, "sequence continues after restore")
}
