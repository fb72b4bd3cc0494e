package journal

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStorage struct {
	mu      sync.Mutex
	entries []Entry
	batches int
}

func (s *memStorage) WriteBatch(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	s.batches++
	return nil
}

func TestJournalDrainsOnStop(t *testing.T) {
	store := &memStorage{}
	j := New(store, zap.NewNop())
	j.Start()

	for i := 0; i < 250; i++ {
		j.Record(Entry{VisitorID: "v1", EventName: "page_view", Status: StatusSent})
	}
	j.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.entries, 250)
	// Лимит пачки 100: минимум две полные пачки плюс финальный flush
	assert.GreaterOrEqual(t, store.batches, 3)
}

func TestJournalFillsDefaults(t *testing.T) {
	store := &memStorage{}
	j := New(store, zap.NewNop())
	j.Start()

	j.Record(Entry{VisitorID: "v1", EventName: "purchase", Status: StatusSent})
	j.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.entries, 1)
	assert.NotEmpty(t, store.entries[0].ID)
	assert.False(t, store.entries[0].Timestamp.IsZero())
}

func TestJournalDropsAfterStop(t *testing.T) {
	store := &memStorage{}
	j := New(store, zap.NewNop())
	j.Start()
	j.Stop()

	// После остановки запись молча отбрасывается, паники нет
	j.Record(Entry{VisitorID: "v2", EventName: "page_view"})

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.entries)
}
