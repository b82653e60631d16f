package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/segment"
)

// MemoryStore keeps one roaring bitmap of message ids per word id. It can
// be flushed to and restored from a segment file.
type MemoryStore struct {
	mu     sync.RWMutex
	words  map[uint32]*roaring.Bitmap
	size   int64
	path   string
	logger *slog.Logger
}

// NewMemoryStore returns an empty store. A non-empty path enables Load and
// Flush.
func NewMemoryStore(path string) *MemoryStore {
	return &MemoryStore{
		words:  make(map[uint32]*roaring.Bitmap),
		path:   path,
		logger: slog.Default().With("component", "memory-index"),
	}
}

func (m *MemoryStore) Insert(_ context.Context, entries []Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var added int64
	for _, e := range entries {
		bm, ok := m.words[e.WordID]
		if !ok {
			bm = roaring.New()
			m.words[e.WordID] = bm
		}
		if bm.CheckedAdd(e.MessageID) {
			added++
		}
	}
	m.size += added
	return added, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.words = make(map[uint32]*roaring.Bitmap)
	m.size = 0
	return nil
}

func (m *MemoryStore) Lookup(_ context.Context, wordID uint32) (*roaring.Bitmap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bm, ok := m.words[wordID]
	if !ok {
		return roaring.New(), nil
	}
	return bm.Clone(), nil
}

func (m *MemoryStore) CountWords(_ context.Context, from, to uint32) ([]WordCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var counts []WordCount
	for id, bm := range m.words {
		if id < from || id >= to {
			continue
		}
		if n := bm.GetCardinality(); n > 0 {
			counts = append(counts, WordCount{WordID: id, Messages: n})
		}
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].WordID < counts[j].WordID })
	return counts, nil
}

func (m *MemoryStore) DeleteWords(_ context.Context, wordIDs []uint32) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for _, id := range wordIDs {
		if bm, ok := m.words[id]; ok {
			removed += int64(bm.GetCardinality())
			delete(m.words, id)
		}
	}
	m.size -= removed
	return removed, nil
}

func (m *MemoryStore) RemoveMessage(_ context.Context, messageID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, bm := range m.words {
		if bm.CheckedRemove(messageID) {
			m.size--
			if bm.IsEmpty() {
				delete(m.words, id)
			}
		}
	}
	return nil
}

func (m *MemoryStore) Size(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size, nil
}

// Entries lists every pair ordered by word then message id.
func (m *MemoryStore) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint32, 0, len(m.words))
	for id := range m.words {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	entries := make([]Entry, 0, m.size)
	for _, id := range ids {
		it := m.words[id].Iterator()
		for it.HasNext() {
			entries = append(entries, Entry{WordID: id, MessageID: it.Next()})
		}
	}
	return entries
}

// Flush writes the store to its segment file.
func (m *MemoryStore) Flush() error {
	if m.path == "" {
		return nil
	}
	m.mu.RLock()
	postings := make([]segment.Postings, 0, len(m.words))
	for id, bm := range m.words {
		postings = append(postings, segment.Postings{WordID: id, Messages: bm.Clone()})
	}
	size := m.size
	m.mu.RUnlock()

	if err := segment.Write(m.path, postings); err != nil {
		return fmt.Errorf("flushing index: %w", err)
	}
	m.logger.Info("index flushed", "path", m.path, "words", len(postings), "entries", size)
	return nil
}

// Load replaces the store contents with the segment file. A missing file
// leaves the store empty.
func (m *MemoryStore) Load() error {
	if m.path == "" {
		return nil
	}
	r, err := segment.OpenReader(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading index: %w", err)
	}
	defer r.Close()

	words := make(map[uint32]*roaring.Bitmap, r.Words())
	var size int64
	err = r.ForEach(func(p segment.Postings) error {
		words[p.WordID] = p.Messages
		size += int64(p.Messages.GetCardinality())
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading index: %w", err)
	}

	m.mu.Lock()
	m.words = words
	m.size = size
	m.mu.Unlock()
	m.logger.Info("index loaded", "path", m.path, "words", len(words), "entries", size)
	return nil
}
