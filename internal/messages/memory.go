package messages

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a Store over a slice, used by tests and the local CLI.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[uint32]Message
	ids  []uint32
}

func NewMemoryStore(msgs ...Message) *MemoryStore {
	s := &MemoryStore{byID: make(map[uint32]Message)}
	s.Put(msgs...)
	return s
}

// Put inserts or replaces messages.
func (s *MemoryStore) Put(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if _, exists := s.byID[m.ID]; !exists {
			s.ids = append(s.ids, m.ID)
		}
		s.byID[m.ID] = m
	}
	sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })
}

// Delete removes a message if present.
func (s *MemoryStore) Delete(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	s.ids = append(s.ids[:i], s.ids[i+1:]...)
}

func (s *MemoryStore) Batch(_ context.Context, fromID uint32, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= fromID })
	var out []Message
	for ; i < len(s.ids) && len(out) < limit; i++ {
		out = append(out, s.byID[s.ids[i]])
	}
	return out, nil
}

func (s *MemoryStore) Fetch(_ context.Context, ids []uint32, filter Filter) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		m, ok := s.byID[id]
		if ok && filter.Match(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ids) == 0 {
		return Stats{}, nil
	}
	return Stats{
		Count: int64(len(s.ids)),
		MinID: s.ids[0],
		MaxID: s.ids[len(s.ids)-1],
	}, nil
}
