package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore хранилище запусков в памяти
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*RunRecord
}

// NewMemoryStore создает хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*RunRecord)}
}

// Save сохраняет копию записи
func (s *MemoryStore) Save(ctx context.Context, record *RunRecord) error {
	now := time.Now().UTC()
	rec := record.Clone()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.records[rec.ID]; ok {
		rec.CreatedAt = prev.CreatedAt
	}
	s.records[rec.ID] = rec
	return nil
}

// Get возвращает копию записи
func (s *MemoryStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, NotFound(id)
	}
	return rec.Clone(), nil
}

// List возвращает записи от новых к старым
func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*RunRecord, error) {
	s.mu.RLock()
	out := make([]*RunRecord, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Match(rec) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, filter), nil
}

// Delete удаляет запись
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return NotFound(id)
	}
	delete(s.records, id)
	return nil
}

// HealthCheck всегда успешен
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Close ничего не делает
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
