package metadata

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in a map. It is used by tests and by
// single-process development setups.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) TableName() string {
	return "memory"
}

func (s *MemoryStore) PutRecord(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recCopy := *rec
	s.records[rec.ContentHash] = &recCopy
	return nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, contentHash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[contentHash]
	if !exists {
		return nil, nil
	}
	recCopy := *rec
	return &recCopy, nil
}

func (s *MemoryStore) ScanRecords(ctx context.Context, opts ScanOptions) (*ScanPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		if k > opts.Cursor {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit := scanLimit(opts)
	page := &ScanPage{}
	if len(keys) > limit {
		keys = keys[:limit]
		page.NextCursor = keys[len(keys)-1]
	}
	for _, k := range keys {
		page.Records = append(page.Records, *s.records[k])
	}
	return page, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

var _ Store = (*MemoryStore)(nil)
