package sagasync

import (
	"context"
	"sync"
)

// RecordStore is the durable source of truth for book and series records.
// Put succeeds only when the key is absent or the stored logical timestamp is
// strictly less than the record's; otherwise it returns a ConflictError and
// the caller must re-read and re-derive before retrying. List methods are
// unordered snapshot scans with no isolation guarantee.
type RecordStore interface {
	GetBook(ctx context.Context, asin string) (BookRecord, error)
	PutBook(ctx context.Context, record BookRecord) error
	ListBooksBySeries(ctx context.Context, seriesKey string) ([]BookRecord, error)
	ListBooks(ctx context.Context) ([]BookRecord, error)
	GetSeries(ctx context.Context, seriesKey string) (SeriesRecord, error)
	PutSeries(ctx context.Context, record SeriesRecord) error
	Close() error
}

// MemoryRecordStore keeps records in process memory. It backs tests and the
// memory:// DSN; the conditional-put semantics match the durable backends.
type MemoryRecordStore struct {
	mu     sync.RWMutex
	books  map[string]BookRecord
	series map[string]SeriesRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		books:  make(map[string]BookRecord),
		series: make(map[string]SeriesRecord),
	}
}

func (s *MemoryRecordStore) GetBook(ctx context.Context, asin string) (BookRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.books[asin]
	if !ok {
		return BookRecord{}, ErrNotFound
	}
	return record, nil
}

func (s *MemoryRecordStore) PutBook(ctx context.Context, record BookRecord) error {
	if record.ASIN == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.books[record.ASIN]; ok && existing.UpdatedAt >= record.UpdatedAt {
		return &ConflictError{Key: record.ASIN, StoredTimestamp: existing.UpdatedAt, AttemptedTimestamp: record.UpdatedAt}
	}
	s.books[record.ASIN] = record
	return nil
}

func (s *MemoryRecordStore) ListBooksBySeries(ctx context.Context, seriesKey string) ([]BookRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []BookRecord
	for _, record := range s.books {
		if record.SeriesKey == seriesKey {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *MemoryRecordStore) ListBooks(ctx context.Context) ([]BookRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]BookRecord, 0, len(s.books))
	for _, record := range s.books {
		records = append(records, record)
	}
	return records, nil
}

func (s *MemoryRecordStore) GetSeries(ctx context.Context, seriesKey string) (SeriesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.series[seriesKey]
	if !ok {
		return SeriesRecord{}, ErrNotFound
	}
	return record, nil
}

func (s *MemoryRecordStore) PutSeries(ctx context.Context, record SeriesRecord) error {
	if record.SeriesKey == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.series[record.SeriesKey]; ok && existing.UpdatedAt >= record.UpdatedAt {
		return &ConflictError{Key: record.SeriesKey, StoredTimestamp: existing.UpdatedAt, AttemptedTimestamp: record.UpdatedAt}
	}
	s.series[record.SeriesKey] = record
	return nil
}

func (s *MemoryRecordStore) Close() error {
	return nil
}
