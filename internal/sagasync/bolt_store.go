package sagasync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketBooks  = []byte("books")
	bucketSeries = []byte("series")
)

// BoltRecordStore persists records in a local bbolt file, one bucket per
// record kind with JSON-encoded values. The conditional put runs inside a
// single update transaction so the timestamp check and the write are atomic.
type BoltRecordStore struct {
	db *bolt.DB
}

func NewBoltRecordStore(path string) (*BoltRecordStore, error) {
	if path == "" {
		return nil, ErrInvalidInput
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBooks, bucketSeries} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltRecordStore{db: db}, nil
}

func (s *BoltRecordStore) GetBook(ctx context.Context, asin string) (BookRecord, error) {
	var record BookRecord
	if err := s.getJSON(bucketBooks, asin, &record); err != nil {
		return BookRecord{}, err
	}
	return record, nil
}

func (s *BoltRecordStore) PutBook(ctx context.Context, record BookRecord) error {
	if record.ASIN == "" {
		return ErrInvalidInput
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBooks)
		if existing := bucket.Get([]byte(record.ASIN)); existing != nil {
			var stored BookRecord
			if err := json.Unmarshal(existing, &stored); err != nil {
				return err
			}
			if stored.UpdatedAt >= record.UpdatedAt {
				return &ConflictError{Key: record.ASIN, StoredTimestamp: stored.UpdatedAt, AttemptedTimestamp: record.UpdatedAt}
			}
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(record.ASIN), data)
	})
}

func (s *BoltRecordStore) ListBooksBySeries(ctx context.Context, seriesKey string) ([]BookRecord, error) {
	var records []BookRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBooks).ForEach(func(_, value []byte) error {
			var record BookRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return err
			}
			if record.SeriesKey == seriesKey {
				records = append(records, record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BoltRecordStore) ListBooks(ctx context.Context) ([]BookRecord, error) {
	var records []BookRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBooks).ForEach(func(_, value []byte) error {
			var record BookRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BoltRecordStore) GetSeries(ctx context.Context, seriesKey string) (SeriesRecord, error) {
	var record SeriesRecord
	if err := s.getJSON(bucketSeries, seriesKey, &record); err != nil {
		return SeriesRecord{}, err
	}
	return record, nil
}

func (s *BoltRecordStore) PutSeries(ctx context.Context, record SeriesRecord) error {
	if record.SeriesKey == "" {
		return ErrInvalidInput
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSeries)
		if existing := bucket.Get([]byte(record.SeriesKey)); existing != nil {
			var stored SeriesRecord
			if err := json.Unmarshal(existing, &stored); err != nil {
				return err
			}
			if stored.UpdatedAt >= record.UpdatedAt {
				return &ConflictError{Key: record.SeriesKey, StoredTimestamp: stored.UpdatedAt, AttemptedTimestamp: record.UpdatedAt}
			}
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(record.SeriesKey), data)
	})
}

func (s *BoltRecordStore) Close() error {
	return s.db.Close()
}

func (s *BoltRecordStore) getJSON(bucket []byte, key string, dest any) error {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if value := tx.Bucket(bucket).Get([]byte(key)); value != nil {
			data = make([]byte, len(value))
			copy(data, value)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, dest)
}
