package sagasync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresBooksTableName  = "sagasync_books"
	postgresSeriesTableName = "sagasync_series"
	postgresOpTimeout       = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresRecordStore keeps records in two Postgres tables with the
// conditional write expressed as an upsert guarded by the stored timestamp.
// The connection and schema are initialized lazily on first use.
type PostgresRecordStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresRecordStore(dsn string) (*PostgresRecordStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresRecordStore{dsn: dsn, openDB: sql.Open}, nil
}

func (s *PostgresRecordStore) GetBook(ctx context.Context, asin string) (BookRecord, error) {
	var record BookRecord
	if err := s.getRecord(ctx, postgresBooksTableName, "asin", asin, &record); err != nil {
		return BookRecord{}, err
	}
	return record, nil
}

func (s *PostgresRecordStore) PutBook(ctx context.Context, record BookRecord) error {
	if record.ASIN == "" {
		return ErrInvalidInput
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (asin, series_key, record, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (asin)
		DO UPDATE SET series_key = EXCLUDED.series_key, record = EXCLUDED.record, updated_at = EXCLUDED.updated_at
		WHERE %s.updated_at < EXCLUDED.updated_at`,
		postgresQuoteIdentifier(postgresBooksTableName), postgresQuoteIdentifier(postgresBooksTableName))
	return s.conditionalPut(ctx, query, record.ASIN, postgresBooksTableName, "asin",
		record.ASIN, record.SeriesKey, string(payload), record.UpdatedAt)
}

func (s *PostgresRecordStore) ListBooksBySeries(ctx context.Context, seriesKey string) ([]BookRecord, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOpTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT record FROM %s WHERE series_key = $1", postgresQuoteIdentifier(postgresBooksTableName))
	rows, err := s.db.QueryContext(opCtx, query, seriesKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookRows(rows)
}

func (s *PostgresRecordStore) ListBooks(ctx context.Context) ([]BookRecord, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOpTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT record FROM %s", postgresQuoteIdentifier(postgresBooksTableName))
	rows, err := s.db.QueryContext(opCtx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookRows(rows)
}

func (s *PostgresRecordStore) GetSeries(ctx context.Context, seriesKey string) (SeriesRecord, error) {
	var record SeriesRecord
	if err := s.getRecord(ctx, postgresSeriesTableName, "series_key", seriesKey, &record); err != nil {
		return SeriesRecord{}, err
	}
	return record, nil
}

func (s *PostgresRecordStore) PutSeries(ctx context.Context, record SeriesRecord) error {
	if record.SeriesKey == "" {
		return ErrInvalidInput
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (series_key, record, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (series_key)
		DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at
		WHERE %s.updated_at < EXCLUDED.updated_at`,
		postgresQuoteIdentifier(postgresSeriesTableName), postgresQuoteIdentifier(postgresSeriesTableName))
	return s.conditionalPut(ctx, query, record.SeriesKey, postgresSeriesTableName, "series_key",
		record.SeriesKey, string(payload), record.UpdatedAt)
}

func (s *PostgresRecordStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresRecordStore) getRecord(ctx context.Context, table, keyColumn, key string, dest any) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOpTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT record FROM %s WHERE %s = $1", postgresQuoteIdentifier(table), postgresQuoteIdentifier(keyColumn))
	var payload string
	err := s.db.QueryRowContext(opCtx, query, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(payload), dest)
}

// conditionalPut executes the guarded upsert; zero rows affected means the
// stored row carried a timestamp at least as new, which maps to ErrConflict.
func (s *PostgresRecordStore) conditionalPut(ctx context.Context, query, key, table, keyColumn string, args ...any) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOpTimeout)
	defer cancel()

	result, err := s.db.ExecContext(opCtx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		stored, tsErr := s.storedTimestamp(opCtx, table, keyColumn, key)
		if tsErr != nil {
			stored = 0
		}
		attempted, _ := args[len(args)-1].(int64)
		return &ConflictError{Key: key, StoredTimestamp: stored, AttemptedTimestamp: attempted}
	}
	return nil
}

func (s *PostgresRecordStore) storedTimestamp(ctx context.Context, table, keyColumn, key string) (int64, error) {
	query := fmt.Sprintf("SELECT updated_at FROM %s WHERE %s = $1", postgresQuoteIdentifier(table), postgresQuoteIdentifier(keyColumn))
	var stored int64
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&stored); err != nil {
		return 0, err
	}
	return stored, nil
}

func (s *PostgresRecordStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOpTimeout)
		defer cancel()

		statements := []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					asin TEXT PRIMARY KEY,
					series_key TEXT NOT NULL DEFAULT '',
					record TEXT NOT NULL,
					updated_at BIGINT NOT NULL
				)`, postgresQuoteIdentifier(postgresBooksTableName)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					series_key TEXT PRIMARY KEY,
					record TEXT NOT NULL,
					updated_at BIGINT NOT NULL
				)`, postgresQuoteIdentifier(postgresSeriesTableName)),
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func scanBookRows(rows *sql.Rows) ([]BookRecord, error) {
	var records []BookRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var record BookRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
