package sagasync

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type RecordStoreFactory func(dsn string) (RecordStore, error)

var storeFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]RecordStoreFactory
}{
	factories: map[string]RecordStoreFactory{},
}

// RegisterRecordStoreFactory lets callers plug additional backends in by DSN
// scheme before BuildRecordStoreFromDSN resolves one.
func RegisterRecordStoreFactory(scheme string, factory RecordStoreFactory) {
	scheme = normalizeStoreScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storeFactoryRegistry.mu.Lock()
	defer storeFactoryRegistry.mu.Unlock()
	storeFactoryRegistry.factories[scheme] = factory
}

func lookupRecordStoreFactory(scheme string) (RecordStoreFactory, bool) {
	scheme = normalizeStoreScheme(scheme)
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	factory, ok := storeFactoryRegistry.factories[scheme]
	return factory, ok
}

// BuildRecordStoreFromDSN selects a record-store backend by DSN scheme:
// memory:// for ephemeral runs, bolt://path (or a bare path) for the durable
// local file, postgres://... for a shared database.
func BuildRecordStoreFromDSN(dsn string) (RecordStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeStoreScheme(parsed.Scheme)
	if factory, ok := lookupRecordStoreFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryRecordStore(), nil
	case "", "file", "bolt":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewBoltRecordStore(path)
	case "postgres", "postgresql":
		return NewPostgresRecordStore(dsn)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: record store %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported record store scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, dsn string) (string, error) {
	if parsed.Scheme == "" {
		return dsn, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if parsed.Opaque != "" {
		path = parsed.Opaque
	}
	if path == "" {
		return "", fmt.Errorf("record store DSN has no path: %s", dsn)
	}
	return path, nil
}

func normalizeStoreScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
