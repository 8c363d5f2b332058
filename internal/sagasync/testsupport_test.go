package sagasync

import (
	"context"
	"fmt"
	"sync"
)

type pageUpdate struct {
	PageID   string
	Props    PageProperties
	Archived bool
}

// fakeGateway records directory calls and delegates to overridable functions.
// Defaults: queries find nothing, creates mint sequential page ids, updates
// echo the page back.
type fakeGateway struct {
	mu       sync.Mutex
	queryFn  func(ctx context.Context, databaseID, property, value string) ([]PageRef, error)
	createFn func(ctx context.Context, databaseID string, props PageProperties) (PageRef, error)
	updateFn func(ctx context.Context, pageID string, props PageProperties, archived bool) (PageRef, error)

	queries []string
	creates []string
	updates []pageUpdate
}

func (g *fakeGateway) QueryByField(ctx context.Context, databaseID, property, value string) ([]PageRef, error) {
	g.mu.Lock()
	g.queries = append(g.queries, databaseID+"|"+property+"|"+value)
	g.mu.Unlock()
	if g.queryFn != nil {
		return g.queryFn(ctx, databaseID, property, value)
	}
	return nil, nil
}

func (g *fakeGateway) CreatePage(ctx context.Context, databaseID string, props PageProperties) (PageRef, error) {
	g.mu.Lock()
	g.creates = append(g.creates, databaseID)
	count := len(g.creates)
	g.mu.Unlock()
	if g.createFn != nil {
		return g.createFn(ctx, databaseID, props)
	}
	return PageRef{ID: fmt.Sprintf("page-%d", count)}, nil
}

func (g *fakeGateway) UpdatePage(ctx context.Context, pageID string, props PageProperties, archived bool) (PageRef, error) {
	g.mu.Lock()
	g.updates = append(g.updates, pageUpdate{PageID: pageID, Props: props, Archived: archived})
	g.mu.Unlock()
	if g.updateFn != nil {
		return g.updateFn(ctx, pageID, props, archived)
	}
	return PageRef{ID: pageID}, nil
}

func (g *fakeGateway) updateCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.updates)
}

func (g *fakeGateway) queryCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queries)
}

type fakeLister struct {
	pages map[string][]Page
	err   error
}

func (l *fakeLister) ListPages(ctx context.Context, databaseID string) ([]Page, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.pages[databaseID], nil
}

// testClock hands out strictly increasing logical timestamps.
type testClock struct {
	mu   sync.Mutex
	next int64
}

func newTestClock() *testClock {
	return &testClock{next: 1000}
}

func (c *testClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return c.next
}

func newTestOptions(store RecordStore, gateway DirectoryGateway) Options {
	return Options{
		Store:      store,
		Gateway:    gateway,
		BooksDBID:  "books-db",
		SeriesDBID: "series-db",
		Now:        newTestClock().Now,
	}
}

func floatPtr(v float64) *float64 {
	return &v
}

func boolPtr(v bool) *bool {
	return &v
}

func seedBook(t interface{ Fatalf(string, ...any) }, store RecordStore, record BookRecord) {
	if err := store.PutBook(context.Background(), record); err != nil {
		t.Fatalf("seed book %s: %v", record.ASIN, err)
	}
}

func seedSeries(t interface{ Fatalf(string, ...any) }, store RecordStore, record SeriesRecord) {
	if err := store.PutSeries(context.Background(), record); err != nil {
		t.Fatalf("seed series %s: %v", record.SeriesKey, err)
	}
}
