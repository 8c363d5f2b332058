package sagasync

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreConditionalPut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecordStore()

	first := BookRecord{ASIN: "B001", Title: "One", Status: StatusInProgress, UpdatedAt: 100}
	if err := store.PutBook(ctx, first); err != nil {
		t.Fatalf("initial put: %v", err)
	}

	stale := first
	stale.UpdatedAt = 100
	err := store.PutBook(ctx, stale)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("equal timestamp put error = %v, want ErrConflict", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error is not a ConflictError: %v", err)
	}
	if conflict.StoredTimestamp != 100 || conflict.AttemptedTimestamp != 100 {
		t.Errorf("conflict timestamps = %d/%d, want 100/100", conflict.StoredTimestamp, conflict.AttemptedTimestamp)
	}

	newer := first
	newer.Status = StatusFinished
	newer.UpdatedAt = 101
	if err := store.PutBook(ctx, newer); err != nil {
		t.Fatalf("newer put: %v", err)
	}
	got, err := store.GetBook(ctx, "B001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFinished {
		t.Errorf("status after newer put = %q, want %q", got.Status, StatusFinished)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	store := NewMemoryRecordStore()
	if _, err := store.GetBook(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing book error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetSeries(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing series error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreRejectsEmptyKeys(t *testing.T) {
	store := NewMemoryRecordStore()
	if err := store.PutBook(context.Background(), BookRecord{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty asin put error = %v, want ErrInvalidInput", err)
	}
	if err := store.PutSeries(context.Background(), SeriesRecord{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty series key put error = %v, want ErrInvalidInput", err)
	}
}

func TestMemoryStoreListBooksBySeries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecordStore()
	seedBook(t, store, BookRecord{ASIN: "B001", SeriesKey: "a|s", UpdatedAt: 1})
	seedBook(t, store, BookRecord{ASIN: "B002", SeriesKey: "a|s", UpdatedAt: 2})
	seedBook(t, store, BookRecord{ASIN: "B003", SeriesKey: "other", UpdatedAt: 3})

	records, err := store.ListBooksBySeries(ctx, "a|s")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	all, err := store.ListBooks(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len all = %d, want 3", len(all))
	}
}

func TestSeriesConditionalPut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecordStore()
	seedSeries(t, store, SeriesRecord{SeriesKey: "a|s", SeriesName: "S", UpdatedAt: 50})

	stale := SeriesRecord{SeriesKey: "a|s", SeriesName: "S2", UpdatedAt: 40}
	if err := store.PutSeries(ctx, stale); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale series put error = %v, want ErrConflict", err)
	}
	got, err := store.GetSeries(ctx, "a|s")
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if got.SeriesName != "S" {
		t.Errorf("series name after conflict = %q, want %q", got.SeriesName, "S")
	}
}
