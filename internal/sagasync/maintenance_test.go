package sagasync

import (
	"context"
	"testing"
)

func testBookPage(id, title, asin, status string, order *float64, relations []string, edited string) Page {
	props := map[string]propertyDetail{
		"Name": {Title: []richTextSpan{{PlainText: title}}},
	}
	if asin != "" {
		props["ASIN"] = propertyDetail{RichText: []richTextSpan{{PlainText: asin}}}
	}
	if status != "" {
		props["Status"] = propertyDetail{Status: &OptionValue{Name: status}}
	}
	if order != nil {
		props["Series Order"] = propertyDetail{Number: order}
	}
	if len(relations) > 0 {
		var rel []RelationValue
		for _, id := range relations {
			rel = append(rel, RelationValue{ID: id})
		}
		props["Series"] = propertyDetail{Relation: rel}
	}
	return newPage(pageBody{ID: id, LastEditedTime: edited, Properties: props})
}

func newTestMaintenance(store RecordStore, gateway DirectoryGateway, lister DirectoryLister) *Maintenance {
	return NewMaintenance(MaintenanceOptions{
		Options: newTestOptions(store, gateway),
		Lister:  lister,
		Pace:    1,
	})
}

func TestRecomputeSeries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecordStore()
	seedBook(t, store, BookRecord{ASIN: "B001", Title: "One", SeriesKey: "a|s", Status: StatusFinished, SeriesMatch: true, UpdatedAt: 1})
	seedBook(t, store, BookRecord{ASIN: "B002", Title: "Two", SeriesKey: "a|s", Status: StatusFinished, SeriesMatch: true, UpdatedAt: 2})
	seedBook(t, store, BookRecord{ASIN: "B003", Title: "Other", SeriesKey: "b|t", Status: StatusInProgress, SeriesMatch: true, UpdatedAt: 3})
	seedBook(t, store, BookRecord{ASIN: "B004", Title: "Standalone", UpdatedAt: 4})

	m := newTestMaintenance(store, &fakeGateway{}, &fakeLister{})

	count, err := m.RecomputeSeries(ctx, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if count != 2 {
		t.Fatalf("dry run count = %d, want 2", count)
	}
	if _, err := store.GetSeries(ctx, "a|s"); err == nil {
		t.Fatal("dry run wrote a series record")
	}

	count, err = m.RecomputeSeries(ctx, false)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	series, err := store.GetSeries(ctx, "a|s")
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if series.FinalStatus != StatusFinished {
		t.Errorf("a|s final = %q, want finished", series.FinalStatus)
	}
	other, err := store.GetSeries(ctx, "b|t")
	if err != nil {
		t.Fatalf("get other series: %v", err)
	}
	if other.FinalStatus != StatusInProgress {
		t.Errorf("b|t final = %q, want in progress", other.FinalStatus)
	}
}

func TestResetDirectoryArchivesActivePages(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{}
	lister := &fakeLister{pages: map[string][]Page{
		"books-db": {
			newPage(pageBody{ID: "bp-1"}),
			newPage(pageBody{ID: "bp-2", Archived: true}),
		},
		"series-db": {
			newPage(pageBody{ID: "sp-1"}),
		},
	}}
	m := newTestMaintenance(NewMemoryRecordStore(), gateway, lister)

	archived, err := m.ResetDirectory(ctx, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if archived != 2 {
		t.Fatalf("dry run archived = %d, want 2", archived)
	}
	if gateway.updateCount() != 0 {
		t.Fatal("dry run touched the gateway")
	}

	archived, err = m.ResetDirectory(ctx, false)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if archived != 2 {
		t.Fatalf("archived = %d, want 2", archived)
	}
	if gateway.updateCount() != 2 {
		t.Fatalf("updates = %d, want 2", gateway.updateCount())
	}
	for _, update := range gateway.updates {
		if !update.Archived {
			t.Errorf("update %s did not archive", update.PageID)
		}
	}
}

func TestDedupeBooksKeepsStoreBackedPage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecordStore()
	seedBook(t, store, BookRecord{ASIN: "B001", Title: "One", UpdatedAt: 1})

	gateway := &fakeGateway{}
	lister := &fakeLister{pages: map[string][]Page{
		"books-db": {
			testBookPage("keep", "One", "B001", "Finished", floatPtr(1), []string{"sp-1"}, "2026-02-01T00:00:00Z"),
			testBookPage("lose-1", "one", "", "", nil, []string{"sp-1"}, "2026-03-01T00:00:00Z"),
			testBookPage("lose-2", "One ", "", "Not started", nil, []string{"sp-1"}, "2026-01-01T00:00:00Z"),
			testBookPage("solo", "Different", "", "", nil, nil, ""),
		},
	}}
	m := newTestMaintenance(store, gateway, lister)

	report, err := m.DedupeBooks(ctx, DedupeOptions{DryRun: true})
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if report.Groups != 1 {
		t.Fatalf("groups = %d, want 1", report.Groups)
	}
	if report.Archived != 2 {
		t.Fatalf("archived = %d, want 2 (dry run count)", report.Archived)
	}
	if gateway.updateCount() != 0 {
		t.Fatal("dry run touched the gateway")
	}
	if len(report.Kept) != 1 || report.Kept[0] != "keep" {
		t.Errorf("kept = %v, want the store-backed page", report.Kept)
	}

	report, err = m.DedupeBooks(ctx, DedupeOptions{DryRun: false})
	if err != nil {
		t.Fatalf("dedupe live: %v", err)
	}
	if report.Archived != 2 || gateway.updateCount() != 2 {
		t.Fatalf("live report = %+v, updates = %d", report, gateway.updateCount())
	}
	for _, update := range gateway.updates {
		if update.PageID == "keep" {
			t.Error("keeper page was archived")
		}
		if !update.Archived {
			t.Errorf("update %s did not archive", update.PageID)
		}
	}
}

func TestDedupeBooksHonorsLimit(t *testing.T) {
	gateway := &fakeGateway{}
	lister := &fakeLister{pages: map[string][]Page{
		"books-db": {
			testBookPage("a", "Same", "", "", nil, nil, ""),
			testBookPage("b", "Same", "", "", nil, nil, ""),
			testBookPage("c", "Same", "", "", nil, nil, ""),
		},
	}}
	m := newTestMaintenance(NewMemoryRecordStore(), gateway, lister)

	report, err := m.DedupeBooks(context.Background(), DedupeOptions{DryRun: false, Limit: 1})
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if report.Archived != 1 {
		t.Fatalf("archived = %d, want 1", report.Archived)
	}
}
