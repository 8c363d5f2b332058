package sagasync

import (
	"context"
	"testing"
)

func TestHintResolverWithSeriesHint(t *testing.T) {
	resolution, err := HintResolver{}.Resolve(context.Background(), ImportRow{
		Title:           "Book One",
		Author:          "Jane Writer",
		SeriesNameHint:  " Great Saga ",
		SeriesOrderHint: floatPtr(1),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolution.SeriesMatch {
		t.Fatal("series hint did not produce a match")
	}
	if resolution.SeriesName != "Great Saga" {
		t.Errorf("series name = %q", resolution.SeriesName)
	}
	if resolution.SeriesKey != "jane writer|great saga" {
		t.Errorf("series key = %q", resolution.SeriesKey)
	}
	if resolution.SeriesOrder == nil || *resolution.SeriesOrder != 1 {
		t.Errorf("series order = %v", resolution.SeriesOrder)
	}
}

func TestHintResolverWithoutHintIsStandalone(t *testing.T) {
	resolution, err := HintResolver{}.Resolve(context.Background(), ImportRow{Title: "Standalone", Author: "Someone"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolution.SeriesMatch || resolution.SeriesKey != "" {
		t.Errorf("resolution = %+v, want standalone", resolution)
	}
}

func TestBuildSeriesKey(t *testing.T) {
	if got := BuildSeriesKey(" Jane Writer ", " Great Saga "); got != "jane writer|great saga" {
		t.Errorf("key = %q", got)
	}
	if got := BuildSeriesKey("", "Saga"); got != "unknown-author|saga" {
		t.Errorf("key = %q", got)
	}
	if got := BuildSeriesKey("Jane", ""); got != "jane|unknown-series" {
		t.Errorf("key = %q", got)
	}
}
