package sagasync

import (
	"context"
	"strings"
)

// ImportRow is one book observation as it arrives from an export file before
// series resolution.
type ImportRow struct {
	Title            string
	Author           string
	ASIN             string
	PurchasedAt      string
	Status           Status
	Source           string
	Owned            bool
	SeriesNameHint   string
	SeriesOrderHint  *float64
	SeriesParentASIN string
}

// MetadataResolution is the series decision for one imported book.
type MetadataResolution struct {
	SeriesName  string
	SeriesKey   string
	SeriesOrder *float64
	SeriesMatch bool
}

// MetadataResolver decides whether an imported book belongs to a series and
// under which key.
type MetadataResolver interface {
	Resolve(ctx context.Context, row ImportRow) (MetadataResolution, error)
}

// HintResolver trusts the series hints carried by the export itself. A row
// with a series name hint is a confident match; anything else stays a
// standalone book.
type HintResolver struct{}

func (HintResolver) Resolve(ctx context.Context, row ImportRow) (MetadataResolution, error) {
	seriesName := strings.TrimSpace(row.SeriesNameHint)
	if seriesName == "" {
		return MetadataResolution{SeriesMatch: false}, nil
	}
	return MetadataResolution{
		SeriesName:  seriesName,
		SeriesKey:   BuildSeriesKey(row.Author, seriesName),
		SeriesOrder: row.SeriesOrderHint,
		SeriesMatch: true,
	}, nil
}
