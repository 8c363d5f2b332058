package sagasync

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// ImportSummary reports the outcome of one import run.
type ImportSummary struct {
	RunID        string
	Imported     int
	Failed       int
	UpdatedBooks int
}

// Importer drives the full pipeline for export files: resolve series
// metadata, upsert the series and the book, then cascade.
type Importer struct {
	resolver   MetadataResolver
	reconciler *Reconciler
	cascader   *Cascader
	logger     *slog.Logger
}

func NewImporter(resolver MetadataResolver, reconciler *Reconciler, cascader *Cascader, logger *slog.Logger) *Importer {
	if resolver == nil {
		resolver = HintResolver{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Importer{resolver: resolver, reconciler: reconciler, cascader: cascader, logger: logger}
}

// ImportRows processes rows independently: one bad row is logged and counted,
// the rest of the run continues.
func (imp *Importer) ImportRows(ctx context.Context, rows []ImportRow) (ImportSummary, error) {
	summary := ImportSummary{RunID: "imp_" + uuid.NewString()}
	logger := imp.logger.With("runId", summary.RunID)
	logger.Info("import run started", "rows", len(rows))

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		updated, err := imp.importRow(ctx, row)
		if err != nil {
			summary.Failed++
			logger.Warn("import row failed", "asin", row.ASIN, "title", row.Title, "error", err)
			continue
		}
		summary.Imported++
		summary.UpdatedBooks += updated
	}

	logger.Info("import run finished",
		"imported", summary.Imported, "failed", summary.Failed, "updatedBooks", summary.UpdatedBooks)
	return summary, nil
}

func (imp *Importer) importRow(ctx context.Context, row ImportRow) (int, error) {
	resolution, err := imp.resolver.Resolve(ctx, row)
	if err != nil {
		return 0, err
	}

	series, err := imp.reconciler.UpsertSeries(ctx, resolution.SeriesKey, resolution.SeriesName, resolution.SeriesMatch)
	if err != nil {
		return 0, err
	}

	owned := row.Owned
	order := resolution.SeriesOrder
	if order == nil {
		order = row.SeriesOrderHint
	}
	book, err := imp.reconciler.UpsertBook(ctx, Observation{
		ASIN:         row.ASIN,
		Title:        row.Title,
		Author:       row.Author,
		SeriesKey:    resolution.SeriesKey,
		SeriesPageID: series.PageID,
		StatusHint:   row.Status,
		SeriesOrder:  order,
		PurchasedAt:  row.PurchasedAt,
		Source:       row.Source,
		OwnedHint:    &owned,
		SeriesMatch:  resolution.SeriesMatch,
	})
	if err != nil {
		return 0, err
	}

	cascade, err := imp.cascader.Cascade(ctx, CascadeInput{
		ASIN:        book.ASIN,
		Title:       book.Title,
		SeriesKey:   book.SeriesKey,
		Status:      book.Status,
		SeriesMatch: &book.SeriesMatch,
	})
	if err != nil {
		return 0, err
	}
	return cascade.UpdatedBooks, nil
}

// ImportFile parses and imports a single export file. The source label
// defaults to the file name.
func (imp *Importer) ImportFile(ctx context.Context, path, source string) (ImportSummary, error) {
	if source == "" {
		source = filepath.Base(path)
	}
	file, err := os.Open(path)
	if err != nil {
		return ImportSummary{}, err
	}
	defer file.Close()

	rows, err := ParseAudibleCSV(file, source)
	if err != nil {
		return ImportSummary{}, err
	}
	return imp.ImportRows(ctx, rows)
}

// WatchDirectory imports every CSV file dropped into dir until the context is
// canceled. Import failures are logged and do not stop the watch.
func (imp *Importer) WatchDirectory(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	imp.logger.Info("watching import directory", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".csv") {
				continue
			}
			summary, importErr := imp.ImportFile(ctx, event.Name, "")
			if importErr != nil {
				imp.logger.Warn("watched import failed", "file", event.Name, "error", importErr)
				continue
			}
			imp.logger.Info("watched import finished",
				"file", event.Name, "runId", summary.RunID, "imported", summary.Imported, "failed", summary.Failed)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			imp.logger.Warn("watch error", "error", watchErr)
		}
	}
}
