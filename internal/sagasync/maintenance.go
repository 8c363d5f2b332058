package sagasync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// MaintenanceOptions extends the shared options with the page lister and the
// pacing delay between directory writes during sweeps.
type MaintenanceOptions struct {
	Options
	Lister DirectoryLister
	Pace   time.Duration
}

// Maintenance bundles the offline repair operations: series recomputation
// from the store, directory resets, and duplicate page cleanup.
type Maintenance struct {
	runtime
	lister   DirectoryLister
	cascader *Cascader
	pace     time.Duration
}

func NewMaintenance(opts MaintenanceOptions) *Maintenance {
	pace := opts.Pace
	if pace <= 0 {
		pace = 350 * time.Millisecond
	}
	return &Maintenance{
		runtime:  newRuntime(opts.Options),
		lister:   opts.Lister,
		cascader: NewCascader(opts.Options),
		pace:     pace,
	}
}

// RecomputeSeries re-runs the cascade for every series in the store, using
// one member book per series as the trigger. With dryRun it only reports how
// many series would be touched.
func (m *Maintenance) RecomputeSeries(ctx context.Context, dryRun bool) (int, error) {
	books, err := m.store.ListBooks(ctx)
	if err != nil {
		return 0, err
	}
	representatives := map[string]BookRecord{}
	for _, book := range books {
		if !book.SeriesMatch || book.SeriesKey == "" {
			continue
		}
		if _, ok := representatives[book.SeriesKey]; !ok {
			representatives[book.SeriesKey] = book
		}
	}
	if dryRun {
		m.logger.Info("series recompute dry run", "series", len(representatives))
		return len(representatives), nil
	}

	recomputed := 0
	for seriesKey, book := range representatives {
		_, cascadeErr := m.cascader.Cascade(ctx, CascadeInput{
			ASIN:        book.ASIN,
			Title:       book.Title,
			SeriesKey:   seriesKey,
			Status:      book.Status,
			SeriesMatch: &book.SeriesMatch,
		})
		if cascadeErr != nil {
			m.logger.Warn("series recompute failed", "seriesKey", seriesKey, "error", cascadeErr)
			continue
		}
		recomputed++
	}
	m.logger.Info("series recompute finished", "series", recomputed)
	return recomputed, nil
}

// ResetDirectory archives every active page in the books and series
// databases, paced to stay under the directory's rate limits. The record
// store is left untouched.
func (m *Maintenance) ResetDirectory(ctx context.Context, dryRun bool) (int, error) {
	if m.lister == nil {
		return 0, fmt.Errorf("%w: directory lister is required", ErrInvalidInput)
	}
	archived := 0
	for _, databaseID := range []string{m.booksDBID, m.seriesDBID} {
		if databaseID == "" {
			continue
		}
		pages, err := m.lister.ListPages(ctx, databaseID)
		if err != nil {
			return archived, err
		}
		for _, page := range pages {
			if page.Archived {
				continue
			}
			if dryRun {
				archived++
				continue
			}
			if _, err := m.gateway.UpdatePage(ctx, page.ID, nil, true); err != nil {
				m.logger.Warn("page archive failed", "pageId", page.ID, "error", err)
				continue
			}
			archived++
			if err := sleepContext(ctx, m.pace); err != nil {
				return archived, err
			}
		}
	}
	m.logger.Info("directory reset finished", "archived", archived, "dryRun", dryRun)
	return archived, nil
}

type DedupeOptions struct {
	DryRun bool
	Limit  int
}

type DedupeReport struct {
	Groups   int
	Archived int
	Kept     []string
}

// DedupeBooks finds duplicate book pages by title plus series relation and
// archives all but the best candidate of each group. Pages whose ASIN is
// known to the store win, then richer pages, then the most recently edited.
func (m *Maintenance) DedupeBooks(ctx context.Context, opts DedupeOptions) (DedupeReport, error) {
	report := DedupeReport{}
	if m.lister == nil {
		return report, fmt.Errorf("%w: directory lister is required", ErrInvalidInput)
	}
	pages, err := m.lister.ListPages(ctx, m.booksDBID)
	if err != nil {
		return report, err
	}

	groups := map[string][]Page{}
	for _, page := range pages {
		if page.Archived {
			continue
		}
		title := strings.ToLower(strings.TrimSpace(page.PlainText("Name")))
		if title == "" {
			continue
		}
		relations := page.RelationIDs("Series")
		sort.Strings(relations)
		key := title + "|" + strings.Join(relations, ",")
		groups[key] = append(groups[key], page)
	}

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		report.Groups++
		keeper := group[0]
		keeperScore := m.dedupeScore(ctx, keeper)
		for _, candidate := range group[1:] {
			if score := m.dedupeScore(ctx, candidate); score > keeperScore {
				keeper, keeperScore = candidate, score
			}
		}
		report.Kept = append(report.Kept, keeper.ID)

		for _, page := range group {
			if page.ID == keeper.ID {
				continue
			}
			if opts.Limit > 0 && report.Archived >= opts.Limit {
				return report, nil
			}
			if opts.DryRun {
				report.Archived++
				continue
			}
			if _, err := m.gateway.UpdatePage(ctx, page.ID, nil, true); err != nil {
				m.logger.Warn("duplicate archive failed", "pageId", page.ID, "error", err)
				continue
			}
			report.Archived++
			if err := sleepContext(ctx, m.pace); err != nil {
				return report, err
			}
		}
	}
	m.logger.Info("dedupe finished", "groups", report.Groups, "archived", report.Archived, "dryRun", opts.DryRun)
	return report, nil
}

// dedupeScore ranks a duplicate candidate: store-backed pages dominate, then
// pages carrying a series order, then more advanced statuses, then recency.
func (m *Maintenance) dedupeScore(ctx context.Context, page Page) int64 {
	var score int64
	if asin := strings.TrimSpace(page.PlainText("ASIN")); asin != "" {
		if _, err := m.store.GetBook(ctx, asin); err == nil {
			score += 10000
		} else if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("dedupe store lookup failed", "asin", asin, "error", err)
		}
	}
	if page.Number("Series Order") != nil {
		score += 1000
	}
	if rank := Rank(Status(page.StatusName("Status"))); rank > 0 {
		score += int64(rank) * 100
	}
	if !page.LastEditedAt.IsZero() {
		score += page.LastEditedAt.Unix() / 1000
	}
	return score
}
