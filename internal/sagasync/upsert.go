package sagasync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Options wires the reconciliation components. Store and Gateway are
// required; the rest default to safe values in newRuntime.
type Options struct {
	Store      RecordStore
	Gateway    DirectoryGateway
	BooksDBID  string
	SeriesDBID string
	Logger     *slog.Logger
	Now        func() int64
	Events     *EventBus
}

type runtime struct {
	store      RecordStore
	gateway    DirectoryGateway
	booksDBID  string
	seriesDBID string
	logger     *slog.Logger
	now        func() int64
	events     *EventBus
}

func newRuntime(opts Options) runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return runtime{
		store:      opts.Store,
		gateway:    opts.Gateway,
		booksDBID:  opts.BooksDBID,
		seriesDBID: opts.SeriesDBID,
		logger:     logger,
		now:        now,
		events:     opts.Events,
	}
}

func (r runtime) publish(event Event) {
	if r.events == nil {
		return
	}
	event.Timestamp = r.now()
	r.events.Publish(event)
}

// Reconciler applies observations about books and series: it merges statuses
// into the record store and keeps the external directory page in step, with
// the store as source of truth.
type Reconciler struct {
	runtime
}

func NewReconciler(opts Options) *Reconciler {
	return &Reconciler{runtime: newRuntime(opts)}
}

// UpsertSeries resolves or creates the directory page for a series and writes
// its record. Standalone books carry no series, so a false seriesMatch is a
// no-op.
func (r *Reconciler) UpsertSeries(ctx context.Context, seriesKey, seriesName string, seriesMatch bool) (SeriesRecord, error) {
	if !seriesMatch || strings.TrimSpace(seriesKey) == "" {
		return SeriesRecord{}, nil
	}
	seriesKey = strings.TrimSpace(seriesKey)

	existing, err := r.store.GetSeries(ctx, seriesKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return SeriesRecord{}, err
	}

	name := strings.TrimSpace(seriesName)
	if name == "" {
		name = existing.SeriesName
	}
	if name == "" {
		name = "Unknown Series"
	}

	record := SeriesRecord{
		SeriesKey:   seriesKey,
		SeriesName:  name,
		FinalStatus: existing.FinalStatus,
		PageID:      existing.PageID,
		UpdatedAt:   r.now(),
	}

	if record.PageID == "" {
		refs, queryErr := r.gateway.QueryByField(ctx, r.seriesDBID, "Series Key", seriesKey)
		if queryErr != nil {
			return SeriesRecord{}, fmt.Errorf("resolve series page: %w", queryErr)
		}
		if len(refs) > 0 {
			record.PageID = refs[0].ID
		}
	}

	if record.PageID != "" {
		if _, updateErr := r.gateway.UpdatePage(ctx, record.PageID, seriesPageProperties(record), false); updateErr != nil {
			return SeriesRecord{}, fmt.Errorf("update series page: %w", updateErr)
		}
	} else {
		ref, createErr := r.gateway.CreatePage(ctx, r.seriesDBID, seriesPageProperties(record))
		if createErr != nil {
			return SeriesRecord{}, fmt.Errorf("create series page: %w", createErr)
		}
		record.PageID = ref.ID
	}

	if putErr := r.store.PutSeries(ctx, record); putErr != nil {
		if !errors.Is(putErr, ErrConflict) {
			return SeriesRecord{}, putErr
		}
		// A newer write landed first; its view is authoritative.
		latest, getErr := r.store.GetSeries(ctx, seriesKey)
		if getErr != nil {
			return SeriesRecord{}, putErr
		}
		r.logger.Debug("series upsert lost write race", "seriesKey", seriesKey)
		return latest, nil
	}

	r.publish(Event{Type: EventSeriesUpserted, SeriesKey: seriesKey, Status: record.FinalStatus})
	return record, nil
}

// UpsertBook merges one observation into the book record and its directory
// page. The status can only advance unless the observation forces a discard.
// The page write happens before the store write so a directory failure leaves
// the source of truth untouched.
func (r *Reconciler) UpsertBook(ctx context.Context, obs Observation) (BookRecord, error) {
	asin := strings.TrimSpace(obs.ASIN)
	if asin == "" {
		return BookRecord{}, fmt.Errorf("%w: observation has no asin", ErrInvalidInput)
	}

	existing, err := r.store.GetBook(ctx, asin)
	existed := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return BookRecord{}, err
	}

	status := MergeStatus(existing.Status, obs.StatusHint)
	if obs.ForceDiscard {
		status = StatusDiscarded
	}

	// Series membership is sticky: once matched, later observations without
	// series info never detach the book.
	seriesMatch := obs.SeriesMatch || existing.SeriesMatch
	seriesKey := obs.SeriesKey
	if seriesKey == "" {
		seriesKey = existing.SeriesKey
	}

	owned := true
	if obs.OwnedHint != nil {
		owned = *obs.OwnedHint
	} else if existed {
		owned = existing.Owned
	}

	record := BookRecord{
		ASIN:        asin,
		Title:       firstNonEmpty(obs.Title, existing.Title),
		Author:      firstNonEmpty(obs.Author, existing.Author),
		SeriesKey:   seriesKey,
		Status:      status,
		PageID:      existing.PageID,
		SeriesOrder: obs.SeriesOrder,
		PurchasedAt: firstNonEmpty(obs.PurchasedAt, existing.PurchasedAt),
		Source:      firstNonEmpty(obs.Source, existing.Source),
		Owned:       owned,
		SeriesMatch: seriesMatch,
		UpdatedAt:   r.now(),
	}
	if record.SeriesOrder == nil {
		record.SeriesOrder = existing.SeriesOrder
	}

	if record.PageID == "" {
		refs, queryErr := r.gateway.QueryByField(ctx, r.booksDBID, "ASIN", asin)
		if queryErr != nil {
			return BookRecord{}, fmt.Errorf("resolve book page: %w", queryErr)
		}
		if len(refs) > 0 {
			record.PageID = refs[0].ID
		}
	}

	props := bookPageProperties(record)
	if seriesMatch && obs.SeriesPageID != "" {
		props["Series"] = RelationProperty(obs.SeriesPageID)
	}

	if record.PageID != "" {
		if _, updateErr := r.gateway.UpdatePage(ctx, record.PageID, props, false); updateErr != nil {
			return BookRecord{}, fmt.Errorf("update book page: %w", updateErr)
		}
	} else {
		ref, createErr := r.gateway.CreatePage(ctx, r.booksDBID, props)
		if createErr != nil {
			return BookRecord{}, fmt.Errorf("create book page: %w", createErr)
		}
		record.PageID = ref.ID
	}

	if putErr := r.store.PutBook(ctx, record); putErr != nil {
		if !errors.Is(putErr, ErrConflict) {
			return BookRecord{}, putErr
		}
		// Another writer got there first. When its record already points at a
		// page the directory work above was idempotent and the loss is benign.
		latest, getErr := r.store.GetBook(ctx, asin)
		if getErr == nil && latest.PageID != "" {
			r.logger.Debug("book upsert lost write race", "asin", asin)
			return latest, nil
		}
		return BookRecord{}, putErr
	}

	r.publish(Event{Type: EventBookUpserted, ASIN: asin, SeriesKey: record.SeriesKey, Status: record.Status})
	return record, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
