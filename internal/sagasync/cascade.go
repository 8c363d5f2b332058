package sagasync

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Cascader propagates a book status change to its series: discards fan out to
// unfinished siblings, everything else recomputes the series final status.
type Cascader struct {
	runtime
}

func NewCascader(opts Options) *Cascader {
	return &Cascader{runtime: newRuntime(opts)}
}

// CascadeInput describes the book change that triggers the cascade. When
// SeriesMatch is nil the book record supplies it.
type CascadeInput struct {
	ASIN        string
	Title       string
	SeriesKey   string
	Status      Status
	SeriesMatch *bool
}

type CascadeResult struct {
	UpdatedBooks      int
	SeriesFinalStatus Status
}

// Cascade applies the series-level consequences of a book status change.
// Standalone books are a no-op. A book that matched a series but never
// resolved a key yields a fallback final status without touching any sibling.
func (c *Cascader) Cascade(ctx context.Context, in CascadeInput) (CascadeResult, error) {
	asin := strings.TrimSpace(in.ASIN)
	if asin == "" {
		return CascadeResult{}, fmt.Errorf("%w: cascade has no asin", ErrInvalidInput)
	}

	seriesMatch := in.SeriesMatch != nil && *in.SeriesMatch
	seriesKey := strings.TrimSpace(in.SeriesKey)
	title := in.Title
	if in.SeriesMatch == nil {
		record, err := c.store.GetBook(ctx, asin)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return CascadeResult{}, nil
			}
			return CascadeResult{}, err
		}
		seriesMatch = record.SeriesMatch
		if seriesKey == "" {
			seriesKey = record.SeriesKey
		}
		if title == "" {
			title = record.Title
		}
	}

	if !seriesMatch {
		// Standalone books report their own status; nothing is persisted.
		return CascadeResult{SeriesFinalStatus: in.Status}, nil
	}

	if seriesKey == "" {
		fallback := in.Status
		if Rank(fallback) < 0 {
			fallback = StatusNotStarted
		}
		c.logger.Info("cascade skipped, series key unresolved", "asin", asin, "finalStatus", fallback)
		c.publish(Event{Type: EventCascadeApplied, ASIN: asin, Status: fallback})
		return CascadeResult{SeriesFinalStatus: fallback}, nil
	}

	members, err := c.store.ListBooksBySeries(ctx, seriesKey)
	if err != nil {
		return CascadeResult{}, err
	}

	result := CascadeResult{}
	if in.Status == StatusDiscarded {
		result.UpdatedBooks = c.discardMembers(ctx, members)
		for i := range members {
			if !members[i].SeriesMatch {
				continue
			}
			if members[i].Status != StatusFinished && members[i].Status != StatusDiscarded {
				members[i].Status = StatusDiscarded
			}
		}
	}

	statuses := make([]Status, 0, len(members)+1)
	triggerSeen := false
	for _, member := range members {
		if !member.SeriesMatch {
			continue
		}
		status := member.Status
		if member.ASIN == asin {
			status = in.Status
			triggerSeen = true
		}
		statuses = append(statuses, status)
	}
	if !triggerSeen {
		statuses = append(statuses, in.Status)
	}
	final := SeriesAggregate(statuses)
	result.SeriesFinalStatus = final

	existing, err := c.store.GetSeries(ctx, seriesKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return result, err
	}

	name := firstNonEmpty(existing.SeriesName, title, "Unknown Series")

	// The series page patch must land before the store write so a directory
	// failure never leaves the store ahead of the page.
	if existing.PageID != "" && final != existing.FinalStatus {
		if _, updateErr := c.gateway.UpdatePage(ctx, existing.PageID, finalStatusPatch(final), false); updateErr != nil {
			return result, fmt.Errorf("update series page: %w", updateErr)
		}
	}

	record := SeriesRecord{
		SeriesKey:   seriesKey,
		SeriesName:  name,
		FinalStatus: final,
		PageID:      existing.PageID,
		UpdatedAt:   c.now(),
	}
	if putErr := c.store.PutSeries(ctx, record); putErr != nil {
		if !errors.Is(putErr, ErrConflict) {
			return result, putErr
		}
		c.logger.Debug("series cascade lost write race", "seriesKey", seriesKey)
	}

	c.logger.Info("cascade applied",
		"asin", asin, "seriesKey", seriesKey, "finalStatus", final, "updatedBooks", result.UpdatedBooks)
	c.publish(Event{
		Type:         EventCascadeApplied,
		ASIN:         asin,
		SeriesKey:    seriesKey,
		Status:       final,
		UpdatedBooks: result.UpdatedBooks,
	})
	return result, nil
}

// discardMembers marks every unfinished member, the trigger included, as
// Discarded. A failing page patch or a lost write race skips that member; the
// cascade carries on.
func (c *Cascader) discardMembers(ctx context.Context, members []BookRecord) int {
	updated := 0
	for _, member := range members {
		if !member.SeriesMatch {
			continue
		}
		if member.Status == StatusFinished || member.Status == StatusDiscarded {
			continue
		}
		if member.PageID != "" {
			if _, err := c.gateway.UpdatePage(ctx, member.PageID, statusPatch(StatusDiscarded), false); err != nil {
				c.logger.Warn("sibling page patch failed", "asin", member.ASIN, "error", err)
				continue
			}
		}
		member.Status = StatusDiscarded
		member.UpdatedAt = c.now()
		if err := c.store.PutBook(ctx, member); err != nil {
			if errors.Is(err, ErrConflict) {
				c.logger.Debug("sibling discard lost write race", "asin", member.ASIN)
				continue
			}
			c.logger.Warn("sibling store write failed", "asin", member.ASIN, "error", err)
			continue
		}
		updated++
	}
	return updated
}
