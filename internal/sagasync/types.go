package sagasync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("write conflict")
	ErrInvalidInput        = errors.New("invalid input")
	ErrExternalUnavailable = errors.New("external directory unavailable")
	ErrNotImplemented      = errors.New("not implemented")
)

// ConflictError reports a conditional put that lost to a record whose logical
// timestamp is at least as new. Matches ErrConflict via errors.Is.
type ConflictError struct {
	Key                string
	StoredTimestamp    int64
	AttemptedTimestamp int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("write conflict on %s: stored=%d attempted=%d", e.Key, e.StoredTimestamp, e.AttemptedTimestamp)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// BookRecord is the authoritative state of one book, keyed by ASIN. UpdatedAt
// is a logical write-ordering timestamp (epoch millis), not wall-clock truth.
type BookRecord struct {
	ASIN        string   `json:"asin"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	SeriesKey   string   `json:"seriesKey,omitempty"`
	Status      Status   `json:"status"`
	PageID      string   `json:"pageId,omitempty"`
	SeriesOrder *float64 `json:"seriesOrder,omitempty"`
	PurchasedAt string   `json:"purchasedAt,omitempty"`
	Source      string   `json:"source,omitempty"`
	Owned       bool     `json:"owned"`
	SeriesMatch bool     `json:"seriesMatch"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// SeriesRecord is the aggregate state of a series, keyed by the derived
// series key.
type SeriesRecord struct {
	SeriesKey   string `json:"seriesKey"`
	SeriesName  string `json:"seriesName"`
	FinalStatus Status `json:"finalStatus,omitempty"`
	PageID      string `json:"pageId,omitempty"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// Observation is one normalized inbound signal about a book, produced by the
// import pipeline or a webhook. Optional fields are zero when absent.
type Observation struct {
	ASIN         string
	Title        string
	Author       string
	SeriesKey    string
	SeriesPageID string
	StatusHint   Status
	ForceDiscard bool
	SeriesOrder  *float64
	PurchasedAt  string
	Source       string
	OwnedHint    *bool
	SeriesMatch  bool
}

// BuildSeriesKey derives the stable composite series identifier from an
// author and series name. Absent parts collapse to placeholders so the key is
// always well-formed.
func BuildSeriesKey(author, seriesName string) string {
	safeAuthor := strings.ToLower(strings.TrimSpace(author))
	if safeAuthor == "" {
		safeAuthor = "unknown-author"
	}
	safeSeries := strings.ToLower(strings.TrimSpace(seriesName))
	if safeSeries == "" {
		safeSeries = "unknown-series"
	}
	return safeAuthor + "|" + safeSeries
}
