package sagasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

const webhookSearchDepth = 16

// NormalizeWebhookEvent digs the ASIN and status hint out of a webhook
// payload. Senders wrap the interesting fields in wildly different envelopes,
// so flat fields are tried first, then a nested body document, then a bounded
// breadth-first search of the whole payload including Notion-style property
// containers.
func NormalizeWebhookEvent(payload []byte) (asin, status string) {
	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return "", ""
	}

	root, _ := document.(map[string]any)
	if root != nil {
		asin = stringField(root, "asin")
		status = stringField(root, "status")
		if asin != "" && status != "" {
			return asin, status
		}
		// Some senders double-encode the payload under a body field.
		if body := stringField(root, "body"); body != "" {
			var inner any
			if json.Unmarshal([]byte(body), &inner) == nil {
				if innerMap, ok := inner.(map[string]any); ok {
					if asin == "" {
						asin = stringField(innerMap, "asin")
					}
					if status == "" {
						status = stringField(innerMap, "status")
					}
					document = inner
				}
			}
		}
	}
	if asin != "" && status != "" {
		return asin, status
	}

	foundASIN, foundStatus := deepSearch(document)
	if asin == "" {
		asin = foundASIN
	}
	if status == "" {
		status = foundStatus
	}
	return asin, status
}

func stringField(document map[string]any, key string) string {
	for k, v := range document {
		if !strings.EqualFold(k, key) {
			continue
		}
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

type searchNode struct {
	value any
	depth int
}

// deepSearch walks the decoded payload breadth first, bounded in depth and
// guarded against cycles, looking for keys whose normalized form ends in
// "asin" or "status".
func deepSearch(document any) (asin, status string) {
	queue := []searchNode{{value: document}}
	visited := map[uintptr]bool{}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.depth > webhookSearchDepth {
			continue
		}
		if ptr, ok := containerPointer(node.value); ok {
			if visited[ptr] {
				continue
			}
			visited[ptr] = true
		}

		switch value := node.value.(type) {
		case map[string]any:
			for key, child := range value {
				normalized := normalizeKey(key)
				if asin == "" && strings.HasSuffix(normalized, "asin") {
					asin = extractPropertyText(child)
				}
				if status == "" && strings.HasSuffix(normalized, "status") {
					status = extractPropertyText(child)
				}
				if asin != "" && status != "" {
					return asin, status
				}
				queue = append(queue, searchNode{value: child, depth: node.depth + 1})
			}
		case []any:
			for _, child := range value {
				queue = append(queue, searchNode{value: child, depth: node.depth + 1})
			}
		}
	}
	return asin, status
}

func containerPointer(value any) (uintptr, bool) {
	switch value.(type) {
	case map[string]any, []any:
		return reflect.ValueOf(value).Pointer(), true
	default:
		return 0, false
	}
}

func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, " ", "")
	key = strings.ReplaceAll(key, "_", "")
	key = strings.ReplaceAll(key, "-", "")
	return key
}

// extractPropertyText unwraps a value that may be a plain string or a Notion
// property container carrying the text under plain_text, name, or content.
func extractPropertyText(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case map[string]any:
		for _, key := range []string{"plain_text", "name", "content"} {
			if s, ok := typed[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
		for _, key := range []string{"title", "rich_text", "status", "select", "text", "formula"} {
			if child, ok := typed[key]; ok {
				if s := extractPropertyText(child); s != "" {
					return s
				}
			}
		}
	case []any:
		for _, child := range typed {
			if s := extractPropertyText(child); s != "" {
				return s
			}
		}
	}
	return ""
}

// ProgressResult reports what a webhook-driven status change did.
type ProgressResult struct {
	Found   bool
	Applied bool
	Book    BookRecord
	Cascade CascadeResult
}

// ApplyProgress moves a known book to the given status and cascades. The
// status can only advance unless it is a discard, which always takes. The
// cascade runs even when the book already sat at the target status, because a
// later snapshot from the source is authoritative for the series.
func (c *Cascader) ApplyProgress(ctx context.Context, asin string, status Status) (ProgressResult, error) {
	asin = strings.TrimSpace(asin)
	if asin == "" {
		return ProgressResult{}, fmt.Errorf("%w: progress update has no asin", ErrInvalidInput)
	}

	record, err := c.store.GetBook(ctx, asin)
	if errors.Is(err, ErrNotFound) {
		c.logger.Info("progress update for unknown book", "asin", asin)
		return ProgressResult{}, nil
	}
	if err != nil {
		return ProgressResult{}, err
	}

	next := MergeStatus(record.Status, status)
	if status == StatusDiscarded {
		next = StatusDiscarded
	}

	result := ProgressResult{Found: true}
	if next != record.Status {
		record.Status = next
		record.UpdatedAt = c.now()
		if record.PageID != "" {
			if _, updateErr := c.gateway.UpdatePage(ctx, record.PageID, statusPatch(next), false); updateErr != nil {
				return result, fmt.Errorf("update book page: %w", updateErr)
			}
		}
		if putErr := c.store.PutBook(ctx, record); putErr != nil {
			if !errors.Is(putErr, ErrConflict) {
				return result, putErr
			}
			latest, getErr := c.store.GetBook(ctx, asin)
			if getErr != nil {
				return result, putErr
			}
			c.logger.Debug("progress update lost write race", "asin", asin)
			record = latest
		} else {
			result.Applied = true
			c.publish(Event{Type: EventBookUpserted, ASIN: asin, SeriesKey: record.SeriesKey, Status: record.Status})
		}
	}
	result.Book = record

	cascade, err := c.Cascade(ctx, CascadeInput{
		ASIN:        asin,
		Title:       record.Title,
		SeriesKey:   record.SeriesKey,
		Status:      record.Status,
		SeriesMatch: &record.SeriesMatch,
	})
	if err != nil {
		return result, err
	}
	result.Cascade = cascade
	return result, nil
}
