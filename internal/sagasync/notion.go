package sagasync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PageRef identifies a page in the external directory.
type PageRef struct {
	ID       string
	Archived bool
}

// DirectoryGateway is the external document store mirroring the record
// stores. Errors carry a distinguishable rate-limited/conflict class and all
// match ErrExternalUnavailable once surfaced to callers.
type DirectoryGateway interface {
	QueryByField(ctx context.Context, databaseID, property, value string) ([]PageRef, error)
	CreatePage(ctx context.Context, databaseID string, properties PageProperties) (PageRef, error)
	UpdatePage(ctx context.Context, pageID string, properties PageProperties, archived bool) (PageRef, error)
}

// DirectoryLister enumerates every page of a database, used by maintenance
// operations that sweep whole databases.
type DirectoryLister interface {
	ListPages(ctx context.Context, databaseID string) ([]Page, error)
}

// DirectoryError is a non-2xx response from the directory after retries.
type DirectoryError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *DirectoryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("directory request failed: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("directory request failed: status=%d message=%s", e.StatusCode, e.Message)
}

func (e *DirectoryError) Is(target error) bool {
	return target == ErrExternalUnavailable
}

func (e *DirectoryError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (e *DirectoryError) Conflict() bool {
	return e.StatusCode == http.StatusConflict || e.Code == "conflict_error"
}

type AccessTokenProvider func(ctx context.Context) (string, error)

// StaticToken adapts a fixed token string to an AccessTokenProvider.
func StaticToken(token string) AccessTokenProvider {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

type DirectoryGatewayOptions struct {
	BaseURL          string
	TokenProvider    AccessTokenProvider
	HTTPClient       *http.Client
	APIVersion       string
	UserAgent        string
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	ConflictAttempts int
	ConflictDelay    time.Duration
}

// HTTPDirectoryGateway talks to the Notion API. Rate-limited and transient
// server responses are retried up to MaxAttempts with a delay proportional to
// the attempt number, honoring a Retry-After hint when present. Page updates
// additionally get a small separate conflict-retry budget.
type HTTPDirectoryGateway struct {
	baseURL          string
	tokenProvider    AccessTokenProvider
	httpClient       *http.Client
	apiVersion       string
	userAgent        string
	maxAttempts      int
	baseDelay        time.Duration
	maxDelay         time.Duration
	conflictAttempts int
	conflictDelay    time.Duration
}

func NewHTTPDirectoryGateway(opts DirectoryGatewayOptions) *HTTPDirectoryGateway {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	conflictAttempts := opts.ConflictAttempts
	if conflictAttempts <= 0 {
		conflictAttempts = 3
	}
	conflictDelay := opts.ConflictDelay
	if conflictDelay <= 0 {
		conflictDelay = 150 * time.Millisecond
	}
	return &HTTPDirectoryGateway{
		baseURL:          baseURL,
		tokenProvider:    opts.TokenProvider,
		httpClient:       httpClient,
		apiVersion:       apiVersion,
		userAgent:        strings.TrimSpace(opts.UserAgent),
		maxAttempts:      maxAttempts,
		baseDelay:        baseDelay,
		maxDelay:         maxDelay,
		conflictAttempts: conflictAttempts,
		conflictDelay:    conflictDelay,
	}
}

type pageBody struct {
	ID             string                    `json:"id"`
	Archived       bool                      `json:"archived"`
	LastEditedTime string                    `json:"last_edited_time"`
	Properties     map[string]propertyDetail `json:"properties"`
}

type queryResponseBody struct {
	Results    []pageBody `json:"results"`
	HasMore    bool       `json:"has_more"`
	NextCursor *string    `json:"next_cursor"`
}

type queryRequestBody struct {
	Filter      *propertyFilter `json:"filter,omitempty"`
	PageSize    int             `json:"page_size,omitempty"`
	StartCursor string          `json:"start_cursor,omitempty"`
}

type propertyFilter struct {
	Property string      `json:"property"`
	RichText *textEquals `json:"rich_text,omitempty"`
}

type textEquals struct {
	Equals string `json:"equals"`
}

type createPageBody struct {
	Parent     pageParent     `json:"parent"`
	Properties PageProperties `json:"properties"`
}

type pageParent struct {
	DatabaseID string `json:"database_id"`
}

type patchPageBody struct {
	Properties PageProperties `json:"properties"`
	Archived   bool           `json:"archived"`
}

func (g *HTTPDirectoryGateway) QueryByField(ctx context.Context, databaseID, property, value string) ([]PageRef, error) {
	var response queryResponseBody
	payload := queryRequestBody{
		Filter:   &propertyFilter{Property: property, RichText: &textEquals{Equals: value}},
		PageSize: 1,
	}
	if err := g.request(ctx, http.MethodPost, "/v1/databases/"+databaseID+"/query", payload, &response); err != nil {
		return nil, err
	}
	refs := make([]PageRef, 0, len(response.Results))
	for _, page := range response.Results {
		refs = append(refs, PageRef{ID: page.ID, Archived: page.Archived})
	}
	return refs, nil
}

func (g *HTTPDirectoryGateway) CreatePage(ctx context.Context, databaseID string, properties PageProperties) (PageRef, error) {
	var response pageBody
	payload := createPageBody{Parent: pageParent{DatabaseID: databaseID}, Properties: properties}
	if err := g.request(ctx, http.MethodPost, "/v1/pages", payload, &response); err != nil {
		return PageRef{}, err
	}
	return PageRef{ID: response.ID, Archived: response.Archived}, nil
}

func (g *HTTPDirectoryGateway) UpdatePage(ctx context.Context, pageID string, properties PageProperties, archived bool) (PageRef, error) {
	if properties == nil {
		properties = PageProperties{}
	}
	payload := patchPageBody{Properties: properties, Archived: archived}

	var lastErr error
	for attempt := 1; attempt <= g.conflictAttempts; attempt++ {
		var response pageBody
		err := g.request(ctx, http.MethodPatch, "/v1/pages/"+pageID, payload, &response)
		if err == nil {
			return PageRef{ID: response.ID, Archived: response.Archived}, nil
		}
		lastErr = err
		var dirErr *DirectoryError
		if !errors.As(err, &dirErr) || !dirErr.Conflict() || attempt == g.conflictAttempts {
			return PageRef{}, err
		}
		if waitErr := sleepContext(ctx, g.conflictDelay*time.Duration(attempt)); waitErr != nil {
			return PageRef{}, waitErr
		}
	}
	return PageRef{}, lastErr
}

// ListPages walks a database page by page following next_cursor.
func (g *HTTPDirectoryGateway) ListPages(ctx context.Context, databaseID string) ([]Page, error) {
	var pages []Page
	cursor := ""
	for {
		var response queryResponseBody
		payload := queryRequestBody{PageSize: 100, StartCursor: cursor}
		if err := g.request(ctx, http.MethodPost, "/v1/databases/"+databaseID+"/query", payload, &response); err != nil {
			return nil, err
		}
		for _, body := range response.Results {
			pages = append(pages, newPage(body))
		}
		if !response.HasMore || response.NextCursor == nil || *response.NextCursor == "" {
			return pages, nil
		}
		cursor = *response.NextCursor
	}
}

func (g *HTTPDirectoryGateway) request(ctx context.Context, method, path string, payload, out any) error {
	tokenProvider := g.tokenProvider
	if tokenProvider == nil {
		return fmt.Errorf("directory token provider is required")
	}
	token, err := tokenProvider(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("directory token is empty")
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := g.baseURL + path
	correlationID := "dir_" + uuid.NewString()

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Notion-Version", g.apiVersion)
		req.Header.Set("X-Correlation-Id", correlationID)
		if g.userAgent != "" {
			req.Header.Set("User-Agent", g.userAgent)
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			if attempt < g.maxAttempts-1 {
				if waitErr := sleepContext(ctx, g.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%w: %v", ErrExternalUnavailable, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}

		transient := resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)
		if transient && attempt < g.maxAttempts-1 {
			if waitErr := sleepContext(ctx, g.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		dirErr := &DirectoryError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed map[string]any
		if json.Unmarshal(respBody, &parsed) == nil {
			if code, ok := parsed["code"].(string); ok {
				dirErr.Code = code
			}
			if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
				dirErr.Message = message
			}
		}
		return dirErr
	}
}

func (g *HTTPDirectoryGateway) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > g.maxDelay {
			return g.maxDelay
		}
		return retryAfter
	}
	delay := g.baseDelay * time.Duration(attempt)
	if delay > g.maxDelay {
		return g.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(header, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
