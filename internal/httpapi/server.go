package httpapi

import (
	"bytes"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/sagasync/sagasync/internal/sagasync"
)

type ServerConfig struct {
	APIToken        string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

// Server exposes the reconciliation engine over HTTP: webhook endpoints for
// reading-progress signals, a CSV import endpoint, and a websocket event
// stream. All semantics live in the sagasync package; this layer only
// translates requests.
type Server struct {
	cascader    *sagasync.Cascader
	importer    *sagasync.Importer
	events      *sagasync.EventBus
	logger      *slog.Logger
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(cascader *sagasync.Cascader, importer *sagasync.Importer, events *sagasync.EventBus, logger *slog.Logger, cfg ServerConfig) *Server {
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		cascader:    cascader,
		importer:    importer,
		events:      events,
		logger:      logger,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	correlationID := getCorrelationID(r)
	if correlationID == "" {
		correlationID = "req_" + uuid.NewString()
	}

	if authErr := s.authorize(r); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(clientKey(r), time.Now().UTC()) {
		retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return
	}

	switch {
	case r.URL.Path == "/v1/webhooks/started" && r.Method == http.MethodPost:
		s.handleWebhook(w, r, correlationID, sagasync.StatusInProgress, true)
	case r.URL.Path == "/v1/webhooks/finished" && r.Method == http.MethodPost:
		s.handleWebhook(w, r, correlationID, sagasync.StatusFinished, false)
	case r.URL.Path == "/v1/import" && r.Method == http.MethodPost:
		s.handleImport(w, r, correlationID)
	case r.URL.Path == "/v1/events/stream" && r.Method == http.MethodGet:
		s.handleEventStream(w, r, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

// handleWebhook normalizes a progress payload and applies it. The started
// endpoint pins the status; the finished endpoint lets the payload carry a
// more specific status and falls back to the default.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, correlationID string, defaultStatus sagasync.Status, pinned bool) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	if err := sagasync.ValidateWebhookPayload(body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid webhook payload", correlationID)
		return
	}

	asin, rawStatus := sagasync.NormalizeWebhookEvent(body)
	if asin == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "webhook payload has no asin", correlationID)
		return
	}
	status := defaultStatus
	if !pinned {
		if parsed := sagasync.ParseStatusHint(rawStatus); parsed != "" {
			status = parsed
		}
	}

	result, err := s.cascader.ApplyProgress(r.Context(), asin, status)
	if err != nil {
		s.logger.Error("progress update failed", "asin", asin, "correlationId", correlationID, "error", err)
		if errors.Is(err, sagasync.ErrExternalUnavailable) {
			writeError(w, http.StatusBadGateway, "directory_unavailable", "external directory unavailable", correlationID)
			return
		}
		if errors.Is(err, sagasync.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "progress update failed", correlationID)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"found":         result.Found,
		"applied":       result.Applied,
		"status":        result.Book.Status,
		"finalStatus":   result.Cascade.SeriesFinalStatus,
		"updatedBooks":  result.Cascade.UpdatedBooks,
		"correlationId": correlationID,
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, correlationID string) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "upload"
	}
	rows, err := sagasync.ParseAudibleCSV(bytes.NewReader(body), source)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid csv payload", correlationID)
		return
	}
	summary, err := s.importer.ImportRows(r.Context(), rows)
	if err != nil {
		s.logger.Error("import failed", "correlationId", correlationID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "import failed", correlationID)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"runId":         summary.RunID,
		"imported":      summary.Imported,
		"failed":        summary.Failed,
		"updatedBooks":  summary.UpdatedBooks,
		"correlationId": correlationID,
	})
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request, correlationID string) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "not_found", "event stream disabled", correlationID)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := conn.CloseRead(r.Context())
	events, cancel := s.events.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}

func (s *Server) authorize(r *http.Request) *authError {
	if s.cfg.APIToken == "" {
		return nil
	}
	return authorizeBearer(r.Header.Get("Authorization"), s.cfg.APIToken)
}

func clientKey(r *http.Request) string {
	if token := r.Header.Get("Authorization"); token != "" {
		return token
	}
	return r.RemoteAddr
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

func authorizeBearer(authHeader, apiToken string) *authError {
	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing or invalid bearer token"}
	}
	presented := authHeader[len(prefix):]
	if !hmac.Equal([]byte(presented), []byte(apiToken)) {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "invalid api token"}
	}
	return nil
}
