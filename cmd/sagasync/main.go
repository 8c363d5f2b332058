package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sagasync/sagasync/internal/httpapi"
	"github.com/sagasync/sagasync/internal/sagasync"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	addr := os.Getenv("SAGASYNC_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, err := buildRecordStoreFromEnv()
	if err != nil {
		logger.Error("failed to initialize record store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	gateway := sagasync.NewHTTPDirectoryGateway(sagasync.DirectoryGatewayOptions{
		BaseURL:       os.Getenv("SAGASYNC_DIRECTORY_URL"),
		TokenProvider: sagasync.StaticToken(os.Getenv("SAGASYNC_NOTION_TOKEN")),
		MaxAttempts:   intEnv("SAGASYNC_DIRECTORY_MAX_ATTEMPTS", 0, logger),
		BaseDelay:     durationEnv("SAGASYNC_DIRECTORY_RETRY_DELAY", 0, logger),
	})

	events := sagasync.NewEventBus()
	opts := sagasync.Options{
		Store:      store,
		Gateway:    gateway,
		BooksDBID:  os.Getenv("SAGASYNC_BOOKS_DB_ID"),
		SeriesDBID: os.Getenv("SAGASYNC_SERIES_DB_ID"),
		Logger:     logger,
		Events:     events,
	}
	reconciler := sagasync.NewReconciler(opts)
	cascader := sagasync.NewCascader(opts)
	importer := sagasync.NewImporter(sagasync.HintResolver{}, reconciler, cascader, logger)

	if watchDir := strings.TrimSpace(os.Getenv("SAGASYNC_WATCH_DIR")); watchDir != "" {
		go func() {
			if err := importer.WatchDirectory(context.Background(), watchDir); err != nil && err != context.Canceled {
				logger.Error("import watch stopped", "dir", watchDir, "error", err)
			}
		}()
	}

	server := httpapi.NewServer(cascader, importer, events, logger, httpapi.ServerConfig{
		APIToken:        os.Getenv("SAGASYNC_API_TOKEN"),
		RateLimitMax:    intEnv("SAGASYNC_RATE_LIMIT_MAX", 0, logger),
		RateLimitWindow: durationEnv("SAGASYNC_RATE_LIMIT_WINDOW", time.Minute, logger),
		MaxBodyBytes:    int64Env("SAGASYNC_MAX_BODY_BYTES", 0, logger),
	})

	logger.Info("sagasync listening", "addr", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func buildRecordStoreFromEnv() (sagasync.RecordStore, error) {
	dsn := strings.TrimSpace(os.Getenv("SAGASYNC_STORE_DSN"))
	if dsn == "" {
		dataDir := strings.TrimSpace(os.Getenv("SAGASYNC_DATA_DIR"))
		if dataDir == "" {
			dataDir = ".sagasync"
		}
		dsn = "bolt://" + filepath.Join(dataDir, "records.db")
	}
	return sagasync.BuildRecordStoreFromDSN(dsn)
}

func intEnv(name string, fallback int, logger *slog.Logger) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("invalid env value, using fallback", "name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64, logger *slog.Logger) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Warn("invalid env value, using fallback", "name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration, logger *slog.Logger) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("invalid env value, using fallback", "name", name, "value", raw, "fallback", fallback.String())
		return fallback
	}
	return value
}
