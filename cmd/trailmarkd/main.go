package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/trailmark-io/trailmark/internal/geo"
	"github.com/trailmark-io/trailmark/internal/relay"
	"github.com/trailmark-io/trailmark/internal/storage"
	"github.com/trailmark-io/trailmark/internal/tokenstore"
	"github.com/trailmark-io/trailmark/internal/tracker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("TRAILMARK_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("TRAILMARK_HTTP_PORT", "8080")
	sheetID := os.Getenv("TRAILMARK_SHEET_ID")
	clientID := os.Getenv("TRAILMARK_CLIENT_ID")
	apiKey := os.Getenv("TRAILMARK_API_KEY")
	dbPath := envOrDefault("TRAILMARK_DB_PATH", "trailmark.db")
	authToken := os.Getenv("TRAILMARK_AUTH_TOKEN")
	ingestKeyHash := os.Getenv("TRAILMARK_INGEST_KEY_HASH")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	cacheTTL := envOrDefaultInt("TRAILMARK_AUTH_CACHE_TTL_S", 30)
	authTimeout := envOrDefaultInt("TRAILMARK_AUTH_TIMEOUT_S", 30)

	if sheetID == "" {
		logger.Fatal("TRAILMARK_SHEET_ID is required")
	}

	logger.Info("starting trailmark daemon",
		zap.String("http_port", httpPort),
		zap.String("sheet_id", sheetID),
		zap.String("db_path", dbPath),
		zap.Int("auth_timeout_s", authTimeout),
	)

	// Durable token store
	store := tokenstore.New(dbPath)
	defer func() { _ = store.Close() }()

	// Mirror — ClickHouse or LogWriter fallback
	var mirror storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			mirror = storage.NewLogWriter(logger)
		} else {
			mirror = chWriter
			logger.Info("clickhouse mirror connected")
		}
	} else {
		mirror = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log mirror")
	}
	defer mirror.Close()

	// Coordinator — the background tracking actor
	coord := tracker.New(tracker.Config{
		Store:       store,
		AuthTimeout: time.Duration(authTimeout) * time.Second,
		Mirror:      mirror,
		Logger:      logger,
	})
	defer coord.Close()

	// ClickHouse reader (for the activity listing endpoint)
	var reader *storage.Reader
	if clickhouseDSN != "" {
		var err error
		reader, err = storage.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = reader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// Relay — the interactive-context side
	deps := &relay.Dependencies{
		Coordinator:   coord,
		Provider:      relay.StaticTokenProvider(authToken),
		Geo:           geo.New("", "", nil, logger),
		Reader:        reader,
		Logger:        logger,
		IngestKeyHash: ingestKeyHash,
		CacheTTL:      time.Duration(cacheTTL) * time.Second,
	}

	pumpCtx, stopPump := context.WithCancel(context.Background())
	defer stopPump()
	go deps.Pump(pumpCtx)

	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      relay.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Kick off configuration and token acquisition
	coord.Send(tracker.InitMsg{Config: tracker.SheetConfig{
		SheetID:  sheetID,
		ClientID: clientID,
		APIKey:   apiKey,
	}})

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("trailmark daemon stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
