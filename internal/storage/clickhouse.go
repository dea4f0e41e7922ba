package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseWriter mirrors activity events to ClickHouse asynchronously.
// Write() is non-blocking — records are buffered and batch-inserted in a
// background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *ActivityRecord
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background
// flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ParseDSN sets TLS when ?secure=true is in the DSN; enforce it here as
	// a safety net for cloud deployments.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *ActivityRecord, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

// Write queues an activity record for async insertion.
// Non-blocking: drops the record if the buffer is full.
func (w *ClickHouseWriter) Write(record *ActivityRecord) {
	select {
	case w.buffer <- record:
	default:
		w.logger.Warn("clickhouse buffer full, dropping record",
			zap.String("event_id", record.EventID),
		)
	}
}

// Close signals the flush loop to drain remaining records, waits for it to
// finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*ActivityRecord, 0, flushBatch)

	for {
		select {
		case record := <-w.buffer:
			batch = append(batch, record)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			// Drain remaining records from buffer
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case record := <-w.buffer:
					batch = append(batch, record)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(records []*ActivityRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO activity_events (
			event_id, kind, page, timestamp,
			user_id, user_name,
			city, country, latitude, longitude,
			device_os, device_mobile, user_agent,
			browser_name, browser_version,
			element_tag, element_id, element_class, element_text,
			error_message, error_source, error_url
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, r := range records {
		var mobileUint8 uint8
		if r.DeviceMobile {
			mobileUint8 = 1
		}

		if err := batch.Append(
			r.EventID,
			r.Kind,
			r.Page,
			r.Timestamp,
			r.UserID,
			r.UserName,
			r.City,
			r.Country,
			r.Latitude,
			r.Longitude,
			r.DeviceOS,
			mobileUint8,
			r.UserAgent,
			r.BrowserName,
			r.BrowserVersion,
			r.ElementTag,
			r.ElementID,
			r.ElementClass,
			r.ElementText,
			r.ErrorMessage,
			r.ErrorSource,
			r.ErrorURL,
		); err != nil {
			w.logger.Error("clickhouse append record failed",
				zap.String("event_id", r.EventID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback EventWriter for local development.
// It logs activity records as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs records to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(record *ActivityRecord) {
	w.logger.Info("activity_event",
		zap.String("event_id", record.EventID),
		zap.String("kind", record.Kind),
		zap.String("page", record.Page),
		zap.Time("timestamp", record.Timestamp),
		zap.String("user_id", record.UserID),
		zap.String("city", record.City),
		zap.String("country", record.Country),
		zap.String("device_os", record.DeviceOS),
		zap.String("browser", record.BrowserName),
		zap.String("error", record.ErrorMessage),
	)
}

func (w *LogWriter) Close() {}
