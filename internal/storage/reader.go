package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse activity_events table for
// the relay's listing endpoint.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// ListParams holds filters for activity listing.
type ListParams struct {
	Kind      *string
	UserID    *string
	Page      *string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

// ListRecent returns the most recent activity records matching the filters.
func (r *Reader) ListRecent(ctx context.Context, params ListParams) ([]ActivityRecord, error) {
	conditions := []string{"1 = 1"}
	args := []any{}

	if params.Kind != nil {
		conditions = append(conditions, "kind = @kind")
		args = append(args, clickhouse.Named("kind", *params.Kind))
	}
	if params.UserID != nil {
		conditions = append(conditions, "user_id = @user_id")
		args = append(args, clickhouse.Named("user_id", *params.UserID))
	}
	if params.Page != nil {
		conditions = append(conditions, "page = @page")
		args = append(args, clickhouse.Named("page", *params.Page))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT event_id, kind, page, timestamp,
		       user_id, user_name,
		       city, country, latitude, longitude,
		       device_os, device_mobile, user_agent,
		       browser_name, browser_version,
		       element_tag, element_id, element_class, element_text,
		       error_message, error_source, error_url
		FROM activity_events
		WHERE %s
		ORDER BY timestamp DESC
		LIMIT %d
	`, strings.Join(conditions, " AND "), limit)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListRecent: %w", err)
	}
	defer rows.Close()

	var records []ActivityRecord
	for rows.Next() {
		var rec ActivityRecord
		var mobile uint8
		if err := rows.Scan(
			&rec.EventID, &rec.Kind, &rec.Page, &rec.Timestamp,
			&rec.UserID, &rec.UserName,
			&rec.City, &rec.Country, &rec.Latitude, &rec.Longitude,
			&rec.DeviceOS, &mobile, &rec.UserAgent,
			&rec.BrowserName, &rec.BrowserVersion,
			&rec.ElementTag, &rec.ElementID, &rec.ElementClass, &rec.ElementText,
			&rec.ErrorMessage, &rec.ErrorSource, &rec.ErrorURL,
		); err != nil {
			return nil, fmt.Errorf("ListRecent scan: %w", err)
		}
		rec.DeviceMobile = mobile == 1
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRecent rows: %w", err)
	}
	return records, nil
}
