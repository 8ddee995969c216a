// Package analytics persists request logs to ClickHouse for offline
// analysis. The sink is optional; when no DSN is configured the simulator
// logs requests via slog only.
package analytics

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/nulpointcorp/llm-simulator/internal/logger"
)

// defaultTable is used when the config leaves the table name empty.
const defaultTable = "simulator_requests"

const createTableDDL = `
CREATE TABLE IF NOT EXISTS %s (
	id            UUID,
	dialect       LowCardinality(String),
	endpoint      LowCardinality(String),
	model         LowCardinality(String),
	key_id        String,
	input_tokens  UInt32,
	output_tokens UInt32,
	latency_ms    UInt32,
	status        UInt16,
	streamed      Bool,
	injected      Bool,
	created_at    DateTime64(3, 'UTC')
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(created_at)
ORDER BY (created_at, model)
TTL toDateTime(created_at) + INTERVAL 30 DAY
`

const insertQuery = `INSERT INTO %s (
	id, dialect, endpoint, model, key_id,
	input_tokens, output_tokens, latency_ms, status,
	streamed, injected, created_at
)`

// ClickHouseSink batches request logs into ClickHouse. It implements
// logger.Sink.
type ClickHouseSink struct {
	conn   driver.Conn
	insert string
}

// Open connects using a ClickHouse DSN, verifies the connection, and
// creates the configured table if it does not exist.
func Open(ctx context.Context, dsn, table string) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("analytics: parse dsn: %w", err)
	}
	if table == "" {
		table = defaultTable
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("analytics: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("analytics: ping: %w", err)
	}
	if err := conn.Exec(ctx, fmt.Sprintf(createTableDDL, table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("analytics: create table: %w", err)
	}

	return &ClickHouseSink{
		conn:   conn,
		insert: fmt.Sprintf(insertQuery, table),
	}, nil
}

// WriteBatch inserts one flushed batch.
func (s *ClickHouseSink) WriteBatch(ctx context.Context, entries []logger.RequestLog) error {
	if len(entries) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, s.insert)
	if err != nil {
		return fmt.Errorf("analytics: prepare batch: %w", err)
	}
	for _, e := range entries {
		if err := batch.Append(
			e.ID,
			e.Dialect,
			e.Endpoint,
			e.Model,
			e.KeyID,
			e.InputTokens,
			e.OutputTokens,
			e.LatencyMs,
			e.Status,
			e.Streamed,
			e.Injected,
			e.CreatedAt,
		); err != nil {
			return fmt.Errorf("analytics: append: %w", err)
		}
	}
	return batch.Send()
}

// Close releases the connection pool.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
