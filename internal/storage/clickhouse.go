package storage

import (
	"context"
	"fmt"
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

// CreateTableSQL is the violation_events DDL. EnsureSchema applies it.
const CreateTableSQL = `
CREATE TABLE IF NOT EXISTS violation_events (
	event_id          String,
	request_id        String,
	user_id           String,
	timestamp         DateTime64(3, 'UTC'),
	prompt_preview    String,
	prompt_hash       FixedString(64),
	prompt_size       UInt32,
	violation_type    LowCardinality(String),
	violation_details String,
	action            LowCardinality(String),
	warning_count     UInt16,
	max_warnings      UInt16
) ENGINE = MergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (timestamp, user_id)
TTL toDateTime(timestamp) + INTERVAL 180 DAY`

// Open parses dsn, connects and pings. Shared by the writer and the reader.
func Open(ctx context.Context, dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.Open: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage.Open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage.Open: ping: %w", err)
	}
	return conn, nil
}

// EnsureSchema creates the violation_events table if it does not exist.
func EnsureSchema(ctx context.Context, conn driver.Conn) error {
	if err := conn.Exec(ctx, CreateTableSQL); err != nil {
		return fmt.Errorf("EnsureSchema: %w", err)
	}
	return nil
}

// ClickHouseWriter writes violation events to ClickHouse asynchronously.
// Write() is non-blocking; events are buffered and batch-inserted in a background goroutine.
type ClickHouseWriter struct {
	conn driver.Conn
	*batcher
}

// NewClickHouseWriter starts the background flush loop over an open connection.
func NewClickHouseWriter(conn driver.Conn, logger *zap.Logger) *ClickHouseWriter {
	w := &ClickHouseWriter{conn: conn}
	w.batcher = newBatcher(w.flush, logger)
	return w
}

func (w *ClickHouseWriter) flush(events []*ViolationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO violation_events (
			event_id, request_id, user_id, timestamp,
			prompt_preview, prompt_hash, prompt_size,
			violation_type, violation_details, action,
			warning_count, max_warnings
		)
	`)
	if err != nil {
		flushFailures.Inc()
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		if err := batch.Append(
			e.EventID,
			e.RequestID,
			e.UserID,
			e.Timestamp,
			e.PromptPreview,
			e.PromptHash,
			e.PromptSize,
			e.ViolationType,
			e.ViolationDetails,
			e.Action,
			e.WarningCount,
			e.MaxWarnings,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("event_id", e.EventID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		flushFailures.Inc()
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
		return
	}
	eventsWritten.Add(float64(len(events)))
}

// batcher buffers events and hands them to flush in batches from a single
// goroutine, by size or on a timer.
type batcher struct {
	buffer  chan *ViolationEvent
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	flushFn func([]*ViolationEvent)
	logger  *zap.Logger
}

func newBatcher(flush func([]*ViolationEvent), logger *zap.Logger) *batcher {
	b := &batcher{
		buffer:  make(chan *ViolationEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		flushFn: flush,
		logger:  logger,
	}
	go b.flushLoop()
	return b
}

// Write queues an event for async insertion.
// Non-blocking: drops the event if the buffer is full.
func (b *batcher) Write(event *ViolationEvent) {
	select {
	case b.buffer <- event:
	default:
		eventsDropped.Inc()
		b.logger.Warn("event buffer full, dropping event",
			zap.String("event_id", event.EventID),
			zap.String("user_id", event.UserID),
		)
	}
}

// Close signals the flush loop to drain remaining events and waits for it to
// finish. Safe to call once.
func (b *batcher) Close() {
	close(b.done)
	<-b.flushed
}

func (b *batcher) flushLoop() {
	defer close(b.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*ViolationEvent, 0, flushBatch)

	for {
		select {
		case event := <-b.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				b.flushFn(batch)
				batch = make([]*ViolationEvent, 0, flushBatch)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flushFn(batch)
				batch = make([]*ViolationEvent, 0, flushBatch)
			}
		case <-b.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-b.buffer:
					batch = append(batch, event)
					if len(batch) >= flushBatch {
						b.flushFn(batch)
						batch = make([]*ViolationEvent, 0, flushBatch)
					}
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				b.flushFn(batch)
			}
			return
		}
	}
}

// LogWriter is a fallback EventWriter for local development.
// It logs events as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *ViolationEvent) {
	w.logger.Info("violation_event",
		zap.String("event_id", event.EventID),
		zap.String("request_id", event.RequestID),
		zap.String("user_id", event.UserID),
		zap.String("violation_type", event.ViolationType),
		zap.String("violation_details", event.ViolationDetails),
		zap.String("action", event.Action),
		zap.Uint16("warning_count", event.WarningCount),
		zap.Uint16("max_warnings", event.MaxWarnings),
		zap.String("prompt_hash", event.PromptHash),
	)
}

func (w *LogWriter) Close() {}
