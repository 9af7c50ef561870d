package stackz

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	// SQLite driver, registered for database/sql.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"go.uber.org/zap"
)

const defaultSQLiteBatchSize = 1000

// SQLiteWriter is a Sender that persists finished records to a local
// SQLite database, for agents that spool traces to disk instead of
// (or before) shipping them. Inserts are batched and committed inside
// explicit transactions; each writer stamps its rows with a unique
// session id so multiple agent runs can share one file.
//
// Safe for concurrent use once Init has returned.
type SQLiteWriter struct {
	db          *sql.DB
	insertEvent *sql.Stmt
	insertSpan  *sql.Stmt

	pendingEvents []*SpanEvent
	pendingSpans  []*Span

	path      string
	sessionID string
	batchSize int
	log       *zap.Logger
	mu        sync.Mutex
}

var _ Sender = (*SQLiteWriter)(nil)

// NewSQLiteWriter creates a writer for the database at path. Call
// Init before use.
func NewSQLiteWriter(path string, log *zap.Logger) *SQLiteWriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLiteWriter{
		path:      path,
		sessionID: xid.New().String(),
		batchSize: defaultSQLiteBatchSize,
		log:       log,
	}
}

// SetBatchSize overrides the number of pending records that triggers
// an automatic flush. Must be called before records start flowing.
func (w *SQLiteWriter) SetBatchSize(n int) {
	if n > 0 {
		w.batchSize = n
	}
}

// SessionID returns the id stamped on every row this writer inserts.
func (w *SQLiteWriter) SessionID() string { return w.sessionID }

// Init opens the database, creates the schema if needed, and prepares
// the insert statements. Failing here is loud: a broken spool file is
// a startup wiring problem, not a runtime tracing condition.
func (w *SQLiteWriter) Init() error {
	db, err := sql.Open("sqlite3", w.path)
	if err != nil {
		return fmt.Errorf("stackz: open sqlite db: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS spans (
			session TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			local_transaction_id INTEGER NOT NULL,
			parent_span_id INTEGER NOT NULL,
			span_id INTEGER NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL,
			tags TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS span_events (
			session TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			local_transaction_id INTEGER NOT NULL,
			stack_id INTEGER NOT NULL,
			sequence INTEGER NOT NULL,
			depth INTEGER NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL,
			tags TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_session ON spans (session)`,
		`CREATE INDEX IF NOT EXISTS idx_span_events_session ON span_events (session)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("stackz: create schema: %w", err)
		}
	}

	insertSpan, err := db.Prepare(
		`INSERT INTO spans (session, transaction_id, local_transaction_id,
			parent_span_id, span_id, start_time, end_time, duration_ns, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return fmt.Errorf("stackz: prepare span insert: %w", err)
	}

	insertEvent, err := db.Prepare(
		`INSERT INTO span_events (session, transaction_id, local_transaction_id,
			stack_id, sequence, depth, start_time, end_time, duration_ns, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		insertSpan.Close()
		db.Close()
		return fmt.Errorf("stackz: prepare event insert: %w", err)
	}

	w.db = db
	w.insertSpan = insertSpan
	w.insertEvent = insertEvent
	return nil
}

// SendEvents queues finalized frames, flushing when the batch size is
// reached. Write failures are logged and the batch dropped: tracing
// persistence must never destabilize the traced application.
func (w *SQLiteWriter) SendEvents(events []*SpanEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pendingEvents = append(w.pendingEvents, events...)
	if len(w.pendingEvents)+len(w.pendingSpans) >= w.batchSize {
		w.flushLocked()
	}
}

// SendSpan queues a finalized root span with the same contract as
// SendEvents.
func (w *SQLiteWriter) SendSpan(span *Span) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pendingSpans = append(w.pendingSpans, span)
	if len(w.pendingEvents)+len(w.pendingSpans) >= w.batchSize {
		w.flushLocked()
	}
}

// Flush writes all pending records inside one transaction.
func (w *SQLiteWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

func (w *SQLiteWriter) flushLocked() {
	if len(w.pendingEvents) == 0 && len(w.pendingSpans) == 0 {
		return
	}

	tx, err := w.db.Begin()
	if err != nil {
		w.log.Warn("sqlite flush failed", zap.Error(err))
		w.pendingEvents = w.pendingEvents[:0]
		w.pendingSpans = w.pendingSpans[:0]
		return
	}

	insertEvent := tx.Stmt(w.insertEvent)
	insertSpan := tx.Stmt(w.insertSpan)

	for _, event := range w.pendingEvents {
		root := event.Root()
		_, err = insertEvent.Exec(
			w.sessionID,
			root.TraceID().TransactionID,
			root.LocalTransactionID(),
			event.StackID,
			event.Sequence,
			event.Depth,
			event.StartTime.UnixNano(),
			event.EndTime.UnixNano(),
			int64(event.Duration),
			marshalTags(event.Tags),
		)
		if err != nil {
			break
		}
	}
	if err == nil {
		for _, span := range w.pendingSpans {
			root := span.Root()
			id := root.TraceID()
			_, err = insertSpan.Exec(
				w.sessionID,
				id.TransactionID,
				root.LocalTransactionID(),
				id.ParentSpanID,
				id.SpanID,
				span.StartTime.UnixNano(),
				span.EndTime.UnixNano(),
				int64(span.Duration),
				marshalTags(span.Tags),
			)
			if err != nil {
				break
			}
		}
	}

	if err != nil {
		w.log.Warn("sqlite insert failed", zap.Error(err))
		tx.Rollback()
	} else if err := tx.Commit(); err != nil {
		w.log.Warn("sqlite commit failed", zap.Error(err))
	}

	w.pendingEvents = w.pendingEvents[:0]
	w.pendingSpans = w.pendingSpans[:0]
}

// Close flushes pending records and releases the database.
func (w *SQLiteWriter) Close() error {
	w.Flush()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return nil
	}
	w.insertEvent.Close()
	w.insertSpan.Close()
	err := w.db.Close()
	w.db = nil
	return err
}

func marshalTags(tags map[Tag]string) string {
	if len(tags) == 0 {
		return ""
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return ""
	}
	return string(b)
}
