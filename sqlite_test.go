package stackz

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteWriter(t *testing.T) *SQLiteWriter {
	t.Helper()

	path := filepath.Join(t.TempDir(), "spans.db")
	writer := NewSQLiteWriter(path, nil)
	require.NoError(t, writer.Init())
	t.Cleanup(func() { writer.Close() })
	return writer
}

func finishedEvent(root *TraceRoot, stackID int) *SpanEvent {
	event := newSpanEvent(root)
	event.StackID = stackID
	event.markStart(root.StartTime())
	event.markEnd(root.StartTime().Add(time.Millisecond))
	return event
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestSQLiteWriterPersistsRecords(t *testing.T) {
	writer := newTestSQLiteWriter(t)
	root := testRoot()

	span := newSpan(root)
	span.Tags = map[Tag]string{"http.status": "200"}
	span.markEnd(root.StartTime().Add(5 * time.Millisecond))

	writer.SendEvents([]*SpanEvent{finishedEvent(root, 1), finishedEvent(root, 2)})
	writer.SendSpan(span)
	writer.Flush()

	assert.Equal(t, 2, countRows(t, writer.db, "span_events"))
	assert.Equal(t, 1, countRows(t, writer.db, "spans"))

	var session, tags string
	var duration int64
	require.NoError(t, writer.db.QueryRow(
		"SELECT session, tags, duration_ns FROM spans").Scan(&session, &tags, &duration))
	assert.Equal(t, writer.SessionID(), session)
	assert.JSONEq(t, `{"http.status":"200"}`, tags)
	assert.EqualValues(t, 5*time.Millisecond, duration)
}

func TestSQLiteWriterBatchesAtThreshold(t *testing.T) {
	writer := newTestSQLiteWriter(t)
	writer.SetBatchSize(3)
	root := testRoot()

	writer.SendEvents([]*SpanEvent{finishedEvent(root, 1), finishedEvent(root, 2)})
	assert.Equal(t, 0, countRows(t, writer.db, "span_events"), "below threshold nothing is written")

	writer.SendEvents([]*SpanEvent{finishedEvent(root, 3)})
	assert.Equal(t, 3, countRows(t, writer.db, "span_events"), "threshold triggers the batch write")
}

func TestSQLiteWriterFlushEmpty(t *testing.T) {
	writer := newTestSQLiteWriter(t)

	// Must not open a pointless transaction.
	writer.Flush()
	assert.Equal(t, 0, countRows(t, writer.db, "span_events"))
}

func TestSQLiteWriterCloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.db")
	writer := NewSQLiteWriter(path, nil)
	require.NoError(t, writer.Init())

	writer.SendEvents([]*SpanEvent{finishedEvent(testRoot(), 1)})
	require.NoError(t, writer.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, 1, countRows(t, db, "span_events"))
}

func TestSQLiteWriterSessionIDsUnique(t *testing.T) {
	dir := t.TempDir()
	first := NewSQLiteWriter(filepath.Join(dir, "a.db"), nil)
	second := NewSQLiteWriter(filepath.Join(dir, "b.db"), nil)

	assert.NotEqual(t, first.SessionID(), second.SessionID())
}

func TestSQLiteWriterInitBadPath(t *testing.T) {
	writer := NewSQLiteWriter(filepath.Join(t.TempDir(), "missing-dir", "spans.db"), nil)
	assert.Error(t, writer.Init())
}
