package integration

import (
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/stackz"
)

// TestRequestLifecycle drives one simulated request through nested
// instrumented blocks and verifies exactly what reaches the exporter.
func TestRequestLifecycle(t *testing.T) {
	collector := stackz.NewCollector("export", 64)
	collector.SetSyncMode(true)
	defer collector.Close()

	tc := stackz.NewTraceContext(
		stackz.NewBufferedStorageFactory(collector, 4),
		stackz.WithAgentID("integration"),
	)
	defer tc.Close()

	trace := tc.NewTrace(true)

	// handler -> service -> repository nesting.
	handler := trace.BeginBlock()
	handler.SetTag("http.method", "GET")

	trace.BeginBlockWithID(1).SetTag("service", "user")
	trace.BeginBlockWithID(2).SetTag("db.statement", "SELECT * FROM users")
	trace.EndBlockWithID(2)
	trace.EndBlockWithID(1)

	trace.EndBlock()
	trace.Close()

	events := collector.ExportEvents()
	if len(events) != 3 {
		t.Fatalf("Expected 3 exported frames, got %d", len(events))
	}

	// Pops arrive innermost first.
	wantStackIDs := []int{2, 1, stackz.DefaultStackID}
	for i, event := range events {
		if event.StackID != wantStackIDs[i] {
			t.Errorf("Frame %d: expected stack id %d, got %d", i, wantStackIDs[i], event.StackID)
		}
		if event.EndTime.Before(event.StartTime) {
			t.Errorf("Frame %d: end before start", i)
		}
	}
	if events[0].Tags["db.statement"] == "" {
		t.Error("Expected repository frame to carry its tag")
	}

	spans := collector.ExportSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 exported root span, got %d", len(spans))
	}
	if collector.DroppedCount() != 0 {
		t.Errorf("Expected no drops, got %d", collector.DroppedCount())
	}
}

// TestCorruptedInstrumentationIsInvisible verifies that misbehaving
// instrumentation never breaks the caller and never emits bad records.
func TestCorruptedInstrumentationIsInvisible(t *testing.T) {
	collector := stackz.NewCollector("export", 64)
	collector.SetSyncMode(true)
	defer collector.Close()

	tc := stackz.NewTraceContext(stackz.NewBufferedStorageFactory(collector, 4))
	defer tc.Close()

	trace := tc.NewTrace(true)

	trace.EndBlock()        // Underflow.
	trace.BeginBlock()      // Left open.
	trace.Close()           // Unbalanced close.
	trace.Close()           // Double close.
	trace.BeginBlock()      // After close.
	trace.EndBlock()        // After close.
	trace.CurrentRecorder() // Empty stack handled via throwaway.

	if n := len(collector.ExportEvents()); n != 0 {
		t.Errorf("Expected no exported frames from a corrupted trace, got %d", n)
	}
	if n := len(collector.ExportSpans()); n != 0 {
		t.Errorf("Expected the unbalanced root span to be dropped, got %d", n)
	}
}

// TestAsyncHandoff fans one logical trace out to worker goroutines,
// each continuing the identity through its own context.
func TestAsyncHandoff(t *testing.T) {
	collector := stackz.NewCollector("export", 256)
	collector.SetSyncMode(true)
	defer collector.Close()

	tc := stackz.NewTraceContext(stackz.NewBufferedStorageFactory(collector, 4))
	defer tc.Close()

	parent := tc.NewTrace(true)
	parent.BeginBlock()

	const workers = 4
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		token := parent.DeriveAsyncContext()
		wg.Add(1)
		go func(token stackz.AsyncTraceID) {
			defer wg.Done()
			child := tc.ContinueTrace(token.TraceID, true)
			child.BeginBlock()
			time.Sleep(time.Millisecond)
			child.EndBlock()
			child.Close()
		}(token)
	}
	wg.Wait()

	parent.EndBlock()
	parent.Close()

	spans := collector.ExportSpans()
	if len(spans) != workers+1 {
		t.Fatalf("Expected %d root spans, got %d", workers+1, len(spans))
	}
	events := collector.ExportEvents()
	if len(events) != workers+1 {
		t.Fatalf("Expected %d frames, got %d", workers+1, len(events))
	}

	want := parent.TraceID().TransactionID
	for _, span := range spans {
		if span.Root().TraceID().TransactionID != want {
			t.Error("Expected every span to share the logical trace identity")
		}
	}
}
