// Package stackz implements the execution-context core of a tracing agent.
//
// stackz tracks, for one logical request, the nested sequence of
// instrumented calls executing on one goroutine, converts that nesting
// into timed span records, and hands finished records to a storage sink
// for eventual export. It deliberately stops there: sampling decisions,
// wire formats, and export transport belong to the surrounding agent.
//
// Core Components:.
//   - TraceContext: mints Trace instances and owns agent-wide identity.
//   - Trace / DefaultTrace: per-request engine over a call stack.
//   - Span / SpanEvent: the root record and one call-stack frame.
//   - CallStack: LIFO of open SpanEvents for one goroutine.
//   - Storage: per-trace sink receiving finished records.
//   - Collector: in-memory Sender buffering records for export.
//
// Basic Usage:.
//
//	collector := stackz.NewCollector("export", 1024)
//	defer collector.Close()
//
//	tc := stackz.NewTraceContext(
//		stackz.NewBufferedStorageFactory(collector, 20),
//		stackz.WithAgentID("agent-1"),
//	)
//	defer tc.Close()
//
//	trace := tc.NewTrace(true)
//	rec := trace.BeginBlock()
//	rec.SetTag("db.query", "SELECT 1")
//	trace.EndBlock()
//	trace.Close()
//
// Failure Policy:.
//
// No Trace operation ever panics or returns an error to instrumented
// code. Double close, unbalanced begin/end pairs, empty-stack pops, and
// stack-id mismatches degrade to a diagnostic log line and continue.
// Only constructors validate loudly, since a missing collaborator is a
// wiring bug discoverable at startup.
//
// Thread Safety:.
//
// A Trace is bound to the goroutine that created it; its call stack is
// single-writer by design and performs no locking. Cross-goroutine
// continuation goes through DeriveAsyncContext, which mints a value
// token the new goroutine exchanges for its own, structurally separate
// Trace sharing only the logical trace identity.
package stackz

// Tag represents a span tag key.
type Tag = string

// Stack ids reserved by the engine. Instrumentation may use any other
// value to pair BeginBlockWithID/EndBlockWithID calls.
const (
	// DefaultStackID marks frames opened without an explicit stack id.
	DefaultStackID = -1
	// RootStackID is reported by CurrentFrameID when no frame is open.
	RootStackID = 0
)
