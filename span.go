package stackz

import (
	"time"
)

// An Annotation is a timestamped note attached to a record by
// instrumentation (an SQL statement, an HTTP status, an error string).
type Annotation struct {
	Key   string    `json:"key"`
	Value string    `json:"value"`
	Time  time.Time `json:"time"`
}

// Span is the root timing record of one trace. It is created once at
// trace start, mutated only through its SpanRecorder while the trace is
// open, and becomes immutable when its end time is stamped on the close
// path.
//
// Spans are NOT thread-safe - do not modify from multiple goroutines.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Span struct {
	Tags        map[Tag]string `json:"tags,omitempty"`
	Annotations []Annotation   `json:"annotations,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time,omitempty"`
	Duration    time.Duration  `json:"duration"`

	root *TraceRoot
}

func newSpan(root *TraceRoot) *Span {
	return &Span{
		root:      root,
		StartTime: root.StartTime(),
	}
}

// Root returns the shared trace identity this span belongs to.
func (s *Span) Root() *TraceRoot { return s.root }

// TimeRecording reports whether the span is still open for timing;
// it turns false exactly once, when the end time is stamped.
func (s *Span) TimeRecording() bool { return s.EndTime.IsZero() }

// markEnd stamps the end time and duration. Idempotent by contract:
// callers check TimeRecording first.
func (s *Span) markEnd(now time.Time) {
	s.EndTime = now
	s.Duration = now.Sub(s.StartTime)
}

// SpanEvent is the timing record of one call-stack frame: one nested
// instrumented call within a trace. It is created on every BeginBlock,
// mutated through the rebindable SpanEventRecorder while on the stack,
// and finalized exactly when popped.
//
// SpanEvents are NOT thread-safe - they live on a single-goroutine
// call stack.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type SpanEvent struct {
	Tags        map[Tag]string `json:"tags,omitempty"`
	Annotations []Annotation   `json:"annotations,omitempty"`
	StackID     int            `json:"stack_id"`
	Sequence    int32          `json:"sequence"`
	Depth       int            `json:"depth"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time,omitempty"`
	Duration    time.Duration  `json:"duration"`

	root *TraceRoot
}

func newSpanEvent(root *TraceRoot) *SpanEvent {
	return &SpanEvent{
		root:    root,
		StackID: DefaultStackID,
	}
}

// Root returns the shared trace identity this frame belongs to.
func (e *SpanEvent) Root() *TraceRoot { return e.root }

// TimeRecording reports whether the frame is still open for timing.
func (e *SpanEvent) TimeRecording() bool { return e.EndTime.IsZero() }

func (e *SpanEvent) markStart(now time.Time) {
	e.StartTime = now
}

func (e *SpanEvent) markEnd(now time.Time) {
	e.EndTime = now
	e.Duration = now.Sub(e.StartTime)
}
