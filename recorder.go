package stackz

import (
	"github.com/zoobzio/clockz"
)

// SpanRecorder mutates the root Span of a trace. One instance lives
// for the whole trace; instrumentation reaches it through
// Trace.SpanRecorder.
//
// Not safe for concurrent use - it belongs to the trace's binding
// goroutine.
type SpanRecorder struct {
	span  *Span
	clock clockz.Clock
}

func newSpanRecorder(span *Span, clock clockz.Clock) *SpanRecorder {
	return &SpanRecorder{span: span, clock: clock}
}

// SetTag adds a key-value pair to the root span.
// No-op once the span's end time has been stamped.
func (r *SpanRecorder) SetTag(key Tag, value string) {
	if !r.span.TimeRecording() {
		return
	}
	if r.span.Tags == nil {
		r.span.Tags = make(map[Tag]string)
	}
	r.span.Tags[key] = value
}

// Annotate appends a timestamped note to the root span.
// No-op once the span's end time has been stamped.
func (r *SpanRecorder) Annotate(key, value string) {
	if !r.span.TimeRecording() {
		return
	}
	r.span.Annotations = append(r.span.Annotations, Annotation{
		Key:   key,
		Value: value,
		Time:  r.clock.Now(),
	})
}

// RecordError annotates the root span with an error string.
func (r *SpanRecorder) RecordError(err error) {
	if err == nil {
		return
	}
	r.Annotate("error", err.Error())
}

// SpanEventRecorder mutates the SpanEvent frame it is currently bound
// to. The engine reuses a single instance across every begin/end cycle
// of a trace, rebinding it to the fresh frame instead of allocating a
// recorder per call.
//
// Never share a SpanEventRecorder across goroutines; it follows the
// single-writer call stack it records for.
type SpanEventRecorder struct {
	event *SpanEvent
	clock clockz.Clock
}

func newSpanEventRecorder(clock clockz.Clock) *SpanEventRecorder {
	return &SpanEventRecorder{clock: clock}
}

// rebind points the recorder at a new frame and returns it, so the
// engine can hand out the shared instance in one expression.
func (r *SpanEventRecorder) rebind(event *SpanEvent) *SpanEventRecorder {
	r.event = event
	return r
}

// SetTag adds a key-value pair to the bound frame.
// No-op once the frame has been finalized.
func (r *SpanEventRecorder) SetTag(key Tag, value string) {
	if !r.event.TimeRecording() {
		return
	}
	if r.event.Tags == nil {
		r.event.Tags = make(map[Tag]string)
	}
	r.event.Tags[key] = value
}

// Annotate appends a timestamped note to the bound frame.
// No-op once the frame has been finalized.
func (r *SpanEventRecorder) Annotate(key, value string) {
	if !r.event.TimeRecording() {
		return
	}
	r.event.Annotations = append(r.event.Annotations, Annotation{
		Key:   key,
		Value: value,
		Time:  r.clock.Now(),
	})
}

// RecordError annotates the bound frame with an error string.
func (r *SpanEventRecorder) RecordError(err error) {
	if err == nil {
		return
	}
	r.Annotate("error", err.Error())
}

// StackID returns the stack id recorded when the bound frame was
// opened.
func (r *SpanEventRecorder) StackID() int { return r.event.StackID }
