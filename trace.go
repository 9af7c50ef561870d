package stackz

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Trace is the per-request execution context: it converts nested
// BeginBlock/EndBlock pairs on one goroutine into timed records and
// routes finished records to its storage sink.
//
// Every BeginBlock must be paired with exactly one EndBlock carrying
// the same stack id, on the same goroutine, in LIFO order relative to
// other pairs. Violations never alter control flow: they degrade to
// diagnostic warnings.
type Trace interface {
	// BeginBlock opens a frame with DefaultStackID.
	BeginBlock() *SpanEventRecorder
	// BeginBlockWithID opens a frame with an explicit stack id.
	BeginBlockWithID(stackID int) *SpanEventRecorder
	// EndBlock closes the top frame, expecting DefaultStackID.
	EndBlock()
	// EndBlockWithID closes the top frame, expecting stackID.
	EndBlockWithID(stackID int)
	// Close finalizes the trace and releases its storage. Idempotent.
	Close()
	// Flush forwards to the storage sink's flush; closed state is
	// unaffected.
	Flush()

	// CurrentRecorder returns a recorder over the open top frame, or
	// over a throwaway frame if the stack is empty.
	CurrentRecorder() *SpanEventRecorder
	// CurrentFrameID returns the top frame's stack id, or RootStackID
	// when no frame is open.
	CurrentFrameID() int
	// SpanRecorder returns the mutator for the root span.
	SpanRecorder() *SpanRecorder

	// TraceID returns the distributed identity of the trace.
	TraceID() TraceID
	// ID returns the agent-local transaction id.
	ID() int64
	// StartTime returns the trace's creation time.
	StartTime() time.Time
	// Sampled reports whether this trace collects data.
	Sampled() bool
	// IsRoot reports whether the trace starts a distributed trace.
	IsRoot() bool
	// IsRootStack reports whether no frame is currently open.
	IsRootStack() bool
	// IsAsync reports whether this context was opened from an
	// AsyncTraceID handoff.
	IsAsync() bool
	// BindGoroutineID returns the id of the goroutine the trace was
	// constructed on. Informational: nothing is enforced with it.
	BindGoroutineID() uint64

	// DeriveAsyncContext mints a token another goroutine can exchange
	// for its own Trace continuing this trace's logical identity.
	DeriveAsyncContext() AsyncTraceID

	// Scope looks up a registered reentrancy guard; it never creates.
	Scope(name string) (*TraceScope, bool)
	// AddScope returns the guard registered under name, creating it
	// first if absent.
	AddScope(name string) *TraceScope
}

// DefaultTrace is the synchronous Trace implementation. It is affine
// to the goroutine that constructed it and performs no locking; see
// the package documentation for the cross-goroutine model.
type DefaultTrace struct {
	span         *Span
	callStack    *CallStack
	storage      Storage
	asyncIDs     AsyncIDFactory
	spanRecorder *SpanRecorder
	wrapped      *SpanEventRecorder
	scopes       scopePool
	clock        clockz.Clock
	diag         diagnostics

	sampled       bool
	closed        bool
	bindGoroutine uint64
}

var _ Trace = (*DefaultTrace)(nil)

// newDefaultTrace wires a trace from its collaborators. All of them
// are required; TraceContext is the public construction path.
func newDefaultTrace(
	span *Span,
	callStack *CallStack,
	storage Storage,
	asyncIDs AsyncIDFactory,
	sampled bool,
	clock clockz.Clock,
	diag diagnostics,
) *DefaultTrace {
	if span == nil {
		panic("stackz: span must not be nil")
	}
	if callStack == nil {
		panic("stackz: call stack must not be nil")
	}
	if storage == nil {
		panic("stackz: storage must not be nil")
	}
	if asyncIDs == nil {
		panic("stackz: async id factory must not be nil")
	}
	if clock == nil {
		panic("stackz: clock must not be nil")
	}

	return &DefaultTrace{
		span:          span,
		callStack:     callStack,
		storage:       storage,
		asyncIDs:      asyncIDs,
		spanRecorder:  newSpanRecorder(span, clock),
		wrapped:       newSpanEventRecorder(clock),
		clock:         clock,
		diag:          diag,
		sampled:       sampled,
		bindGoroutine: goroutineID(),
	}
}

func (t *DefaultTrace) root() *TraceRoot { return t.span.Root() }

// BeginBlock opens a frame with DefaultStackID.
func (t *DefaultTrace) BeginBlock() *SpanEventRecorder {
	return t.BeginBlockWithID(DefaultStackID)
}

// BeginBlockWithID creates a frame bound to this trace's identity,
// stamps its start time, and pushes it. If the trace is already
// closed the frame is not pushed, but a recorder over it is still
// returned so instrumentation never receives a nil recorder.
func (t *DefaultTrace) BeginBlockWithID(stackID int) *SpanEventRecorder {
	event := newSpanEvent(t.root())
	event.markStart(t.clock.Now())
	event.StackID = stackID

	if t.closed {
		t.warnCorrupted("already closed trace")
	} else {
		t.callStack.Push(event)
	}

	return t.wrapped.rebind(event)
}

// EndBlock closes the top frame, expecting DefaultStackID.
func (t *DefaultTrace) EndBlock() {
	t.EndBlockWithID(DefaultStackID)
}

// EndBlockWithID pops the top frame, finalizes its timing, and
// forwards it to storage. An empty pop mutates nothing; a stack-id
// mismatch still finalizes and forwards best-effort.
func (t *DefaultTrace) EndBlockWithID(stackID int) {
	if t.closed {
		t.warnCorrupted("already closed trace")
		return
	}

	event, ok := t.callStack.Pop()
	if !ok {
		t.warnCorrupted("call stack is empty")
		return
	}

	if event.StackID != stackID {
		// Pairing across different logical blocks; keep the frame.
		t.diag.warnf("corrupted call stack found",
			zap.String("cause", "not matched stack id"),
			zap.Int("expected", stackID),
			zap.Int("current", event.StackID),
			zap.Int64("transaction", t.ID()),
		)
	}

	if event.TimeRecording() {
		event.markEnd(t.clock.Now())
	}
	t.storage.StoreEvent(event)
}

// Close finalizes the trace. If the call stack is not empty the root
// span's timing is unreliable, so the root record is deliberately
// dropped; the storage sink is released in every case, exactly once.
func (t *DefaultTrace) Close() {
	if t.closed {
		t.diag.warnf("already closed trace", zap.Int64("transaction", t.ID()))
		return
	}
	t.closed = true

	if !t.callStack.Empty() {
		t.warnCorrupted("not empty call stack")
		// skip the root span: its duration would be wrong
	} else {
		if t.span.TimeRecording() {
			t.span.markEnd(t.clock.Now())
		}
		t.storage.StoreSpan(t.span)
	}

	t.storage.Close()
}

// Flush forwards to the storage sink's flush operation.
func (t *DefaultTrace) Flush() {
	t.storage.Flush()
}

// CurrentRecorder peeks the call stack. With no open frame it
// substitutes a throwaway frame - never pushed, never forwarded - so
// callers always get a usable recorder.
func (t *DefaultTrace) CurrentRecorder() *SpanEventRecorder {
	event, ok := t.callStack.Peek()
	if !ok {
		t.warnCorrupted("call stack is empty")
		event = newSpanEvent(t.root())
	}
	return t.wrapped.rebind(event)
}

// CurrentFrameID returns the top frame's stack id, or RootStackID.
func (t *DefaultTrace) CurrentFrameID() int {
	if event, ok := t.callStack.Peek(); ok {
		return event.StackID
	}
	return RootStackID
}

// SpanRecorder returns the mutator for the root span.
func (t *DefaultTrace) SpanRecorder() *SpanRecorder { return t.spanRecorder }

// TraceID returns the distributed identity of the trace.
func (t *DefaultTrace) TraceID() TraceID { return t.root().TraceID() }

// ID returns the agent-local transaction id.
func (t *DefaultTrace) ID() int64 { return t.root().LocalTransactionID() }

// StartTime returns the trace's creation time.
func (t *DefaultTrace) StartTime() time.Time { return t.span.StartTime }

// Sampled reports whether this trace collects data.
func (t *DefaultTrace) Sampled() bool { return t.sampled }

// IsRoot defers to the TraceID's own root predicate.
func (t *DefaultTrace) IsRoot() bool { return t.TraceID().IsRoot() }

// IsRootStack reports whether no frame is currently open.
func (t *DefaultTrace) IsRootStack() bool { return t.callStack.Empty() }

// IsAsync is always false for DefaultTrace.
func (t *DefaultTrace) IsAsync() bool { return false }

// BindGoroutineID returns the goroutine the trace was constructed on.
func (t *DefaultTrace) BindGoroutineID() uint64 { return t.bindGoroutine }

// DeriveAsyncContext mints a continuation token from this trace's
// identity.
func (t *DefaultTrace) DeriveAsyncContext() AsyncTraceID {
	return t.asyncIDs.NewAsyncTraceID(t.root())
}

// Scope looks up a registered reentrancy guard.
func (t *DefaultTrace) Scope(name string) (*TraceScope, bool) {
	return t.scopes.get(name)
}

// AddScope returns the guard registered under name, creating it first
// if absent.
func (t *DefaultTrace) AddScope(name string) *TraceScope {
	return t.scopes.add(name)
}

func (t *DefaultTrace) String() string {
	return fmt.Sprintf("DefaultTrace{sampled=%t root=%s}", t.sampled, t.root())
}

func (t *DefaultTrace) warnCorrupted(cause string) {
	t.diag.warnf("corrupted call stack found",
		zap.String("cause", cause),
		zap.Int64("transaction", t.ID()),
	)
}

// goroutineID parses the current goroutine's id out of a stack header
// ("goroutine 18 [running]:"). Diagnostic use only.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(header, ' '); i > 0 {
		if id, err := strconv.ParseUint(string(header[:i]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}
