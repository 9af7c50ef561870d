package stackz

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// TraceContext owns the agent-wide pieces every trace shares: agent
// identity, the clock, the diagnostics logger, the storage factory,
// and the id sequences. It is the construction path for Trace
// instances.
//
// Safe for concurrent use: many goroutines may mint traces from one
// TraceContext.
type TraceContext struct {
	agentID        string
	agentStartTime time.Time
	clock          clockz.Clock
	diag           diagnostics
	storageFactory StorageFactory
	asyncIDs       AsyncIDFactory
	ids            *traceIDSource
	nextLocalID    atomic.Int64
}

// Option configures a TraceContext.
type Option func(*TraceContext)

// WithAgentID sets the agent identity embedded in transaction ids.
// Defaults to the host name.
func WithAgentID(agentID string) Option {
	return func(tc *TraceContext) {
		tc.agentID = agentID
	}
}

// WithClock injects the clock used for all start/end timestamps.
// Enables deterministic timing in tests.
func WithClock(clock clockz.Clock) Option {
	return func(tc *TraceContext) {
		tc.clock = clock
	}
}

// WithLogger injects the diagnostics logger integrity violations are
// reported through. Defaults to a nop logger: tracing failures stay
// invisible unless the agent wires a destination.
func WithLogger(log *zap.Logger) Option {
	return func(tc *TraceContext) {
		if log != nil {
			tc.diag = newDiagnostics(log)
		}
	}
}

// WithAsyncIDFactory replaces the continuation-token factory.
func WithAsyncIDFactory(factory AsyncIDFactory) Option {
	return func(tc *TraceContext) {
		if factory != nil {
			tc.asyncIDs = factory
		}
	}
}

// NewTraceContext creates a trace factory draining into the given
// storage. Panics if factory is nil: a missing sink is a wiring bug,
// and startup is the one place this package fails loudly.
func NewTraceContext(factory StorageFactory, opts ...Option) *TraceContext {
	if factory == nil {
		panic("stackz: storage factory must not be nil")
	}

	host, _ := os.Hostname()
	tc := &TraceContext{
		agentID:        host,
		clock:          clockz.RealClock,
		diag:           newDiagnostics(zap.NewNop()),
		storageFactory: factory,
		asyncIDs:       NewAsyncIDFactory(),
	}
	for _, opt := range opts {
		opt(tc)
	}

	tc.agentStartTime = tc.clock.Now()
	tc.ids = newTraceIDSource(tc.agentID, tc.agentStartTime)
	return tc
}

// NewTrace opens a new root trace. The sampling decision is made by
// the surrounding agent and fixed here for the trace's lifetime; the
// engine itself is indifferent to it.
func (tc *TraceContext) NewTrace(sampled bool) Trace {
	return tc.newTrace(tc.ids.next(), sampled)
}

// ContinueTrace opens a trace for a request that arrived carrying an
// identity minted by another process. The id is treated as opaque;
// whether the trace is root comes from the id itself.
func (tc *TraceContext) ContinueTrace(traceID TraceID, sampled bool) Trace {
	return tc.newTrace(traceID, sampled)
}

func (tc *TraceContext) newTrace(traceID TraceID, sampled bool) Trace {
	root := NewTraceRoot(traceID, tc.nextLocalID.Add(1), tc.clock.Now())
	return newDefaultTrace(
		newSpan(root),
		NewCallStack(),
		tc.storageFactory.NewStorage(root),
		tc.asyncIDs,
		sampled,
		tc.clock,
		tc.diag,
	)
}

// AgentID returns the agent identity embedded in transaction ids.
func (tc *TraceContext) AgentID() string { return tc.agentID }

// AgentStartTime returns when this context was created.
func (tc *TraceContext) AgentStartTime() time.Time { return tc.agentStartTime }

// Close releases the context's id source. Traces already minted stay
// usable; their storage is released through their own Close.
func (tc *TraceContext) Close() {
	tc.ids.close()
}
