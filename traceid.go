package stackz

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/xid"
)

// NoParentSpanID marks a TraceID that was not continued from another
// span, i.e. the root of a distributed trace.
const NoParentSpanID int64 = -1

// TraceID identifies one distributed trace and this agent's position in
// its span chain. It is a value: copying it never extends any lifetime,
// and it crosses process boundaries opaquely.
type TraceID struct {
	// TransactionID is globally unique across agents for the lifetime
	// of the trace (agent id, agent start time, and a per-agent token).
	TransactionID string `json:"transaction_id"`
	// ParentSpanID is the span id of the caller, or NoParentSpanID.
	ParentSpanID int64 `json:"parent_span_id"`
	// SpanID is this agent's own span id within the trace.
	SpanID int64 `json:"span_id"`
}

// IsRoot reports whether this id starts a distributed trace rather
// than continuing one received from a caller.
func (id TraceID) IsRoot() bool {
	return id.ParentSpanID == NoParentSpanID
}

func (id TraceID) String() string {
	return fmt.Sprintf("%s:%d:%d", id.TransactionID, id.ParentSpanID, id.SpanID)
}

// TraceRoot is the immutable identity shared by every record belonging
// to one trace: the TraceID, a locally unique transaction id, and the
// trace's creation time. Never mutated after creation.
type TraceRoot struct {
	traceID            TraceID
	localTransactionID int64
	startTime          time.Time
}

// NewTraceRoot creates the shared identity for one trace.
func NewTraceRoot(traceID TraceID, localTransactionID int64, startTime time.Time) *TraceRoot {
	return &TraceRoot{
		traceID:            traceID,
		localTransactionID: localTransactionID,
		startTime:          startTime,
	}
}

// TraceID returns the distributed identity of the trace.
func (r *TraceRoot) TraceID() TraceID { return r.traceID }

// LocalTransactionID returns the agent-local transaction id.
func (r *TraceRoot) LocalTransactionID() int64 { return r.localTransactionID }

// StartTime returns the trace's creation time.
func (r *TraceRoot) StartTime() time.Time { return r.startTime }

func (r *TraceRoot) String() string {
	return fmt.Sprintf("TraceRoot{%s local=%d}", r.traceID, r.localTransactionID)
}

// traceIDSource mints root TraceIDs for one agent. Transaction ids are
// pre-generated through an IDPool to keep BeginTrace off the id
// generation cost on bursty request arrival.
type traceIDSource struct {
	pool *IDPool
}

func newTraceIDSource(agentID string, agentStartTime time.Time) *traceIDSource {
	start := agentStartTime.UnixMilli()
	capacity := runtime.NumCPU() * 64
	return &traceIDSource{
		pool: NewIDPool(capacity, func() string {
			return fmt.Sprintf("%s^%d^%s", agentID, start, xid.New().String())
		}),
	}
}

// next mints a fresh root TraceID.
func (s *traceIDSource) next() TraceID {
	return TraceID{
		TransactionID: s.pool.Get(),
		ParentSpanID:  NoParentSpanID,
		SpanID:        newSpanID(),
	}
}

func (s *traceIDSource) close() {
	s.pool.Close()
}

// newSpanID generates a random non-negative span id.
func newSpanID() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Fallback to a time-based id if crypto/rand fails.
		return time.Now().UnixNano() & (1<<63 - 1)
	}
	return int64(binary.BigEndian.Uint64(b[:]) & (1<<63 - 1))
}
