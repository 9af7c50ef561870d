package stackz

import (
	"sync/atomic"
	"time"
)

// AsyncTraceID is a value token that lets a different execution unit
// (new goroutine, queued task) open its own Trace continuing the same
// logical trace. It carries identity only: copying it does not extend
// any lifetime, and the parent and child traces share no mutable state.
type AsyncTraceID struct {
	TraceID            TraceID   `json:"trace_id"`
	LocalTransactionID int64     `json:"local_transaction_id"`
	StartTime          time.Time `json:"start_time"`
	// AsyncID distinguishes multiple handoffs minted from one trace.
	AsyncID int64 `json:"async_id"`
}

// AsyncIDFactory mints cross-goroutine continuation tokens.
type AsyncIDFactory interface {
	NewAsyncTraceID(root *TraceRoot) AsyncTraceID
}

// NewAsyncIDFactory returns the default factory, which numbers tokens
// from a process-wide counter.
func NewAsyncIDFactory() AsyncIDFactory {
	return &asyncIDFactory{}
}

type asyncIDFactory struct {
	next atomic.Int64
}

func (f *asyncIDFactory) NewAsyncTraceID(root *TraceRoot) AsyncTraceID {
	return AsyncTraceID{
		TraceID:            root.TraceID(),
		LocalTransactionID: root.LocalTransactionID(),
		StartTime:          root.StartTime(),
		AsyncID:            f.next.Add(1),
	}
}
