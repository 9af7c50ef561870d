package stackz

// Storage is the per-trace sink finished records are routed to. One
// instance is exclusively owned by one Trace for its lifetime;
// Trace.Close is the single release point.
//
// Store calls are fire-and-forget from the engine's perspective: any
// buffering or I/O is the implementation's concern and must not block
// meaningfully.
type Storage interface {
	// StoreEvent receives a finalized call-stack frame.
	StoreEvent(event *SpanEvent)
	// StoreSpan receives the finalized root span of the trace.
	StoreSpan(span *Span)
	// Flush pushes any buffered records downstream.
	Flush()
	// Close releases the sink's resources, flushing first.
	Close()
}

// StorageFactory creates the Storage for each new trace.
type StorageFactory interface {
	NewStorage(root *TraceRoot) Storage
}

// Sender is the downstream a BufferedStorage drains into: an
// in-memory Collector, a SQLiteWriter, or an export transport owned by
// the surrounding agent.
//
// Senders outlive individual traces and must be safe for concurrent
// use: many traces on many goroutines drain into one Sender.
type Sender interface {
	SendEvents(events []*SpanEvent)
	SendSpan(span *Span)
}

// BufferedStorage accumulates finished frames and hands them to a
// shared Sender in batches, so a trace with hundreds of frames costs a
// handful of downstream calls. The root span flushes the remainder
// ahead of itself so the Sender observes frames before their trace's
// root record.
type BufferedStorage struct {
	sender Sender
	buffer []*SpanEvent
	limit  int
	closed bool
}

// DefaultBufferLimit is the event batch size used when none is given.
const DefaultBufferLimit = 20

// NewBufferedStorage creates a per-trace buffer draining into sender.
// Panics if sender is nil: a missing downstream is a wiring bug.
func NewBufferedStorage(sender Sender, limit int) *BufferedStorage {
	if sender == nil {
		panic("stackz: sender must not be nil")
	}
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	return &BufferedStorage{
		sender: sender,
		buffer: make([]*SpanEvent, 0, limit),
		limit:  limit,
	}
}

// StoreEvent buffers a finalized frame, draining downstream when the
// batch limit is reached. Records arriving after Close are dropped.
func (s *BufferedStorage) StoreEvent(event *SpanEvent) {
	if s.closed || event == nil {
		return
	}
	s.buffer = append(s.buffer, event)
	if len(s.buffer) >= s.limit {
		s.drain()
	}
}

// StoreSpan drains buffered frames, then forwards the root span.
func (s *BufferedStorage) StoreSpan(span *Span) {
	if s.closed || span == nil {
		return
	}
	s.drain()
	s.sender.SendSpan(span)
}

// Flush drains buffered frames without closing.
func (s *BufferedStorage) Flush() {
	if s.closed {
		return
	}
	s.drain()
}

// Close drains buffered frames and marks the storage released.
// Idempotent: the engine's closed guard makes double release a no-op,
// and so does this.
func (s *BufferedStorage) Close() {
	if s.closed {
		return
	}
	s.drain()
	s.closed = true
}

func (s *BufferedStorage) drain() {
	if len(s.buffer) == 0 {
		return
	}
	batch := make([]*SpanEvent, len(s.buffer))
	copy(batch, s.buffer)
	s.buffer = s.buffer[:0]
	s.sender.SendEvents(batch)
}

// BufferedStorageFactory gives each trace its own BufferedStorage over
// one shared Sender.
type BufferedStorageFactory struct {
	sender Sender
	limit  int
}

// NewBufferedStorageFactory creates the factory. Panics if sender is
// nil.
func NewBufferedStorageFactory(sender Sender, limit int) *BufferedStorageFactory {
	if sender == nil {
		panic("stackz: sender must not be nil")
	}
	return &BufferedStorageFactory{sender: sender, limit: limit}
}

// NewStorage implements StorageFactory.
func (f *BufferedStorageFactory) NewStorage(_ *TraceRoot) Storage {
	return NewBufferedStorage(f.sender, f.limit)
}

// nopStorage discards everything; used for traces whose data the
// surrounding agent decided not to collect.
type nopStorage struct{}

// NewNopStorage returns a Storage that discards all records.
func NewNopStorage() Storage { return nopStorage{} }

func (nopStorage) StoreEvent(*SpanEvent) {}
func (nopStorage) StoreSpan(*Span)       {}
func (nopStorage) Flush()                {}
func (nopStorage) Close()                {}

// NopStorageFactory hands every trace the discarding storage.
type NopStorageFactory struct{}

// NewStorage implements StorageFactory.
func (NopStorageFactory) NewStorage(_ *TraceRoot) Storage { return NewNopStorage() }
