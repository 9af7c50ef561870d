package stackz

// CallStack is the LIFO structure of currently-open SpanEvents for one
// trace on one goroutine. It assigns each pushed frame its sequence
// number and depth, and tracks the deepest nesting seen.
//
// CallStack performs no locking: it is owned exclusively by one Trace
// and all operations originate from that trace's binding goroutine.
// It also never panics regardless of caller misuse - instrumentation
// runs on the hot path of every guarded call, so corruption degrades
// to a signal the engine logs and survives.
type CallStack struct {
	frames   []*SpanEvent
	sequence int32
	maxDepth int
}

// NewCallStack creates an empty call stack.
func NewCallStack() *CallStack {
	return &CallStack{
		frames: make([]*SpanEvent, 0, 8),
	}
}

// Push appends a frame, stamping its sequence number and depth.
// Returns the frame's depth (1-based). No upper bound is enforced at
// this layer.
func (cs *CallStack) Push(frame *SpanEvent) int {
	cs.sequence++
	frame.Sequence = cs.sequence

	cs.frames = append(cs.frames, frame)
	depth := len(cs.frames)
	frame.Depth = depth

	if depth > cs.maxDepth {
		cs.maxDepth = depth
	}
	return depth
}

// Pop removes and returns the top frame. The second return value is
// false when the stack is empty; callers treat that as a corruption
// signal, not an error to propagate.
func (cs *CallStack) Pop() (*SpanEvent, bool) {
	n := len(cs.frames)
	if n == 0 {
		return nil, false
	}
	frame := cs.frames[n-1]
	cs.frames[n-1] = nil // release for GC
	cs.frames = cs.frames[:n-1]
	return frame, true
}

// Peek returns the top frame without removing it, with the same
// empty-signal contract as Pop.
func (cs *CallStack) Peek() (*SpanEvent, bool) {
	n := len(cs.frames)
	if n == 0 {
		return nil, false
	}
	return cs.frames[n-1], true
}

// Empty reports whether no frames are open.
func (cs *CallStack) Empty() bool { return len(cs.frames) == 0 }

// Depth returns the number of currently-open frames.
func (cs *CallStack) Depth() int { return len(cs.frames) }

// MaxDepth returns the deepest nesting observed over the stack's life.
func (cs *CallStack) MaxDepth() int { return cs.maxDepth }
