package stackz

import (
	"sync"
	"sync/atomic"
	"time"
)

// record is what travels through the collector's channel: exactly one
// of the two fields is set.
type record struct {
	event *SpanEvent
	span  *Span
}

// Collector is the in-memory Sender: it buffers finished SpanEvents
// and root Spans until the surrounding agent exports them. Safe for
// concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	events       []SpanEvent
	spans        []Span
	recordCh     chan record
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	closed       atomic.Bool
	syncMode     bool // Bypass channel for synchronous collection.
}

var _ Sender = (*Collector)(nil)

// NewCollector creates a collector with the specified name and channel
// buffer size.
func NewCollector(name string, bufferSize int) *Collector {
	c := &Collector{
		name:     name,
		events:   make([]SpanEvent, 0, 8), // Start with small capacity.
		recordCh: make(chan record, bufferSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.start()
	return c
}

// start runs the collector's main loop, receiving records from the
// channel.
func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining records before shutdown.
			for {
				select {
				case rec := <-c.recordCh:
					c.buffer(rec)
				default:
					return // Clean shutdown.
				}
			}
		case rec := <-c.recordCh:
			c.buffer(rec)
		}
	}
}

// Name returns the name the collector was created with.
func (c *Collector) Name() string { return c.name }

// SendEvents buffers finalized frames with backpressure protection.
// If the internal channel is full, the record is dropped and the drop
// counter is incremented. In sync mode, records are buffered directly
// for deterministic testing.
func (c *Collector) SendEvents(events []*SpanEvent) {
	for _, event := range events {
		if event == nil {
			c.droppedCount.Add(1)
			continue
		}
		c.send(record{event: event})
	}
}

// SendSpan buffers a finalized root span with the same backpressure
// contract as SendEvents.
func (c *Collector) SendSpan(span *Span) {
	if span == nil {
		c.droppedCount.Add(1)
		return
	}
	c.send(record{span: span})
}

func (c *Collector) send(rec record) {
	if c.syncMode {
		// Direct synchronous collection for tests.
		if c.closed.Load() {
			c.droppedCount.Add(1)
			return
		}
		c.buffer(rec)
		return
	}

	select {
	case c.recordCh <- rec:
		// Successfully queued.
	default:
		// Channel full - drop to avoid blocking instrumented code.
		c.droppedCount.Add(1)
	}
}

// buffer copies a record into the internal buffers. Deep-copies tag
// maps so later mutation by callers cannot leak in.
func (c *Collector) buffer(rec record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case rec.event != nil:
		e := *rec.event
		e.Tags = copyTags(rec.event.Tags)
		c.events = append(c.events, e)
	case rec.span != nil:
		s := *rec.span
		s.Tags = copyTags(rec.span.Tags)
		c.spans = append(c.spans, s)
	}
}

func copyTags(tags map[Tag]string) map[Tag]string {
	if tags == nil {
		return nil
	}
	out := make(map[Tag]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

// ExportEvents returns a copy of all buffered frames and clears the
// internal buffer. The returned slice is safe to modify.
func (c *Collector) ExportEvents() []SpanEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.events) == 0 {
		return nil
	}
	result := make([]SpanEvent, len(c.events))
	copy(result, c.events)

	// Shrink only if the buffer is very oversized to avoid
	// allocation churn.
	if cap(c.events) > 256 && len(c.events) < cap(c.events)/8 {
		c.events = make([]SpanEvent, 0, cap(c.events)/4)
	} else {
		c.events = c.events[:0] // Keep capacity, reset length.
	}
	return result
}

// ExportSpans returns a copy of all buffered root spans and clears the
// internal buffer.
func (c *Collector) ExportSpans() []Span {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) == 0 {
		return nil
	}
	result := make([]Span, len(c.spans))
	copy(result, c.spans)
	c.spans = c.spans[:0]
	return result
}

// EventCount returns the current number of buffered frames.
func (c *Collector) EventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// SpanCount returns the current number of buffered root spans.
func (c *Collector) SpanCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}

// DroppedCount returns the total number of records dropped due to
// backpressure.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection for testing. When
// enabled, records bypass the channel, making tests deterministic.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode = sync
}

// Reset clears all buffered records and the drop counter. Does not
// affect the running goroutine - use Close for that.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = c.events[:0]
	c.spans = c.spans[:0]
	c.droppedCount.Store(0)
}

// Close shuts down the collector goroutine gracefully, draining the
// channel first. Safe to call once.
func (c *Collector) Close() {
	c.closed.Store(true)
	close(c.stopCh)
	select {
	case <-c.done:
		// Clean shutdown completed.
	case <-time.After(100 * time.Millisecond):
		// Timeout - buffered records remain exportable.
	}
}
