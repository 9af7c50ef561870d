package stackz

import (
	"sync"
)

// IDPool keeps a buffer of pre-generated id strings so the trace
// construction path never waits on id generation. A background
// goroutine refills the buffer; when a burst drains it faster than it
// refills, ids are generated inline as a fallback.
type IDPool struct {
	factory func() string
	ids     chan string
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewIDPool creates a pool holding up to capacity ids produced by
// factory.
func NewIDPool(capacity int, factory func() string) *IDPool {
	pool := &IDPool{
		ids:     make(chan string, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// Get retrieves a pre-generated id, or generates one inline if the
// pool is empty.
func (p *IDPool) Get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		// Pool drained - generate directly under burst load.
		return p.factory()
	}
}

// refill keeps the buffer topped up until the pool is closed.
func (p *IDPool) refill() {
	for {
		select {
		case <-p.stopCh:
			return
		case p.ids <- p.factory():
			// Added an id to the pool.
		}
	}
}

// Close stops the refill goroutine. Get keeps working after Close,
// falling back to inline generation once the buffer drains.
func (p *IDPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}
