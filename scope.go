package stackz

// TraceScope is a named reentrancy guard scoped to one trace.
// Instrumentation points that can wrap other instances of themselves
// (a client library whose internals are themselves instrumented, say)
// use a scope to record only the outermost entry.
//
// Scopes are not thread-safe; like the call stack they belong to one
// trace on one goroutine.
type TraceScope struct {
	name  string
	depth int
}

// Name returns the name the scope was registered under.
func (s *TraceScope) Name() string { return s.name }

// TryEnter enters the scope and reports whether this entry is the
// outermost one. Nested entries return false but are still counted,
// so every TryEnter must be paired with a CanLeave/Leave.
func (s *TraceScope) TryEnter() bool {
	s.depth++
	return s.depth == 1
}

// CanLeave reports whether the caller is the outermost holder. Nested
// holders are unwound as a side effect, mirroring TryEnter's counting.
func (s *TraceScope) CanLeave() bool {
	if s.depth == 1 {
		return true
	}
	if s.depth > 1 {
		s.depth--
	}
	return false
}

// Leave exits the outermost entry. Leaving an inactive scope is a
// no-op rather than a failure.
func (s *TraceScope) Leave() {
	if s.depth > 0 {
		s.depth--
	}
}

// Active reports whether any entry is currently held.
func (s *TraceScope) Active() bool { return s.depth > 0 }

// Depth returns the current reentrancy depth.
func (s *TraceScope) Depth() int { return s.depth }

// scopePool is the per-trace registry of scopes, keyed by name.
// The map is allocated lazily: most traces never touch a scope.
type scopePool struct {
	scopes map[string]*TraceScope
}

// add returns the scope registered under name, creating and
// registering one first if absent (idempotent get-or-create).
func (p *scopePool) add(name string) *TraceScope {
	if scope, ok := p.scopes[name]; ok {
		return scope
	}
	if p.scopes == nil {
		p.scopes = make(map[string]*TraceScope)
	}
	scope := &TraceScope{name: name}
	p.scopes[name] = scope
	return scope
}

// get is a pure lookup; it never creates.
func (p *scopePool) get(name string) (*TraceScope, bool) {
	scope, ok := p.scopes[name]
	return scope, ok
}
