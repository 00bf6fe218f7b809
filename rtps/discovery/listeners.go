package discovery

import "sync"

// listeners is a set of callbacks keyed by registration handle.
type listeners[T any] struct {
	mu   sync.RWMutex
	fns  map[int]func(T)
	hndl int
}

func (l *listeners[T]) add(fn func(T)) (cancel func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	hndl := l.hndl
	l.fns[hndl] = fn
	l.hndl++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, hndl)
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.RLock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}
