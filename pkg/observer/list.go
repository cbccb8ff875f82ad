// Package observer keeps ordered callback lists.
package observer

import "sync"

// List is a set of callbacks invoked in registration order. Registration and
// notification may happen from different goroutines.
type List[T any] struct {
	mu    sync.RWMutex
	next  uint64
	items []entry[T]
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Add registers fn and returns a function that removes it. Nil callbacks are
// ignored.
func (l *List[T]) Add(fn func(T)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	l.next++
	id := l.next
	l.items = append(l.items, entry[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *List[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.items {
		if e.id == id {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered callbacks.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Notify calls every callback with v on the calling goroutine. The list lock
// is not held while callbacks run. It reports whether any callback ran.
func (l *List[T]) Notify(v T) bool {
	l.mu.RLock()
	fns := make([]func(T), len(l.items))
	for i, e := range l.items {
		fns[i] = e.fn
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
	return len(fns) > 0
}
