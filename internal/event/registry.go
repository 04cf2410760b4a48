// Package event provides typed handler registration used for capture and session notifications.
package event

import "sync"

// Registry holds handlers for one notification kind. It is safe for concurrent use.
//
// Emit calls handlers outside the lock, so a handler may cancel its own
// registration (or any other) while it is being delivered.
type Registry[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]func(T)
	order    []uint64
}

// Add registers fn and returns a function that removes it. The returned
// function is idempotent.
func (r *Registry[T]) Add(fn func(T)) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers == nil {
		r.handlers = make(map[uint64]func(T))
	}
	r.nextID++
	id := r.nextID
	r.handlers[id] = fn
	r.order = append(r.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Emit delivers v to every registered handler in registration order.
func (r *Registry[T]) Emit(v T) {
	for _, fn := range r.snapshot() {
		fn(v)
	}
}

// Len returns the number of registered handlers.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Clear removes all handlers.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = nil
	r.order = nil
}

func (r *Registry[T]) snapshot() []func(T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return nil
	}
	fns := make([]func(T), 0, len(r.order))
	for _, id := range r.order {
		fns = append(fns, r.handlers[id])
	}
	return fns
}
