package terminal

// LimitQueue is a bounded FIFO. Pushing beyond capacity evicts the oldest
// element and invokes the eviction callback with it, if one is set.
type LimitQueue[T any] struct {
	items    []T
	capacity int
	onEvict  func(T)
}

// NewLimitQueue creates a queue holding at most capacity elements.
func NewLimitQueue[T any](capacity int) *LimitQueue[T] {
	return &LimitQueue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// OnEvict registers a callback invoked with each evicted element.
func (q *LimitQueue[T]) OnEvict(fn func(T)) {
	q.onEvict = fn
}

// Push appends an element, evicting the oldest when full.
func (q *LimitQueue[T]) Push(item T) {
	if len(q.items) >= q.capacity {
		evicted := q.items[0]
		q.items = q.items[1:]
		if q.onEvict != nil {
			q.onEvict(evicted)
		}
	}
	q.items = append(q.items, item)
}

// Snapshot returns a copy of the current contents, oldest first.
func (q *LimitQueue[T]) Snapshot() []T {
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of queued elements.
func (q *LimitQueue[T]) Len() int {
	return len(q.items)
}

// Clear removes all elements without invoking the eviction callback.
func (q *LimitQueue[T]) Clear() {
	q.items = q.items[:0]
}
