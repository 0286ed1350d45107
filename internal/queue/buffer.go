package queue

import "sync"

// Buffer is a thread-safe ring buffer that doubles its capacity when it
// reaches 70% full, so producers never block on a slow consumer.
type Buffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int // read position
	tail   int // write position
	count  int
	cap    int
	closed bool

	received int64
	sent     int64
	resizes  int
}

// Stats describes buffer occupancy and throughput.
type Stats struct {
	Count    int
	Capacity int
	Received int64
	Sent     int64
	Resizes  int
}

// New creates a buffer with the given initial capacity.
func New[T any](initial int) *Buffer[T] {
	if initial < 1 {
		initial = 1
	}
	b := &Buffer[T]{
		items: make([]T, initial),
		cap:   initial,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push adds an item. Returns false if the buffer is closed.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.cap * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.items[b.tail] = item
	b.tail = (b.tail + 1) % b.cap
	b.count++
	b.received++

	b.cond.Signal()
	return true
}

// Pop removes and returns an item, blocking until one is available or
// the buffer is closed. The second return is false once the buffer is
// closed and drained.
func (b *Buffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// TryPop removes an item without blocking.
func (b *Buffer[T]) TryPop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// Drain removes up to max items (all items if max <= 0).
func (b *Buffer[T]) Drain(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}
	out := make([]T, n)
	for i := range out {
		out[i] = b.pop()
	}
	return out
}

// Close closes the buffer. Pending items remain readable; Push returns
// false afterwards.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns a snapshot of buffer statistics.
func (b *Buffer[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Count:    b.count,
		Capacity: b.cap,
		Received: b.received,
		Sent:     b.sent,
		Resizes:  b.resizes,
	}
}

// pop removes the head item. Lock must be held.
func (b *Buffer[T]) pop() T {
	item := b.items[b.head]
	var zero T
	b.items[b.head] = zero // release reference for GC
	b.head = (b.head + 1) % b.cap
	b.count--
	b.sent++
	return item
}

// grow doubles capacity. Lock must be held.
func (b *Buffer[T]) grow() {
	next := make([]T, b.cap*2)
	if b.count > 0 {
		if b.head < b.tail {
			copy(next, b.items[b.head:b.tail])
		} else {
			n := copy(next, b.items[b.head:])
			copy(next[n:], b.items[:b.tail])
		}
	}
	b.items = next
	b.head = 0
	b.tail = b.count
	b.cap *= 2
	b.resizes++
}
