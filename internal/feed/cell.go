package feed

import "sync"

// Cell holds the latest value of one topic. It has a single writer and any
// number of readers; Set replaces the value before subscribers are called,
// so a subscriber never sees a partial update.
type Cell[T any] struct {
	mu     sync.RWMutex
	value  T
	set    bool
	nextID int
	subs   map[int]func(T)
}

func NewCell[T any]() *Cell[T] {
	return &Cell[T]{subs: make(map[int]func(T))}
}

// Latest returns the current value and whether one has arrived yet.
func (c *Cell[T]) Latest() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.set
}

// Get returns the current value or the zero value.
func (c *Cell[T]) Get() T {
	v, _ := c.Latest()
	return v
}

// Set replaces the value, then notifies subscribers in registration order.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	c.value = v
	c.set = true
	subs := c.snapshotSubs()
	c.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Subscribe registers fn for future updates and returns a function that
// removes it.
func (c *Cell[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Cell[T]) snapshotSubs() []func(T) {
	out := make([]func(T), 0, len(c.subs))
	for id := 0; id < c.nextID; id++ {
		if fn, ok := c.subs[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
