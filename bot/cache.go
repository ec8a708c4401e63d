package bot

import (
	"sync"
)

// LimitedSizeMap is a bounded associative container with FIFO eviction.
//
// When an insert pushes the size past the configured capacity, the single
// oldest surviving entry (by insertion order, not access order) is evicted
// silently. Overwriting an existing key does not refresh its position in
// the eviction order.
//
// All methods are safe for concurrent use.
type LimitedSizeMap[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[K]V
	order    []K
	onEvict  func(K)
}

// NewLimitedSizeMap creates a LimitedSizeMap holding at most capacity
// entries. Panics if capacity is less than 1.
func NewLimitedSizeMap[K comparable, V any](capacity int) *LimitedSizeMap[K, V] {
	if capacity < 1 {
		panic("limited size map capacity must be at least 1")
	}
	return &LimitedSizeMap[K, V]{
		capacity: capacity,
		entries:  make(map[K]V, capacity),
		order:    make([]K, 0, capacity),
	}
}

// OnEvict registers fn to be called with each key Set evicts to make
// room. The callback runs outside the map's lock, so it may call back
// into the map. Keys removed via Delete do not trigger it.
func (m *LimitedSizeMap[K, V]) OnEvict(fn func(K)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = fn
}

// Set inserts or overwrites the value for key, evicting the oldest entry
// if the map would otherwise exceed its capacity.
func (m *LimitedSizeMap[K, V]) Set(key K, value V) {
	m.mu.Lock()

	if _, exists := m.entries[key]; exists {
		m.entries[key] = value
		m.mu.Unlock()
		return
	}
	m.entries[key] = value
	m.order = append(m.order, key)

	var evicted []K
	for len(m.entries) > m.capacity {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.entries, oldest)
		evicted = append(evicted, oldest)
	}
	onEvict := m.onEvict
	m.mu.Unlock()

	if onEvict != nil {
		for _, key := range evicted {
			onEvict(key)
		}
	}
}

// Get returns the value for key, and whether the key was present.
func (m *LimitedSizeMap[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

// Has reports whether key is present (and not yet evicted).
func (m *LimitedSizeMap[K, V]) Has(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

// Delete removes key if present. Removing an absent key is a no-op.
// The key's eviction-order slot is released too, so a later re-insert
// of the same key joins the back of the queue.
func (m *LimitedSizeMap[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return
	}
	delete(m.entries, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Len returns the current number of live entries.
func (m *LimitedSizeMap[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
