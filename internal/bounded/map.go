// Package bounded provides a capacity-limited, insertion-ordered map.
package bounded

import "container/list"

// Map is an insertion-ordered map that evicts its oldest entries once it grows
// past capacity. A capacity of zero or less disables eviction.
//
// Map is not safe for concurrent use.
type Map[K comparable, V any] struct {
	capacity int
	order    *list.List
	index    map[K]*list.Element
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a map holding at most capacity entries.
func New[K comparable, V any](capacity int) *Map[K, V] {
	return &Map[K, V]{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[K]*list.Element),
	}
}

// Capacity returns the configured cap.
func (m *Map[K, V]) Capacity() int {
	return m.capacity
}

// Set inserts or overwrites key. An overwritten key becomes the newest entry.
// It returns the keys evicted to keep the map within capacity.
func (m *Map[K, V]) Set(key K, value V) []K {
	if el, ok := m.index[key]; ok {
		el.Value = entry[K, V]{key: key, value: value}
		m.order.MoveToBack(el)
	} else {
		m.index[key] = m.order.PushBack(entry[K, V]{key: key, value: value})
	}
	if m.capacity <= 0 {
		return nil
	}
	return m.evict(m.capacity)
}

// Get returns the value stored for key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	el, ok := m.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(entry[K, V]).value, true
}

// Has reports whether key is present.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.index[key]
	return ok
}

// Delete removes key and reports whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	el, ok := m.index[key]
	if !ok {
		return false
	}
	m.order.Remove(el)
	delete(m.index, key)
	return true
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	return m.order.Len()
}

// Keys returns keys ordered oldest to newest.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(entry[K, V]).key)
	}
	return keys
}

// Values returns values ordered oldest to newest.
func (m *Map[K, V]) Values() []V {
	values := make([]V, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		values = append(values, el.Value.(entry[K, V]).value)
	}
	return values
}

// Oldest returns the oldest entry.
func (m *Map[K, V]) Oldest() (K, V, bool) {
	return unpack[K, V](m.order.Front())
}

// Newest returns the most recently inserted entry.
func (m *Map[K, V]) Newest() (K, V, bool) {
	return unpack[K, V](m.order.Back())
}

// Range calls fn for every entry from oldest to newest until fn returns false.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for el := m.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(entry[K, V])
		if !fn(e.key, e.value) {
			return
		}
	}
}

// Trim evicts oldest entries until at most max remain and returns how many were evicted.
func (m *Map[K, V]) Trim(max int) int {
	if max < 0 {
		max = 0
	}
	return len(m.evict(max))
}

// Clone returns a shallow copy with the same capacity and ordering.
func (m *Map[K, V]) Clone() *Map[K, V] {
	out := New[K, V](m.capacity)
	m.Range(func(key K, value V) bool {
		out.index[key] = out.order.PushBack(entry[K, V]{key: key, value: value})
		return true
	})
	return out
}

func (m *Map[K, V]) evict(max int) []K {
	var evicted []K
	for m.order.Len() > max {
		front := m.order.Front()
		e := front.Value.(entry[K, V])
		m.order.Remove(front)
		delete(m.index, e.key)
		evicted = append(evicted, e.key)
	}
	return evicted
}

func unpack[K comparable, V any](el *list.Element) (K, V, bool) {
	if el == nil {
		var (
			zeroK K
			zeroV V
		)
		return zeroK, zeroV, false
	}
	e := el.Value.(entry[K, V])
	return e.key, e.value, true
}
