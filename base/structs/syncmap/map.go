package syncmap

/**  泛型包装的sync.map，额外维护元素个数
  *  @author tryao
  *  @date 2022/08/03 17:12
**/

import (
	"sync"

	"go.uber.org/atomic"
)

// Map is a typed sync.Map with an O(1) Size.
// Size is exact only when every mutation goes through this wrapper.
// The zero Map is empty and ready for use. A Map must not be copied after first use.
type Map[K comparable, V any] struct {
	inner sync.Map
	size  atomic.Int64
}

// Delete deletes the value for a key.
func (m *Map[K, V]) Delete(key K) {
	m.LoadAndDelete(key)
}

// Load returns the value stored in the map for a key.
func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	val, ok := m.inner.Load(key)
	if ok {
		return val.(V), ok
	}
	return value, ok
}

// LoadAndDelete deletes the value for a key, returning the previous value if any.
func (m *Map[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	val, loaded := m.inner.LoadAndDelete(key)
	if loaded {
		m.size.Dec()
		return val.(V), loaded
	}
	return value, loaded
}

// LoadOrStore returns the existing value for the key if present.
// Otherwise, it stores and returns the given value. The loaded result is true if the value was loaded.
func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	val, loaded := m.inner.LoadOrStore(key, value)
	if !loaded {
		m.size.Inc()
	}
	return val.(V), loaded
}

// CompareAndDelete deletes the entry for key only if it is currently mapped to old.
// V must be comparable at runtime.
func (m *Map[K, V]) CompareAndDelete(key K, old V) bool {
	if m.inner.CompareAndDelete(key, old) {
		m.size.Dec()
		return true
	}
	return false
}

// Range calls f sequentially for each key and value present in the map.
// If f returns false, range stops the iteration.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.inner.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

// Values returns a snapshot of all values.
func (m *Map[K, V]) Values() []V {
	r := make([]V, 0, m.Size())
	m.Range(func(_ K, v V) bool {
		r = append(r, v)
		return true
	})
	return r
}

func (m *Map[K, V]) Size() int {
	return int(m.size.Load())
}
